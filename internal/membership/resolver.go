// Package membership определяет, состоит ли аккаунт в сообществе.
//
// Внешний реестр авторитетен, но обновляется с задержкой в несколько часов,
// поэтому при ответе 404 проверяются записи бэкенда, созданные этой консолью.
package membership

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/hive-onboarder/internal/model"
)

// Registry описывает внешний реестр участников.
type Registry interface {
	Lookup(ctx context.Context, username string) (int, error)
}

// Records описывает хранилище записей об онбординге в бэкенде.
type Records interface {
	OnboardedBy(ctx context.Context, token, username string) ([]model.OnboardingRecord, error)
}

// Resolver проверяет членство сначала в реестре, затем в бэкенде.
type Resolver struct {
	registry Registry
	records  Records
	logger   *zap.Logger
}

// NewResolver создаёт Resolver.
func NewResolver(registry Registry, records Records, logger *zap.Logger) *Resolver {
	return &Resolver{
		registry: registry,
		records:  records,
		logger:   logger,
	}
}

// Resolve возвращает статус членства аккаунта. Ошибки не возвращаются отдельно:
// любая неудача, кроме "не найден", даёт MembershipUnknown с причиной.
func (r *Resolver) Resolve(ctx context.Context, account, token string) model.Membership {
	res := model.Membership{Account: account, Status: model.MembershipUnknown}

	code, err := r.registry.Lookup(ctx, account)
	switch {
	case err == nil && code == http.StatusOK:
		res.Status = model.MembershipMember
		res.Source = model.SourceRegistry
		return res
	case err == nil && code == http.StatusNotFound:
	case err != nil:
		r.logger.Warn("registry lookup failed", zap.String("account", account), zap.Error(err))
		res.Source = model.SourceRegistry
		res.Reason = fmt.Sprintf("registry lookup failed: %v", err)
		return res
	default:
		res.Source = model.SourceRegistry
		res.Reason = fmt.Sprintf("registry returned status %d", code)
		return res
	}

	records, err := r.records.OnboardedBy(ctx, token, account)
	res.Source = model.SourceBackend
	if err != nil {
		r.logger.Warn("backend lookup failed", zap.String("account", account), zap.Error(err))
		res.Reason = fmt.Sprintf("backend lookup failed: %v", err)
		return res
	}

	if len(records) == 0 {
		res.Status = model.MembershipNotMember
		return res
	}

	rec := records[0]
	res.Status = model.MembershipMember
	res.Record = &rec
	return res
}
