// Package service реализует бизнес-логику консоли онбординга.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/hive-onboarder/internal/auth"
	"github.com/mmeshcher/hive-onboarder/internal/backend"
	"github.com/mmeshcher/hive-onboarder/internal/model"
	"github.com/mmeshcher/hive-onboarder/internal/onboarding"
	"github.com/mmeshcher/hive-onboarder/internal/validation"
)

const (
	reconcileInterval  = 30 * time.Second
	reconcileBatchSize = 50
)

var (
	// ErrMembershipUnknown возвращается, если членство не удалось определить.
	ErrMembershipUnknown = errors.New("membership could not be determined")
	// ErrAlreadyMember возвращается при попытке онбординга участника реестра.
	ErrAlreadyMember = errors.New("account is already a member")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	TouchRecentAccount(ctx context.Context, operator, account string) error
	RecentAccounts(ctx context.Context, operator string) ([]string, error)
	PendingRecords(ctx context.Context, limit int) ([]model.PendingRecord, error)
	DeletePending(ctx context.Context, id int64) error
	MarkPendingFailed(ctx context.Context, id int64, cause string) error
}

// Backend описывает операции бэкенда, которые сервис вызывает напрямую.
type Backend interface {
	All(ctx context.Context, token string) ([]model.OnboardingRecord, error)
	AddRecord(ctx context.Context, token string, rec model.OnboardingRecord) (*model.OnboardingRecord, error)
	AttachComment(ctx context.Context, token, onboarder, onboarded, permlink string) error
}

// Auth описывает управление сессиями операторов.
type Auth interface {
	Login(ctx context.Context, account string) (model.Session, error)
	Restore(ctx context.Context, account string) (model.Session, error)
	Session(ctx context.Context, account string) (model.Session, error)
	Logout(ctx context.Context, account string) error
	Invalidate(ctx context.Context, account string, cause error)
}

// Resolver определяет статус членства аккаунта.
type Resolver interface {
	Resolve(ctx context.Context, account, token string) model.Membership
}

// Wizard управляет мастерами онбординга.
type Wizard interface {
	Start(ctx context.Context, onboarder, onboarded string, rec *model.OnboardingRecord) (onboarding.Snapshot, error)
	Get(id, onboarder string) (onboarding.Snapshot, error)
	Transfer(ctx context.Context, id string, session model.Session) (onboarding.Snapshot, error)
	Comment(ctx context.Context, id string, session model.Session, in onboarding.CommentInput) (onboarding.Snapshot, error)
	Cancel(id, onboarder string) error
}

// Service содержит бизнес-логику консоли онбординга.
type Service struct {
	repo     Repository
	backend  Backend
	auth     Auth
	resolver Resolver
	wizard   Wizard
	logger   *zap.Logger
}

// NewService создаёт новый сервис.
func NewService(repo Repository, b Backend, a Auth, resolver Resolver, wizard Wizard, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		backend:  b,
		auth:     a,
		resolver: resolver,
		wizard:   wizard,
		logger:   logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Login выполняет вход оператора.
func (s *Service) Login(ctx context.Context, account string) (model.Session, error) {
	account, err := validation.NormalizeAccount(account)
	if err != nil {
		return model.Session{}, err
	}
	return s.auth.Login(ctx, account)
}

// Restore проверяет сохранённую сессию оператора в бэкенде.
func (s *Service) Restore(ctx context.Context, operator string) (model.Session, error) {
	return s.auth.Restore(ctx, operator)
}

// Logout завершает сессию оператора.
func (s *Service) Logout(ctx context.Context, operator string) error {
	return s.auth.Logout(ctx, operator)
}

// ResolveMember проверяет членство аккаунта и запоминает его в списке последних.
func (s *Service) ResolveMember(ctx context.Context, operator, account string) (model.Membership, error) {
	account, err := validation.NormalizeAccount(account)
	if err != nil {
		return model.Membership{}, err
	}

	// Токен нужен только второму уровню проверки; без него бэкенд даст Unknown.
	session, err := s.auth.Session(ctx, operator)
	if err != nil && !errors.Is(err, auth.ErrUnauthenticated) {
		return model.Membership{}, err
	}

	if err := s.repo.TouchRecentAccount(ctx, operator, account); err != nil {
		s.logger.Warn("remember recent account failed", zap.String("operator", operator), zap.Error(err))
	}

	return s.resolver.Resolve(ctx, account, session.Token), nil
}

// RecentAccounts возвращает последние проверенные оператором аккаунты.
func (s *Service) RecentAccounts(ctx context.Context, operator string) ([]string, error) {
	return s.repo.RecentAccounts(ctx, operator)
}

// ListOnboardings возвращает все записи об онбординге. Отказ бэкенда принять
// токен завершает сессию оператора.
func (s *Service) ListOnboardings(ctx context.Context, operator string) ([]model.OnboardingRecord, error) {
	session, err := s.auth.Session(ctx, operator)
	if err != nil {
		return nil, err
	}

	records, err := s.backend.All(ctx, session.Token)
	if backend.IsStatus(err, http.StatusUnauthorized) {
		s.auth.Invalidate(ctx, operator, err)
		return nil, fmt.Errorf("%w: %w", auth.ErrUnauthenticated, err)
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

// StartOnboarding проверяет членство аккаунта и запускает мастер: с нуля для
// не участника или с шага комментария при наличии незавершённой записи.
func (s *Service) StartOnboarding(ctx context.Context, operator, account string) (onboarding.Snapshot, error) {
	m, err := s.ResolveMember(ctx, operator, account)
	if err != nil {
		return onboarding.Snapshot{}, err
	}

	switch {
	case m.Status == model.MembershipUnknown:
		return onboarding.Snapshot{}, fmt.Errorf("%w: %s", ErrMembershipUnknown, m.Reason)
	case m.Status == model.MembershipNotMember:
		return s.wizard.Start(ctx, operator, m.Account, nil)
	case m.Resume():
		return s.wizard.Start(ctx, operator, m.Account, m.Record)
	case m.Record != nil:
		return onboarding.Snapshot{}, onboarding.ErrAlreadyOnboarded
	default:
		return onboarding.Snapshot{}, ErrAlreadyMember
	}
}

// GetOnboarding возвращает состояние мастера оператора.
func (s *Service) GetOnboarding(ctx context.Context, operator, id string) (onboarding.Snapshot, error) {
	return s.wizard.Get(id, operator)
}

// TransferStep выполняет шаг перевода.
func (s *Service) TransferStep(ctx context.Context, operator, id string) (onboarding.Snapshot, error) {
	session, err := s.auth.Session(ctx, operator)
	if err != nil {
		return onboarding.Snapshot{}, err
	}
	return s.wizard.Transfer(ctx, id, session)
}

// CommentStep выполняет шаг приветственного комментария.
func (s *Service) CommentStep(ctx context.Context, operator, id string, in onboarding.CommentInput) (onboarding.Snapshot, error) {
	session, err := s.auth.Session(ctx, operator)
	if err != nil {
		return onboarding.Snapshot{}, err
	}
	return s.wizard.Comment(ctx, id, session, in)
}

// CancelOnboarding отменяет мастер.
func (s *Service) CancelOnboarding(ctx context.Context, operator, id string) error {
	return s.wizard.Cancel(id, operator)
}

// StartReconciliation запускает фоновую досылку записей, которые не удалось
// сохранить в бэкенде после действия в блокчейне.
func (s *Service) StartReconciliation(ctx context.Context) {
	if s.repo == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processPendingBatch(ctx)
			}
		}
	}()
}

func (s *Service) processPendingBatch(ctx context.Context) {
	pending, err := s.repo.PendingRecords(ctx, reconcileBatchSize)
	if err != nil {
		s.logger.Warn("load pending records failed", zap.Error(err))
		return
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}

		err := s.replay(ctx, p)
		if err == nil {
			if err := s.repo.DeletePending(ctx, p.ID); err != nil {
				s.logger.Warn("delete pending record failed", zap.Int64("id", p.ID), zap.Error(err))
			}
			s.logger.Info("pending record reconciled",
				zap.Int64("id", p.ID),
				zap.String("kind", string(p.Kind)),
				zap.String("onboarded", p.Record.Onboarded),
			)
			continue
		}

		s.logger.Warn("pending record replay failed",
			zap.Int64("id", p.ID),
			zap.Int("attempts", p.Attempts+1),
			zap.Error(err),
		)
		if err := s.repo.MarkPendingFailed(ctx, p.ID, err.Error()); err != nil {
			s.logger.Warn("mark pending record failed", zap.Int64("id", p.ID), zap.Error(err))
		}
	}
}

func (s *Service) replay(ctx context.Context, p model.PendingRecord) error {
	session, err := s.auth.Session(ctx, p.Record.Onboarder)
	if err != nil {
		return err
	}

	switch p.Kind {
	case model.PendingAdd:
		_, err = s.backend.AddRecord(ctx, session.Token, p.Record)
	case model.PendingEdit:
		err = s.backend.AttachComment(ctx, session.Token, p.Record.Onboarder, p.Record.Onboarded, p.Record.CommentPermlink)
	default:
		return fmt.Errorf("unknown pending kind %q", p.Kind)
	}

	if backend.IsStatus(err, http.StatusUnauthorized) {
		s.auth.Invalidate(ctx, p.Record.Onboarder, err)
	}
	return err
}
