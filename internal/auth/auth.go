// Package auth реализует вход оператора по схеме challenge/подпись и
// жизненный цикл его сессии. Приватный ключ остаётся в кошельке: консоль
// видит только challenge и готовую подпись.
package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/hive-onboarder/internal/backend"
	"github.com/mmeshcher/hive-onboarder/internal/model"
	"github.com/mmeshcher/hive-onboarder/internal/repository"
	"github.com/mmeshcher/hive-onboarder/internal/signer"
)

var (
	// ErrChallenge возвращается, если бэкенд не выдал challenge.
	ErrChallenge = errors.New("failed to obtain login challenge")
	// ErrSignerRefused возвращается, если кошелёк отказался подписывать challenge.
	ErrSignerRefused = errors.New("signer refused to sign challenge")
	// ErrSignerUnavailable возвращается, если кошелёк оператора не подключён.
	ErrSignerUnavailable = errors.New("signer is not connected")
	// ErrVerification возвращается, если бэкенд отклонил подпись.
	ErrVerification = errors.New("signature verification failed")
	// ErrUnauthenticated возвращается, если у оператора нет действующей сессии.
	ErrUnauthenticated = errors.New("not authenticated")
)

// Backend описывает эндпоинты аутентификации бэкенда.
type Backend interface {
	Challenge(ctx context.Context, username string) (string, error)
	Verify(ctx context.Context, username, signature string) (*backend.Profile, error)
	ValidateToken(ctx context.Context, token string) (*backend.Profile, error)
}

// TokenStore хранит один bearer-токен на оператора.
type TokenStore interface {
	SaveToken(ctx context.Context, session model.Session) error
	LoadToken(ctx context.Context, account string) (*model.Session, error)
	DeleteToken(ctx context.Context, account string) error
}

// Manager управляет входом, восстановлением и завершением сессий операторов.
type Manager struct {
	backend Backend
	signer  signer.Signer
	store   TokenStore
	logger  *zap.Logger
}

// NewManager создаёт Manager.
func NewManager(b Backend, s signer.Signer, store TokenStore, logger *zap.Logger) *Manager {
	return &Manager{
		backend: b,
		signer:  s,
		store:   store,
		logger:  logger,
	}
}

// Login проводит обмен challenge/подпись и сохраняет полученный токен.
func (m *Manager) Login(ctx context.Context, account string) (model.Session, error) {
	challenge, err := m.backend.Challenge(ctx, account)
	if err != nil {
		m.logger.Warn("login challenge failed", zap.String("account", account), zap.Error(err))
		return model.Session{}, fmt.Errorf("%w: %w", ErrChallenge, err)
	}

	resp, err := signer.Await(ctx, m.signer, signer.Request{
		Kind:    signer.KindSignBuffer,
		Account: account,
		Message: challenge,
		KeyType: signer.KeyPosting,
	})
	if errors.Is(err, signer.ErrUnavailable) {
		return model.Session{}, ErrSignerUnavailable
	}
	if err != nil {
		m.logger.Info("login signature refused", zap.String("account", account), zap.Error(err))
		return model.Session{}, fmt.Errorf("%w: %w", ErrSignerRefused, err)
	}

	signature := resp.ResultString()
	if signature == "" {
		return model.Session{}, fmt.Errorf("%w: empty signature", ErrSignerRefused)
	}

	profile, err := m.backend.Verify(ctx, account, signature)
	if err != nil {
		m.logger.Warn("login verification failed", zap.String("account", account), zap.Error(err))
		return model.Session{}, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	session := model.Session{
		Account: account,
		Role:    profile.Role,
		Token:   profile.Token,
	}

	if err := m.store.SaveToken(ctx, session); err != nil {
		return model.Session{}, fmt.Errorf("save token: %w", err)
	}

	m.logger.Info("operator logged in", zap.String("account", account), zap.String("role", session.Role))
	return session, nil
}

// Restore проверяет сохранённый токен в бэкенде. Ответ с ошибкой удаляет
// токен: бэкенд — единственный источник истины о сессии.
func (m *Manager) Restore(ctx context.Context, account string) (model.Session, error) {
	stored, err := m.Session(ctx, account)
	if err != nil {
		return model.Session{}, err
	}

	profile, err := m.backend.ValidateToken(ctx, stored.Token)
	if err != nil {
		var httpErr *backend.HTTPError
		if errors.As(err, &httpErr) {
			m.Invalidate(ctx, account, err)
			return model.Session{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return model.Session{}, fmt.Errorf("validate token: %w", err)
	}

	if profile.Username != "" && profile.Username != account {
		m.Invalidate(ctx, account, fmt.Errorf("token belongs to %s", profile.Username))
		return model.Session{}, ErrUnauthenticated
	}

	session := model.Session{Account: account, Role: profile.Role, Token: stored.Token}
	if session.Role == "" {
		session.Role = stored.Role
	}
	if session.Role != stored.Role {
		if err := m.store.SaveToken(ctx, session); err != nil {
			m.logger.Warn("update stored role failed", zap.String("account", account), zap.Error(err))
		}
	}
	return session, nil
}

// Session возвращает сохранённую сессию без обращения к бэкенду.
func (m *Manager) Session(ctx context.Context, account string) (model.Session, error) {
	stored, err := m.store.LoadToken(ctx, account)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return model.Session{}, ErrUnauthenticated
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("load token: %w", err)
	}
	return *stored, nil
}

// Logout удаляет токен оператора.
func (m *Manager) Logout(ctx context.Context, account string) error {
	if err := m.store.DeleteToken(ctx, account); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	m.logger.Info("operator logged out", zap.String("account", account))
	return nil
}

// Invalidate принудительно завершает сессию после отказа бэкенда принять токен.
func (m *Manager) Invalidate(ctx context.Context, account string, cause error) {
	m.logger.Info("session invalidated", zap.String("account", account), zap.Error(cause))
	if err := m.store.DeleteToken(ctx, account); err != nil {
		m.logger.Error("delete invalidated token failed", zap.String("account", account), zap.Error(err))
	}
}
