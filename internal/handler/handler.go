// Package handler содержит HTTP-обработчики API консоли онбординга.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/hive-onboarder/internal/auth"
	"github.com/mmeshcher/hive-onboarder/internal/middleware"
	"github.com/mmeshcher/hive-onboarder/internal/model"
	"github.com/mmeshcher/hive-onboarder/internal/onboarding"
	"github.com/mmeshcher/hive-onboarder/internal/service"
	"github.com/mmeshcher/hive-onboarder/internal/signer"
	"github.com/mmeshcher/hive-onboarder/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Login(ctx context.Context, account string) (model.Session, error)
	Restore(ctx context.Context, operator string) (model.Session, error)
	Logout(ctx context.Context, operator string) error
	ResolveMember(ctx context.Context, operator, account string) (model.Membership, error)
	RecentAccounts(ctx context.Context, operator string) ([]string, error)
	ListOnboardings(ctx context.Context, operator string) ([]model.OnboardingRecord, error)
	StartOnboarding(ctx context.Context, operator, account string) (onboarding.Snapshot, error)
	GetOnboarding(ctx context.Context, operator, id string) (onboarding.Snapshot, error)
	TransferStep(ctx context.Context, operator, id string) (onboarding.Snapshot, error)
	CommentStep(ctx context.Context, operator, id string, in onboarding.CommentInput) (onboarding.Snapshot, error)
	CancelOnboarding(ctx context.Context, operator, id string) error
}

// SignerBridge принимает websocket-подключение кошелька аутентифицированного оператора.
type SignerBridge interface {
	Serve(w http.ResponseWriter, r *http.Request, account string)
}

// Handler реализует HTTP-обработчики API консоли онбординга.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	signer         SignerBridge
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, signerBridge SignerBridge) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		signer:         signerBridge,
	}
}

type accountRequest struct {
	Account string `json:"account"`
}

type sessionResponse struct {
	Account string `json:"account"`
	Role    string `json:"role"`
}

type errorResponse struct {
	Error string               `json:"error"`
	Run   *onboarding.Snapshot `json:"run,omitempty"`
}

// Login проводит вход оператора через подпись challenge кошельком и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	session, err := h.service.Login(r.Context(), req.Account)
	if err != nil {
		h.writeError(w, "login", err, nil)
		return
	}

	h.authMiddleware.SetAuthCookie(w, session.Account)
	writeJSON(w, http.StatusOK, sessionResponse{Account: session.Account, Role: session.Role})
}

// Signer подключает кошелёк оператора из cookie.
func (h *Handler) Signer(w http.ResponseWriter, r *http.Request) {
	operator, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.signer.Serve(w, r, operator)
}

// Logout удаляет токен оператора и его cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	operator, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.Logout(r.Context(), operator); err != nil {
		h.logger.Error("logout error", zap.Error(err), zap.String("operator", operator))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

// Session проверяет сохранённую сессию оператора в бэкенде.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	operator, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	session, err := h.service.Restore(r.Context(), operator)
	if err != nil {
		h.writeError(w, "restore session", err, nil)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Account: session.Account, Role: session.Role})
}

type membershipResponse struct {
	Account string                  `json:"account"`
	Status  model.MembershipStatus  `json:"status"`
	Source  model.MembershipSource  `json:"source,omitempty"`
	Record  *model.OnboardingRecord `json:"record,omitempty"`
	Reason  string                  `json:"reason,omitempty"`
	Resume  bool                    `json:"resume"`
}

// Member возвращает статус членства аккаунта.
func (h *Handler) Member(w http.ResponseWriter, r *http.Request) {
	operator, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	m, err := h.service.ResolveMember(r.Context(), operator, chi.URLParam(r, "account"))
	if err != nil {
		h.writeError(w, "resolve member", err, nil)
		return
	}

	writeJSON(w, http.StatusOK, membershipResponse{
		Account: m.Account,
		Status:  m.Status,
		Source:  m.Source,
		Record:  m.Record,
		Reason:  m.Reason,
		Resume:  m.Resume(),
	})
}

// RecentAccounts возвращает последние проверенные оператором аккаунты.
func (h *Handler) RecentAccounts(w http.ResponseWriter, r *http.Request) {
	operator, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	accounts, err := h.service.RecentAccounts(r.Context(), operator)
	if err != nil {
		h.logger.Error("get recent accounts error", zap.Error(err), zap.String("operator", operator))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(accounts) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, accounts)
}

type onboardingResponse struct {
	Onboarder       string `json:"onboarder"`
	Onboarded       string `json:"onboarded"`
	Amount          string `json:"amount"`
	Memo            string `json:"memo"`
	CommentPermlink string `json:"comment_permlink,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// ListOnboardings возвращает все записи об онбординге из бэкенда.
func (h *Handler) ListOnboardings(w http.ResponseWriter, r *http.Request) {
	operator, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	records, err := h.service.ListOnboardings(r.Context(), operator)
	if err != nil {
		h.writeError(w, "list onboardings", err, nil)
		return
	}

	if len(records) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]onboardingResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, onboardingResponse{
			Onboarder:       rec.Onboarder,
			Onboarded:       rec.Onboarded,
			Amount:          rec.Amount,
			Memo:            rec.Memo,
			CommentPermlink: rec.CommentPermlink,
			CreatedAt:       rec.CreatedAt().UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// StartOnboarding запускает мастер онбординга для аккаунта.
func (h *Handler) StartOnboarding(w http.ResponseWriter, r *http.Request) {
	operator, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	snap, err := h.service.StartOnboarding(r.Context(), operator, req.Account)
	if err != nil {
		h.writeError(w, "start onboarding", err, nil)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// GetOnboarding возвращает состояние мастера.
func (h *Handler) GetOnboarding(w http.ResponseWriter, r *http.Request) {
	operator, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	snap, err := h.service.GetOnboarding(r.Context(), operator, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get onboarding", err, nil)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// Transfer выполняет шаг перевода.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	operator, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	snap, err := h.service.TransferStep(r.Context(), operator, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "transfer step", err, &snap)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// Comment выполняет шаг приветственного комментария.
func (h *Handler) Comment(w http.ResponseWriter, r *http.Request) {
	operator, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var in onboarding.CommentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	snap, err := h.service.CommentStep(r.Context(), operator, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, "comment step", err, &snap)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// CancelOnboarding отменяет мастер.
func (h *Handler) CancelOnboarding(w http.ResponseWriter, r *http.Request) {
	operator, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.CancelOnboarding(r.Context(), operator, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, "cancel onboarding", err, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	var signerErr *signer.Error

	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrVerification):
		return http.StatusUnauthorized
	case errors.Is(err, validation.ErrInvalidAccount),
		errors.Is(err, onboarding.ErrSelfOnboarding),
		errors.Is(err, onboarding.ErrNoParentPost):
		return http.StatusBadRequest
	case errors.Is(err, onboarding.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, onboarding.ErrInvalidState),
		errors.Is(err, onboarding.ErrStepInProgress),
		errors.Is(err, onboarding.ErrCancelled),
		errors.Is(err, onboarding.ErrAlreadyOnboarded),
		errors.Is(err, onboarding.ErrRecordOwnedByAnother),
		errors.Is(err, service.ErrAlreadyMember):
		return http.StatusConflict
	case errors.Is(err, signer.ErrUnavailable), errors.Is(err, auth.ErrSignerUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &signerErr), errors.Is(err, auth.ErrSignerRefused):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrMembershipUnknown), errors.Is(err, auth.ErrChallenge):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error, snap *onboarding.Snapshot) {
	status := statusFor(err)

	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(status), status)
		return
	}

	if status == http.StatusUnauthorized {
		h.authMiddleware.ClearAuthCookie(w)
	}

	resp := errorResponse{Error: err.Error()}
	if snap != nil && snap.ID != "" {
		resp.Run = snap
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
