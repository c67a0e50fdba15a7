package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/hive-onboarder/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware консоли онбординга.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	// websocket-мост живёт вне gzip: ему нужен исходный ResponseWriter для Hijack.
	if h.signer != nil {
		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/api/signer", h.Signer)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.Post("/api/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/api/auth/logout", h.Logout)
			r.Get("/api/auth/session", h.Session)

			r.Get("/api/members/{account}", h.Member)
			r.Get("/api/accounts/recent", h.RecentAccounts)

			r.Get("/api/onboardings", h.ListOnboardings)
			r.Post("/api/onboardings", h.StartOnboarding)
			r.Get("/api/onboardings/{id}", h.GetOnboarding)
			r.Delete("/api/onboardings/{id}", h.CancelOnboarding)
			r.Post("/api/onboardings/{id}/transfer", h.Transfer)
			r.Post("/api/onboardings/{id}/comment", h.Comment)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
