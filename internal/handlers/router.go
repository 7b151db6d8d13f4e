package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"bizledger/internal/config"
	"bizledger/internal/db"
	"bizledger/internal/metrics"
	"bizledger/internal/middleware"
	"bizledger/internal/store"
	"bizledger/internal/websocket"
)

type Handler struct {
	cfg        config.Config
	txRunner   db.TxRunner
	users      UserStore
	admin      AdminStore
	audit      AuditStore
	ledger     LedgerService
	reconciler Reconciler
	hub        *websocket.Hub
	metrics    *metrics.Metrics
}

func New(cfg config.Config, txRunner db.TxRunner, users UserStore, admin AdminStore, audit AuditStore, ledger LedgerService, reconciler Reconciler, hub *websocket.Hub, m *metrics.Metrics) *Handler {
	return &Handler{
		cfg:        cfg,
		txRunner:   txRunner,
		users:      users,
		admin:      admin,
		audit:      audit,
		ledger:     ledger,
		reconciler: reconciler,
		hub:        hub,
		metrics:    m,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	if h.metrics != nil {
		router.Use(h.metrics.Middleware)
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authed := middleware.Auth(h.cfg.JWTSecret)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(authed).Get("/me", h.Me)
	})

	router.Route("/parties", func(r chi.Router) {
		r.Use(authed)
		r.Get("/", h.ListParties)
		r.Post("/", h.CreateParty)
		r.Get("/self-check", h.SelfCheck)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", h.DeleteParty)
			r.Post("/toggle-status", h.ToggleStatus)
			r.Get("/transactions", h.ListTransactions)
			r.Post("/transactions", h.RecordTransaction)
			r.Get("/reminder", h.Reminder)
		})
	})
	router.With(authed).Get("/summary", h.Summary)
	router.With(authed).Get("/ws/changes", h.Changes)

	router.Route("/admin", func(r chi.Router) {
		r.Use(authed)
		r.With(middleware.RequireAdmin(h.admin, store.RoleAuditor)).Get("/audit", h.ListAuditLogs)
		r.With(middleware.RequireAdmin(h.admin, store.RoleSuper)).Post("/reconcile", h.Reconcile)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		router.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
	return router
}
