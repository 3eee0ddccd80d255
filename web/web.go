// Package web provides the JSON HTTP surface: the payment webhook,
// account and ledger queries, referral redemption, and operator
// reconciliation listing.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/torresproject/creditd/adapters/metrics"
	"github.com/torresproject/creditd/app"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// HealthChecker reports whether the storage backend is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler provides the HTTP endpoints.
type Handler struct {
	settlements   *app.SettlementService
	consumption   *app.ConsumptionService
	ledger        *app.LedgerService
	referrals     *app.ReferralService
	accounts      *app.AccountService
	recon         *app.ReconciliationService
	health        HealthChecker
	webhookSecret string
	metrics       *metrics.Collector
	logger        zerolog.Logger
}

// Deps contains dependencies for the web handler.
type Deps struct {
	Settlements    *app.SettlementService
	Consumption    *app.ConsumptionService
	Ledger         *app.LedgerService
	Referrals      *app.ReferralService
	Accounts       *app.AccountService
	Reconciliation *app.ReconciliationService
	Health         HealthChecker
	WebhookSecret  string
	Metrics        *metrics.Collector
	Logger         zerolog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		settlements:   deps.Settlements,
		consumption:   deps.Consumption,
		ledger:        deps.Ledger,
		referrals:     deps.Referrals,
		accounts:      deps.Accounts,
		recon:         deps.Reconciliation,
		health:        deps.Health,
		webhookSecret: deps.WebhookSecret,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
	}
}

// RouterConfig holds optional router configuration.
type RouterConfig struct {
	MetricsHandler http.Handler // mounted at MetricsPath when set
	MetricsPath    string       // default /metrics
}

// Router returns the service router.
func (h *Handler) Router(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newLoggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.Liveness)
	r.Get("/health/live", h.Liveness)
	r.Get("/health/ready", h.Readiness)
	r.Get("/version", h.VersionInfo)

	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsHandler)
	}

	r.Post("/webhooks/payment", h.PaymentWebhook)

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.RegisterAccount)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetAccount)
			r.Get("/balance", h.Balance)
			r.Get("/history", h.History)
			r.Get("/referral", h.ReferralStats)
			r.Post("/referral/redeem", h.RedeemReferral)
			r.Post("/consume", h.Consume)
		})
	})

	r.Get("/reconciliation", h.ReconciliationList)

	return r
}

// MetricsHandler returns the default Prometheus exposition handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Liveness reports that the process is up.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness reports whether storage is reachable.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.health != nil {
		if err := h.health.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VersionInfo returns the service version.
func (h *Handler) VersionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "creditd",
		"version": Version,
	})
}

// newLoggingMiddleware logs one line per request.
func newLoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
