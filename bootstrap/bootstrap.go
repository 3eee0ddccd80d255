// Package bootstrap wires configuration, storage, services, and the
// HTTP server into a runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/torresproject/creditd/adapters/clock"
	"github.com/torresproject/creditd/adapters/gateway"
	"github.com/torresproject/creditd/adapters/idgen"
	"github.com/torresproject/creditd/adapters/memory"
	"github.com/torresproject/creditd/adapters/metrics"
	"github.com/torresproject/creditd/adapters/random"
	"github.com/torresproject/creditd/adapters/sqlite"
	"github.com/torresproject/creditd/app"
	"github.com/torresproject/creditd/config"
	"github.com/torresproject/creditd/domain/credit"
	"github.com/torresproject/creditd/domain/settlement"
	"github.com/torresproject/creditd/ports"
	"github.com/torresproject/creditd/web"
)

// App is the assembled application.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	DB         *sqlite.DB // nil when the memory driver is active
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	Settlements *app.SettlementService
	Consumption *app.ConsumptionService
	Ledger      *app.LedgerService
	Referrals   *app.ReferralService
	Accounts    *app.AccountService

	holder *config.Holder
}

// New assembles the application from a loaded configuration.
func New(cfg *config.Config) (*App, error) {
	return build(cfg, nil)
}

// NewWithHotReload assembles the application and watches the config
// file and SIGHUP for changes to the reloadable fields.
func NewWithHotReload(path string) (*App, error) {
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "json"})

	holder, err := config.NewHolder(path, logger)
	if err != nil {
		return nil, err
	}

	a, err := build(holder.Get(), holder)
	if err != nil {
		return nil, err
	}

	if err := holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable")
	}
	holder.WatchSignals()

	return a, nil
}

func build(cfg *config.Config, holder *config.Holder) (*App, error) {
	logger := newLogger(cfg.Logging)

	a := &App{
		Config: cfg,
		Logger: logger,
		holder: holder,
	}

	var (
		accounts ports.AccountStore
		entries  ports.LedgerStore
		codes    ports.ReferralStore
		events   ports.PaymentEventStore
		health   web.HealthChecker
	)

	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		a.DB = db
		accounts = sqlite.NewAccountStore(db)
		entries = sqlite.NewLedgerStore(db)
		codes = sqlite.NewReferralStore(db)
		events = sqlite.NewPaymentEventStore(db)
		health = dbHealth{db: db}
		logger.Info().Str("dsn", cfg.Database.DSN).Msg("sqlite storage ready")

	case "memory":
		accounts = memory.NewAccountStore()
		entries = memory.NewLedgerStore()
		codes = memory.NewReferralStore()
		events = memory.NewPaymentEventStore()
		logger.Warn().Msg("memory storage active, data will not survive restart")

	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Database.Driver)
	}

	orders, err := gateway.New(cfg.Gateway)
	if err != nil {
		return nil, fmt.Errorf("create order lookup: %w", err)
	}

	clk := clock.Real{}
	ids := idgen.UUID{}
	rnd := random.Real{}
	m := metrics.New()
	a.Metrics = m

	policy := credit.Policy{
		PurchaseDays:      cfg.Credit.PurchaseExpiryDays,
		ReferralBonusDays: cfg.Credit.ReferralBonusExpiryDays,
	}

	a.Referrals = app.NewReferralService(
		codes, accounts, entries, policy, rnd, clk, ids, m,
		logger.With().Str("service", "referral").Logger(),
	)
	a.Settlements = app.NewSettlementService(
		events, entries, accounts, orders, a.Referrals,
		packTable(cfg.Packs), cfg.Settlement.OperatorEmails,
		policy, clk, ids, m,
		logger.With().Str("service", "settlement").Logger(),
	)
	a.Consumption = app.NewConsumptionService(
		accounts, entries, clk, ids, m,
		logger.With().Str("service", "consumption").Logger(),
	)
	a.Ledger = app.NewLedgerService(
		accounts, entries, clk,
		logger.With().Str("service", "ledger").Logger(),
	)
	a.Accounts = app.NewAccountService(
		accounts, entries, policy, cfg.Settlement.SignupBonusCredits, clk, ids, m,
		logger.With().Str("service", "account").Logger(),
	)
	recon := app.NewReconciliationService(
		events,
		logger.With().Str("service", "reconciliation").Logger(),
	)

	if holder != nil {
		holder.OnChange(func(newCfg *config.Config) {
			a.Settlements.UpdateConfig(packTable(newCfg.Packs), newCfg.Settlement.OperatorEmails)
		})
	}

	handler := web.NewHandler(web.Deps{
		Settlements:    a.Settlements,
		Consumption:    a.Consumption,
		Ledger:         a.Ledger,
		Referrals:      a.Referrals,
		Accounts:       a.Accounts,
		Reconciliation: recon,
		Health:         health,
		WebhookSecret:  cfg.Gateway.WebhookSecret,
		Metrics:        m,
		Logger:         logger.With().Str("component", "web").Logger(),
	})

	routerCfg := web.RouterConfig{}
	if cfg.Metrics.Enabled {
		routerCfg.MetricsHandler = web.MetricsHandler()
		routerCfg.MetricsPath = cfg.Metrics.Path
	}

	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Router(routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

// packTable converts configured packs into the settlement lookup table.
func packTable(packs []config.PackConfig) settlement.PackTable {
	out := make([]settlement.Pack, 0, len(packs))
	for _, p := range packs {
		out = append(out, settlement.Pack{
			ItemCode:   p.ItemCode,
			Credits:    p.Credits,
			PriceCents: p.PriceCents,
		})
	}
	return settlement.NewPackTable(out)
}

// dbHealth adapts the sqlite handle to the readiness check.
type dbHealth struct {
	db *sqlite.DB
}

func (h dbHealth) HealthCheck(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// newLogger builds the root logger from config.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}
