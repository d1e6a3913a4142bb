package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/monedita/pkg/assistant"
	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/budgets"
	"github.com/platinummonkey/monedita/pkg/config"
	"github.com/platinummonkey/monedita/pkg/observability"
	"github.com/platinummonkey/monedita/pkg/payments"
	"github.com/platinummonkey/monedita/pkg/scheduler"
	"github.com/platinummonkey/monedita/pkg/storage"
	"github.com/platinummonkey/monedita/pkg/storage/memory"
	"github.com/platinummonkey/monedita/pkg/storage/postgres"
	"github.com/platinummonkey/monedita/pkg/whatsapp"
)

// App holds the components shared by the server and the billing worker
type App struct {
	Config *config.Config
	Logger *observability.Logger
	// BatchLogger is used by the sweeps and the payment service
	BatchLogger *logrus.Logger

	Store     billing.Store
	Redis     *redis.Client
	Catalog   *billing.Catalog
	Billing   *billing.Service
	Payments  *payments.RecurringService
	Budgets   *budgets.Service
	Messenger *whatsapp.Client
	Reminders *assistant.ReminderService
	Scheduler *scheduler.Scheduler

	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	budgetStore budgets.Store
}

// New opens the store and builds the billing stack from cfg
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	a := &App{
		Config:      cfg,
		Logger:      logger,
		BatchLogger: NewBatchLogger(cfg.Observability.LogLevel),
	}

	catalog, err := LoadCatalog(cfg.Payments.CatalogFile)
	if err != nil {
		return nil, err
	}
	a.Catalog = catalog

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	if cfg.Observability.MetricsEnabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = observability.NewMetrics(a.Registry)
	}

	billingOpts := []billing.Option{}
	if cfg.Storage.CacheEnabled {
		billingOpts = append(billingOpts, billing.WithUsageStore(
			postgres.NewUsageCache(a.Store, a.Redis, cfg.Storage.UsageCacheTTL)))
	}
	a.Billing = billing.NewService(catalog, a.Store, billingOpts...)

	var gateway payments.Gateway = payments.DeclineGateway{}
	if cfg.Payments.StripeAPIKey != "" {
		gateway = payments.NewStripeGateway(cfg.Payments.StripeAPIKey, payments.WithStripeLogger(a.BatchLogger))
	} else {
		logger.Warn("no payment gateway configured; every charge will be declined")
	}
	paymentOpts := []payments.Option{
		payments.WithRetryPolicy(payments.NewRetryPolicy(cfg.Payments.Retry)),
		payments.WithLogger(a.BatchLogger),
	}
	if a.Metrics != nil {
		paymentOpts = append(paymentOpts, payments.WithRecorder(a.Metrics))
	}
	a.Payments = payments.NewRecurringService(catalog, a.Store, a.Billing, gateway, paymentOpts...)

	a.Messenger = whatsapp.NewClient(whatsapp.ClientConfig{
		BaseURL:       cfg.WhatsApp.BaseURL,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
	})

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Budgets = budgets.NewService(a.budgetStore, budgets.WithLocation(loc))
	schedOpts := []scheduler.Option{
		scheduler.WithLogger(a.BatchLogger),
		scheduler.WithExpirer(a.Billing),
	}
	if cfg.Scheduler.Reminders {
		a.Reminders = assistant.NewReminderService(a.Store, a.Messenger,
			assistant.WithReminderLogger(logger.WithField("component", "reminders")))
		schedOpts = append(schedOpts, scheduler.WithReminders(a.Reminders))
	}
	if a.Metrics != nil {
		schedOpts = append(schedOpts, scheduler.WithObserver(a.Metrics))
	}
	a.Scheduler = scheduler.New(scheduler.Config{
		Workers:  cfg.Scheduler.Workers,
		Pacing:   cfg.Scheduler.Pacing,
		Location: loc,
	}, a.Store, a.Payments, schedOpts...)

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config.Storage

	switch cfg.Driver {
	case storage.DriverPostgres:
		store, err := postgres.Open(ctx, cfg, a.Catalog, a.BatchLogger)
		if err != nil {
			return fmt.Errorf("failed to open postgres store: %w", err)
		}
		a.Store = store
		a.budgetStore = store
	default:
		store := memory.New()
		a.Store = store
		a.budgetStore = store
		a.Logger.Warn("using in-memory storage; data is lost on restart")
	}

	if cfg.RedisURL == "" {
		return nil
	}
	client, err := postgres.DialRedis(ctx, cfg)
	if err != nil {
		if cfg.CacheEnabled {
			a.Store.Close()
			return err
		}
		a.Logger.WithError(err).Warn("redis unavailable; falling back to local rate limiting")
		return nil
	}
	a.Redis = client
	return nil
}

// Close releases the store and Redis connections
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// LoadCatalog reads the plan catalog from path, or returns the built-in
// catalog when path is empty
func LoadCatalog(path string) (*billing.Catalog, error) {
	if path == "" {
		return billing.DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	catalog, err := billing.LoadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}
	return catalog, nil
}

// NewBatchLogger returns a JSON logrus logger at the given level
func NewBatchLogger(level observability.LogLevel) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.AddHook(observability.PhoneMaskHook{})

	switch level {
	case observability.DebugLevel:
		logger.SetLevel(logrus.DebugLevel)
	case observability.WarnLevel:
		logger.SetLevel(logrus.WarnLevel)
	case observability.ErrorLevel:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
