package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/maintenance-engine/api"
	"github.com/warp/maintenance-engine/config"
	"github.com/warp/maintenance-engine/maintenance"
	"github.com/warp/maintenance-engine/metrics"
	"github.com/warp/maintenance-engine/notify"
	"github.com/warp/maintenance-engine/schedule"
	redisstore "github.com/warp/maintenance-engine/store/redis"
	"github.com/warp/maintenance-engine/store/sqlite"
	"go.uber.org/zap"
)

// app holds the wired service. Every command builds one and closes it.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	store     *sqlite.Store
	ledger    maintenance.GenerationLedger
	runs      maintenance.LedgerReader
	plans     *maintenance.PlanService
	generator *maintenance.OrderGenerator
	projector *maintenance.CalendarProjector
	metrics   *metrics.Collector

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	a.store, err = sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	cal, err := a.loadCalendar(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	engine := schedule.NewEngine(loc, cal)

	switch cfg.LedgerBackend {
	case config.LedgerRedis:
		rcfg := redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		rdb, err := redisstore.NewClient(ctx, rcfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		ledger := redisstore.NewLedger(rdb, rcfg, logger)
		a.ledger, a.runs = ledger, ledger
	default:
		a.ledger, a.runs = a.store, a.store
	}

	var notifier maintenance.Notifier = notify.NewLogNotifier(logger)
	if brokers := notify.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		kn := notify.NewKafkaNotifier(notify.Config{Brokers: brokers, Topic: cfg.KafkaTopic}, logger)
		a.closers = append(a.closers, kn.Close)
		notifier = kn
	}

	if reg != nil {
		a.metrics = metrics.NewCollector(reg)
	}

	a.plans = maintenance.NewPlanService(a.store, a.store, engine, logger)
	a.plans.SetDefaultRunHour(cfg.RunHour)

	gcfg := maintenance.GeneratorConfig{
		Plans:    a.store,
		Orders:   a.store,
		Ledger:   a.ledger,
		Engine:   engine,
		Notifier: notifier,
		Logger:   logger,
	}
	if a.metrics != nil {
		gcfg.Observer = a.metrics
	}
	a.generator = maintenance.NewOrderGenerator(gcfg)
	a.projector = maintenance.NewCalendarProjector(a.store, a.store, engine, logger)

	logger.Info("service wired",
		zap.String("db", cfg.DBPath),
		zap.String("timezone", loc.String()),
		zap.String("ledger", string(cfg.LedgerBackend)),
		zap.Bool("kafka", len(notify.ParseBrokers(cfg.KafkaBrokers)) > 0),
	)
	return a, nil
}

// loadCalendar seeds the calendar file's holidays into the database, then
// builds the working calendar from the file's weekend and every stored
// holiday.
func (a *app) loadCalendar(ctx context.Context) (*schedule.StaticCalendar, error) {
	var cf config.CalendarFile
	if a.cfg.CalendarFile != "" {
		var err error
		if cf, err = config.LoadCalendarFile(a.cfg.CalendarFile); err != nil {
			return nil, err
		}
		holidays, err := cf.HolidayList()
		if err != nil {
			return nil, err
		}
		for _, h := range holidays {
			if err := a.store.SaveHoliday(ctx, h); err != nil {
				return nil, err
			}
		}
	}

	stored, err := a.store.Holidays(ctx)
	if err != nil {
		return nil, err
	}
	cal, err := config.CalendarFile{Locale: cf.Locale, Weekend: cf.Weekend}.Calendar(stored)
	if err != nil {
		return nil, fmt.Errorf("invalid working calendar: %w", err)
	}
	a.logger.Info("working calendar loaded", zap.String("locale", cal.Locale), zap.Int("holidays", len(stored)))
	return cal, nil
}

func (a *app) handler() *api.Handler {
	deps := api.Deps{
		Plans:     a.plans,
		PlanStore: a.store,
		Assets:    a.store,
		Generator: a.generator,
		Projector: a.projector,
		Runs:      a.runs,
		Holidays:  a.store,
		Logger:    a.logger,
	}
	if a.metrics != nil {
		deps.Metrics = a.metrics
	}
	return api.NewHandler(deps)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
