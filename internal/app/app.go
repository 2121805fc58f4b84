package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"ticketwatch/internal/alert"
	"ticketwatch/internal/analytics"
	"ticketwatch/internal/clock"
	"ticketwatch/internal/config"
	"ticketwatch/internal/dispatch"
	"ticketwatch/internal/engine"
	"ticketwatch/internal/escalate"
	"ticketwatch/internal/optimize"
	"ticketwatch/internal/scheduler"
	"ticketwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI
// commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Clock  clock.Clock
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Clock:  clock.System{},
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}
	if a.Config.Encryption.Key == "" {
		return nil, nil, errors.New("encryption.key is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	cipher, err := storage.NewParamCipher(a.Config.Encryption.Key)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	store := storage.NewStore(pool, cipher)
	return store, store.Close, nil
}

func (a *App) newDispatcher() dispatch.Dispatcher {
	return dispatch.NewHTTPGateway(a.Config.Dispatch, a.Logger)
}

func (a *App) newEngine(store *storage.Store, disp dispatch.Dispatcher, esc *escalate.Scheduler) *engine.Service {
	evaluator := alert.NewEvaluator(a.Logger)
	gate := alert.NewGate(store, store, a.Clock, a.Logger)
	return engine.NewService(
		store, store, store,
		evaluator, gate, disp, esc, store, a.Clock,
		a.Config.Engine,
		a.Config.Analytics.BestDealWindowDays,
		a.Logger,
	)
}

func (a *App) newOptimizer(store *storage.Store) *optimize.Optimizer {
	return optimize.NewOptimizer(
		store, store, store, store,
		optimize.DefaultEffectiveness(store),
		a.Clock,
		a.Config.Optimizer,
		a.Logger,
	)
}

// Run executes the long-running alerting service: the snapshot sweep
// loop, the escalation retry loop, and the cron-driven digest and
// retune jobs.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	disp := a.newDispatcher()
	esc := escalate.NewScheduler(store, disp, a.Clock, a.Config.Escalation, a.Logger)
	svc := a.newEngine(store, disp, esc)
	analyzer := analytics.NewAnalyzer(store, store, a.Clock, a.Logger)
	optimizer := a.newOptimizer(store)

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Engine.SweepInterval,
		AlignToBucket: a.Config.Engine.AlignToBucket,
		StartupDelay:  a.Config.Engine.StartupDelay,
	}, a.Logger)

	jobs := cron.New(cron.WithSeconds())
	if _, err := jobs.AddFunc(a.Config.Analytics.DigestCron, func() {
		if err := analyzer.RunDigest(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("volatility digest failed")
		}
	}); err != nil {
		return err
	}
	if _, err := jobs.AddFunc(a.Config.Optimizer.RetuneCron, func() {
		if err := optimizer.Run(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("cadence retune failed")
		}
	}); err != nil {
		return err
	}
	jobs.Start()
	defer func() {
		stopCtx := jobs.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
		}
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- sched.Run(ctx, svc.Sweep) }()
	go func() { errCh <- esc.Run(ctx) }()

	a.Logger.Info().Msg("starting alerting service")
	err = <-errCh
	cancel()
	<-errCh

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}
	a.Logger.Info().Msg("alerting service stopped")
	return nil
}

// AnalyzeOptions configure a one-off volatility analysis run.
type AnalyzeOptions struct {
	SubjectID int64
	Date      time.Time
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit       int
	Escalations bool
}

// ExportOptions hold parameters for exporting volatility history.
type ExportOptions struct {
	SubjectID int64
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
