// Package app wires the stores, automation and services into one
// application context.
package app

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"omnipost/internal/api"
	"omnipost/internal/config"
	"omnipost/internal/infra/browser"
	"omnipost/internal/infra/redisq"
	"omnipost/internal/infra/sqlstore"
	"omnipost/internal/platform"
	"omnipost/internal/ports"
	"omnipost/internal/usecase"
	"omnipost/internal/worker"
	"omnipost/pkg/backoff"
)

type App struct {
	Cfg *config.Config

	DB      *sql.DB
	Redis   *redisq.Client
	Workers *worker.Supervisor

	Tasks  *sqlstore.TaskStore
	Creds  *sqlstore.CredentialStore
	Groups *sqlstore.GroupStore

	Registry     *usecase.Registry
	Checker      *usecase.Checker
	Gate         *usecase.Gate
	Executor     *usecase.Executor
	Orchestrator *usecase.Orchestrator
	Revalidator  *usecase.Revalidator

	TaskService    *usecase.TaskService
	AccountService *usecase.AccountService
	Server         *api.Server
}

// New builds the application from cfg. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.CookiesDir, cfg.Paths.VideosDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}

	table := platform.Default()
	if err := table.Validate(); err != nil {
		return nil, err
	}

	db, err := sqlstore.Open(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	a := &App{
		Cfg:      cfg,
		DB:       db,
		Workers:  worker.NewSupervisor(log.With().Str("component", "worker").Logger().WithContext(ctx)),
		Tasks:    sqlstore.NewTaskStore(db),
		Creds:    sqlstore.NewCredentialStore(db),
		Groups:   sqlstore.NewGroupStore(db),
		Registry: usecase.NewRegistry(),
	}

	sessions := browser.New(cfg.Browser)
	a.Checker = &usecase.Checker{
		Sessions:   sessions,
		Table:      table,
		CookiesDir: cfg.Paths.CookiesDir,
		ProbeWait:  cfg.Validation.ProbeWait,
	}
	a.Gate = &usecase.Gate{Checker: a.Checker, Creds: a.Creds, Cooldown: cfg.Validation.Cooldown}

	a.Executor, err = usecase.NewExecutor(a.Tasks, table.Uploaders(sessions), a.Workers, cfg.Paths.VideosDir, cfg.Paths.CookiesDir)
	if err != nil {
		db.Close()
		return nil, err
	}

	a.Orchestrator = &usecase.Orchestrator{
		Sessions:   sessions,
		Table:      table,
		Checker:    a.Checker,
		Creds:      a.Creds,
		Groups:     a.Groups,
		Registry:   a.Registry,
		Workers:    a.Workers,
		CookiesDir: cfg.Paths.CookiesDir,
		Timeout:    cfg.Login.Timeout,
		QRWait:     cfg.Login.QRWait,
	}

	a.Revalidator = &usecase.Revalidator{
		Creds:       a.Creds,
		Checker:     a.Checker,
		LeaseKey:    cfg.Redis.LeaseKey,
		LeaseTTL:    cfg.Redis.LeaseTTL,
		Interval:    cfg.Scheduler.Interval,
		StaleAfter:  cfg.Scheduler.StaleAfter,
		Concurrency: cfg.Scheduler.Concurrency,
		Pace:        cfg.Scheduler.Pace,
	}
	if lease := a.connectLease(ctx); lease != nil {
		a.Revalidator.Lease = lease
	}

	a.TaskService = &usecase.TaskService{Tasks: a.Tasks, Creds: a.Creds, Executor: a.Executor}
	a.AccountService = &usecase.AccountService{Creds: a.Creds, Groups: a.Groups, Gate: a.Gate, States: browser.Files{}, CookiesDir: cfg.Paths.CookiesDir}
	a.Server = api.NewServer(a.TaskService, a.AccountService, a.Orchestrator)
	return a, nil
}

// connectLease returns nil when Redis is not configured or unreachable; the
// scheduler then sweeps without coordination.
func (a *App) connectLease(ctx context.Context) ports.Lease {
	if a.Cfg.Redis.Addr == "" {
		return nil
	}
	cli := redisq.New(a.Cfg.Redis)
	err := backoff.Retry(ctx, 3, 500*time.Millisecond, 5*time.Second, cli.Connect)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("redis unavailable, sweeping without a lease")
		cli.Close()
		return nil
	}
	a.Redis = cli
	return redisq.NewLease(cli)
}

// Run serves HTTP and, when enabled, the revalidation scheduler until
// SIGINT/SIGTERM or ctx ends. In-flight publish and login jobs get the
// shutdown timeout to finish.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sweeper *worker.Handle
	if a.Cfg.Scheduler.Enabled {
		sweeper = a.Workers.Go("revalidator", a.Revalidator.Run)
	} else {
		log.Ctx(ctx).Info().Msg("revalidation scheduler disabled")
	}

	err := a.Server.Run(ctx, a.Cfg.HTTP.Port, a.Cfg.HTTP.ShutdownTimeout)
	stop()

	if sweeper != nil {
		sweeper.Cancel()
	}
	sctx, cancel := context.WithTimeout(context.Background(), a.Cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if werr := a.Workers.Stop(sctx); werr != nil {
		log.Warn().Err(werr).Msg("background jobs did not finish in time")
	}
	return err
}

// Sweep runs one revalidation pass now.
func (a *App) Sweep(ctx context.Context) (usecase.SweepResult, error) {
	return a.Revalidator.Sweep(ctx)
}

func (a *App) Close() error {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
	return a.DB.Close()
}
