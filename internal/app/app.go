// Package app wires configuration into the report service, its adapters and
// the worker. Both binaries and the operator CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iago/mileage-reports-back/internal/config"
	httpserver "github.com/iago/mileage-reports-back/internal/http"
	"github.com/iago/mileage-reports-back/internal/http/handlers"
	"github.com/iago/mileage-reports-back/internal/notify"
	"github.com/iago/mileage-reports-back/internal/queue"
	"github.com/iago/mileage-reports-back/internal/ratelimit"
	"github.com/iago/mileage-reports-back/internal/report"
	"github.com/iago/mileage-reports-back/internal/repository"
	"github.com/iago/mileage-reports-back/internal/service"
	"github.com/iago/mileage-reports-back/internal/storage"
	"github.com/iago/mileage-reports-back/internal/worker"
)

const signerIssuer = "mileage-reports"

// App holds every constructed dependency. Close releases them in reverse order.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Reports  *service.ReportService
	Jobs     repository.JobsRepository
	Producer queue.Producer
	Consumer queue.Consumer

	pool       *pgxpool.Pool
	blobReader storage.Reader
	checks     map[string]handlers.HealthCheck
	closers    []func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		checks: make(map[string]handlers.HealthCheck),
	}

	ledger, err := a.setupRepository(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}
	blobs, err := a.setupStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	notifier, err := a.setupNotifier()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Reports = service.NewReportService(service.Deps{
		Jobs:     a.Jobs,
		Producer: a.Producer,
		Builder:  report.NewBuilder(ledger),
		Renderer: report.NewPDFRenderer(),
		Blobs:    blobs,
		Notifier: notifier,
		Logger:   logger,
	}, ServiceOptions(cfg))
	return a, nil
}

// ServiceOptions maps configuration onto the service thresholds.
func ServiceOptions(cfg config.Config) service.Options {
	return service.Options{
		Limits: ratelimit.Limits{
			SystemActiveLimit: cfg.Reports.SystemActiveLimit,
			CooldownWindow:    cfg.Reports.CooldownWindow,
			CooldownLimit:     cfg.Reports.CooldownLimit,
			DailyLimit:        cfg.Reports.DailyLimit,
		},
		MaxRetries:     cfg.Reports.MaxRetries,
		ValidityWindow: cfg.Reports.ValidityWindow,
		DownloadURLTTL: cfg.Reports.DownloadURLTTL,
		StuckTimeout:   cfg.Worker.StuckTimeout,
		PendingTimeout: cfg.Worker.PendingTimeout,
	}
}

// Handler builds the HTTP router for the API process.
func (a *App) Handler() http.Handler {
	return httpserver.NewRouter(httpserver.RouterDependencies{
		API:            handlers.NewAPI(a.Reports, a.blobReader, a.checks),
		Logger:         a.Logger,
		AuthToken:      a.Config.Server.AuthToken,
		CORSOrigins:    a.Config.Server.CORSOrigins,
		RateLimitRPS:   a.Config.Server.RateLimitRPS,
		RateLimitBurst: a.Config.Server.RateLimitBurst,
	})
}

func (a *App) Sweeper() *worker.Sweeper {
	return worker.NewSweeper(a.Reports, worker.SweeperConfig{
		Interval:     a.Config.Worker.SweepInterval,
		SweepExpired: a.Config.Worker.SweepExpired,
	}, a.Logger)
}

func (a *App) Worker() *worker.Worker {
	processor := worker.NewProcessor(a.Consumer, a.Reports, worker.ProcessorConfig{
		PollWait:          a.Config.Worker.PollWait,
		VisibilityTimeout: a.Config.Worker.VisibilityTimeout,
		MaxReceiveCount:   a.Config.Worker.MaxReceiveCount,
	}, a.Logger)
	return worker.New(processor, a.Sweeper(), a.Logger)
}

// Migrate applies the schema. It fails when no database is configured.
func (a *App) Migrate(ctx context.Context) error {
	if a.pool == nil {
		return errors.New("database.url is not configured")
	}
	return repository.Migrate(ctx, a.pool, a.Logger)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) setupRepository(ctx context.Context) (repository.LedgerReader, error) {
	if a.Config.Database.URL == "" {
		a.Logger.Warn("database.url not configured, using in-memory repository")
		a.Jobs = repository.NewMemoryJobsRepository()
		return repository.NewMemoryLedger(), nil
	}

	pool, err := repository.Connect(ctx, a.Config.Database.URL, a.Config.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	a.checks["database"] = pool.Ping

	if a.Config.Database.AutoMigrate {
		if err := repository.Migrate(ctx, pool, a.Logger); err != nil {
			return nil, err
		}
	}
	a.Jobs = repository.NewPostgresJobsRepository(pool)
	a.Logger.Info("postgres repository initialized", "max_conns", pool.Config().MaxConns)
	return repository.NewPostgresLedger(pool), nil
}

func (a *App) setupQueue(ctx context.Context) error {
	cfg := a.Config.Queue
	switch cfg.Backend {
	case "redis":
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Stream:   cfg.Stream,
			Group:    cfg.Group,
			Consumer: cfg.Consumer,
		})
		if err != nil {
			return err
		}
		a.Producer, a.Consumer = streams, streams
		a.checks["queue"] = streams.Ping
		a.closers = append(a.closers, func() { _ = streams.Close() })
		a.Logger.Info("redis streams queue initialized", "stream", cfg.Stream, "group", cfg.Group)
	default:
		local := queue.NewLocalQueue()
		a.Producer, a.Consumer = local, local
		a.Logger.Warn("using in-process queue, jobs are only consumed by a worker in this process")
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) (storage.BlobStore, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "gcs":
		store, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		a.Logger.Info("gcs blob store initialized", "bucket", cfg.GCSBucket)
		return store, nil
	case "bolt":
		if cfg.SigningSecret == "" {
			return nil, errors.New("storage.signing_secret is required for the bolt backend")
		}
		signer, err := storage.NewSigner(cfg.SigningSecret, signerIssuer)
		if err != nil {
			return nil, err
		}
		store, err := storage.NewBoltStore(cfg.BoltPath, signer, a.Config.Server.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		a.blobReader = store
		a.closers = append(a.closers, func() { _ = store.Close() })
		a.Logger.Info("bolt blob store initialized", "path", cfg.BoltPath)
		return store, nil
	default:
		a.Logger.Warn("using in-memory blob store, reports are lost on restart")
		return storage.NewMemoryStore(), nil
	}
}

func (a *App) setupNotifier() (notify.Notifier, error) {
	cfg := a.Config.Notify
	if cfg.Backend != "kafka" {
		return notify.NewLogNotifier(a.Logger), nil
	}

	notifier, err := notify.NewKafkaNotifier(notify.KafkaConfig{
		Brokers:        cfg.KafkaBrokers,
		CompletedTopic: cfg.CompletedTopic,
		FailedTopic:    cfg.FailedTopic,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("create kafka notifier: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := notifier.Close(); err != nil {
			a.Logger.Warn("close kafka notifier failed", "error", err)
		}
	})
	a.Logger.Info("kafka notifier initialized", "brokers", cfg.KafkaBrokers)
	return notifier, nil
}
