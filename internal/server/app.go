// Package server assembles and runs the harvester service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/quizforge/question-harvester/internal/antidetect"
	"github.com/quizforge/question-harvester/internal/api"
	archivegcs "github.com/quizforge/question-harvester/internal/archive/gcs"
	archivelocal "github.com/quizforge/question-harvester/internal/archive/local"
	archivememory "github.com/quizforge/question-harvester/internal/archive/memory"
	"github.com/quizforge/question-harvester/internal/clock/system"
	"github.com/quizforge/question-harvester/internal/config"
	"github.com/quizforge/question-harvester/internal/dedup"
	"github.com/quizforge/question-harvester/internal/driver"
	"github.com/quizforge/question-harvester/internal/driver/collyhttp"
	"github.com/quizforge/question-harvester/internal/driver/headless"
	"github.com/quizforge/question-harvester/internal/executor"
	"github.com/quizforge/question-harvester/internal/extractor"
	"github.com/quizforge/question-harvester/internal/fingerprint"
	"github.com/quizforge/question-harvester/internal/harvest"
	"github.com/quizforge/question-harvester/internal/id/uuid"
	"github.com/quizforge/question-harvester/internal/jobs"
	"github.com/quizforge/question-harvester/internal/logging"
	"github.com/quizforge/question-harvester/internal/progress"
	progresssinks "github.com/quizforge/question-harvester/internal/progress/sinks"
	memorypublisher "github.com/quizforge/question-harvester/internal/publisher/memory"
	gcppublisher "github.com/quizforge/question-harvester/internal/publisher/pubsub"
	"github.com/quizforge/question-harvester/internal/quality"
	"github.com/quizforge/question-harvester/internal/ratelimit"
	memorystorage "github.com/quizforge/question-harvester/internal/storage/memory"
	mongostorage "github.com/quizforge/question-harvester/internal/storage/mongo"
	pgstorage "github.com/quizforge/question-harvester/internal/storage/postgres"
)

// App holds the assembled service and its closable infrastructure.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	manager   *jobs.Manager
	apiServer *api.Server

	progressHub *progress.Hub
	pgPool      *pgxpool.Pool
	gcsClient   *storage.Client
	mongoItems  *mongostorage.ItemStore
	pubsub      *gcppublisher.Publisher
}

// Build creates the application's dependencies from configuration.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.Int("sources", len(cfg.Sources)),
	)

	jobStore, itemStore, riskStore, err := app.setupStores(ctx)
	if err != nil {
		return nil, err
	}
	blobStore, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	emitter := app.setupProgress()

	clock := system.New()
	idGen := uuid.New()
	hasher := fingerprint.New()

	detect := antidetect.New(antidetect.Config{
		WindowSize:           cfg.AntiDetect.WindowSize,
		BlockWeight:          cfg.AntiDetect.BlockWeight,
		ErrorWeight:          cfg.AntiDetect.ErrorWeight,
		RotationThreshold:    cfg.AntiDetect.RotationThreshold,
		RotateAfter:          cfg.AntiDetect.RotateAfter,
		CooldownThreshold:    cfg.AntiDetect.CooldownThreshold,
		Cooldown:             time.Duration(cfg.AntiDetect.CooldownMinutes) * time.Minute,
		MaxJitter:            cfg.AntiDetect.MaxJitter,
		MaxBackoffMultiplier: cfg.AntiDetect.MaxBackoffMultiplier,
	}, riskStore, clock, logger.Named("antidetect"))

	limiter := ratelimit.New(ratelimit.Config{
		DefaultDelay: time.Duration(cfg.RateLimit.DefaultDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.RateLimit.MaxDelayMs) * time.Millisecond,
		DecayFactor:  cfg.RateLimit.DecayFactor,
		ResetStreak:  cfg.RateLimit.ResetStreak,
	})

	drivers := driver.NewFactory(
		collyhttp.Config{Timeout: cfg.RequestTimeout()},
		headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		},
		cfg.Headless.Enabled,
	)

	runner := executor.New(
		cfg.Sources,
		extractor.NewRegistry(cfg.Sources),
		extractor.NewRenderDetector(cfg.Headless.MinBodyBytes),
		drivers,
		limiter,
		detect,
		blobStore,
		hasher,
		executor.Config{
			MaxFetchRetries:    cfg.Crawl.MaxFetchRetries,
			EmptyPageLimit:     cfg.Crawl.EmptyPageLimit,
			ExtractErrorLimit:  cfg.Crawl.ExtractErrorLimit,
			ArchivePrefix:      cfg.Archive.Prefix,
			ArchiveContentType: cfg.Archive.ContentType,
		},
		logger.Named("executor"),
	)

	validator := quality.NewValidator(cfg.Quality.MinQuestionLen, cfg.Quality.MinOptions, nil, logger.Named("quality"))
	detector := dedup.NewDetector(dedup.Config{
		Threshold:  cfg.Dedup.Threshold,
		WindowSize: cfg.Dedup.WindowSize,
	}, nil)
	pipeline := quality.NewPipeline(
		validator,
		detector,
		itemStore,
		publisher,
		hasher,
		idGen,
		clock,
		quality.PipelineConfig{
			Thresholds: quality.Thresholds{
				Accept: cfg.Quality.AcceptThreshold,
				Reject: cfg.Quality.RejectThreshold,
			},
			Topic: cfg.PubSub.Topic,
		},
		logger.Named("pipeline"),
	)

	app.manager = jobs.NewManager(
		jobStore,
		runner,
		pipeline,
		cfg.Sources,
		idGen,
		clock,
		emitter,
		jobs.Config{
			MaxConcurrentJobs: cfg.Jobs.MaxConcurrent,
			MaxRetries:        cfg.Jobs.MaxRetries,
			RetryBaseDelay:    time.Duration(cfg.Jobs.RetryBaseMs) * time.Millisecond,
			RetryMaxDelay:     time.Duration(cfg.Jobs.RetryMaxMs) * time.Millisecond,
			JobTimeout:        cfg.JobTimeout(),
			RetentionWindow:   time.Duration(cfg.Jobs.RetentionHours) * time.Hour,
			RetentionInterval: time.Duration(cfg.Jobs.RetentionSweepMinutes) * time.Minute,
		},
		logger.Named("jobs"),
	)

	app.apiServer = api.NewServer(
		app.manager,
		cfg.Sources,
		detect,
		api.Config{
			RequestTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
			AuthEnabled:    cfg.Auth.Enabled,
			APIKey:         cfg.Auth.APIKey,
		},
		logger.Named("api"),
	)

	return app, nil
}

// Run starts the job manager and HTTP server and blocks until the context
// is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("job manager started",
			zap.Int("max_concurrent", a.cfg.Jobs.MaxConcurrent),
		)
		a.manager.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down infrastructure clients.
func (a *App) Close(ctx context.Context) error {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.mongoItems != nil {
		if err := a.mongoItems.Close(ctx); err != nil {
			a.logger.Warn("mongo item store close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) setupStores(ctx context.Context) (harvest.JobStore, harvest.ItemStore, harvest.RiskStore, error) {
	var (
		jobStore  harvest.JobStore
		itemStore harvest.ItemStore
		riskStore harvest.RiskStore
	)
	switch a.cfg.Storage.Backend {
	case "postgres":
		a.logger.Info("using postgres storage backend")
		pool, err := pgstorage.Connect(ctx, pgstorage.Config{
			DSN:             a.cfg.Storage.Postgres.DSN,
			MaxConns:        int32(a.cfg.Storage.Postgres.MaxConns),
			MinConns:        int32(a.cfg.Storage.Postgres.MinConns),
			MaxConnLifetime: time.Duration(a.cfg.Storage.Postgres.MaxConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres connect failed: %w", err)
		}
		if err := pgstorage.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.pgPool = pool
		jobStore = pgstorage.NewJobStore(pool)
		itemStore = pgstorage.NewItemStore(pool)
		riskStore = pgstorage.NewRiskStore(pool)
	default:
		a.logger.Info("using in-memory storage backend")
		jobStore = memorystorage.NewJobStore()
		itemStore = memorystorage.NewItemStore()
		riskStore = memorystorage.NewRiskStore()
	}

	if a.cfg.Storage.ItemBackend == "mongo" {
		a.logger.Info("using mongo item store", zap.String("database", a.cfg.Storage.Mongo.Database))
		mongoStore, err := mongostorage.NewItemStore(ctx, mongostorage.Config{
			URI:         a.cfg.Storage.Mongo.URI,
			Database:    a.cfg.Storage.Mongo.Database,
			Collection:  a.cfg.Storage.Mongo.Collection,
			Timeout:     time.Duration(a.cfg.Storage.Mongo.TimeoutSeconds) * time.Second,
			MaxPoolSize: uint64(a.cfg.Storage.Mongo.MaxPoolSize),
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("mongo item store init failed: %w", err)
		}
		a.mongoItems = mongoStore
		itemStore = mongoStore
	}

	return jobStore, itemStore, riskStore, nil
}

func (a *App) setupArchive(ctx context.Context) (harvest.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case "gcs":
		a.logger.Info("using GCS archive backend", zap.String("bucket", a.cfg.Archive.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobStore, err := archivegcs.New(client, archivegcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		return blobStore, nil
	case "local":
		a.logger.Info("using local archive backend", zap.String("dir", a.cfg.Archive.LocalDir))
		blobStore, err := archivelocal.New(archivelocal.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		return blobStore, nil
	default:
		a.logger.Info("using in-memory archive backend")
		return archivememory.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (harvest.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Info("pubsub not configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.New(ctx, gcppublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		Topic:     a.cfg.PubSub.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("pubsub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	a.pubsub = pub
	return pub, nil
}

func (a *App) setupProgress() progress.Emitter {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil
	}
	sinkList := []progress.Sink{progresssinks.NewPrometheusSink()}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress")))
	}
	a.progressHub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		Logger:         a.logger.Named("progress_hub"),
	}, sinkList...)
	return a.progressHub
}
