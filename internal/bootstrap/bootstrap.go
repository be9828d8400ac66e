// Package bootstrap は API・ワーカー・管理CLIで共通の依存関係を組み立てます。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/config"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/credits"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/documents"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/eligibility"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/generation"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/jobs"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/metrics"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/pdf"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/storage"
)

// App は組み立て済みのコンポーネントです。
type App struct {
	Config    *config.Config
	Redis     *redis.Client
	QueueOpt  asynq.RedisConnOpt
	Store     jobs.Store
	Objects   storage.ObjectStore
	Registry  *documents.RedisRegistry
	Ledger    *credits.RedisLedger
	Documents *documents.Service
	Service   *jobs.Service
	Processor *jobs.Processor
	Sweeper   *jobs.Sweeper
	Metrics   *metrics.Collector

	closers []func(context.Context) error
}

// Build は cfg に従ってすべてのコンポーネントを作成します。
// reg が nil の場合メトリクスは登録されません。
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*App, error) {
	app := &App{Config: cfg, Metrics: metrics.NewCollector(reg)}
	if err := app.build(ctx, logger); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, logger zerolog.Logger) error {
	cfg := a.Config

	rdb, queueOpt, err := NewRedis(cfg)
	if err != nil {
		return err
	}
	a.Redis = rdb
	a.QueueOpt = queueOpt
	a.onClose(func(context.Context) error { return rdb.Close() })

	store, closeStore, err := NewJobStore(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	a.Store = store
	a.onClose(closeStore)

	objects, closeObjects, err := NewObjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	a.Objects = objects
	a.onClose(closeObjects)

	generator, closeGenerator, err := NewGenerator(ctx, cfg)
	if err != nil {
		return err
	}
	a.onClose(closeGenerator)

	limits := pdf.Limits{MaxBytes: cfg.MaxFileSize, MaxPages: cfg.MaxPages}
	a.Registry = documents.NewRedisRegistry(rdb)
	if a.Documents, err = documents.NewService(a.Registry, objects, limits, logger.With().Str("component", "documents").Logger()); err != nil {
		return err
	}
	if a.Ledger, err = credits.NewRedisLedger(rdb, cfg.FreeCredits); err != nil {
		return err
	}
	gate, err := eligibility.NewGate(a.Registry, a.Ledger)
	if err != nil {
		return err
	}

	client := asynq.NewClient(queueOpt)
	a.onClose(func(context.Context) error { return client.Close() })
	dispatcher, err := jobs.NewAsynqDispatcher(client, jobs.DispatchOptions{
		MaxRetry: cfg.DispatchMaxRetry,
		Timeout:  cfg.MaxProcessing(),
	})
	if err != nil {
		return err
	}

	if a.Service, err = jobs.NewService(store, gate, dispatcher, jobs.ServiceOptions{
		Defaults:  DefaultParameters(cfg),
		Retention: cfg.Retention(),
		Objects:   objects,
		Metrics:   a.Metrics,
		Logger:    logger.With().Str("component", "jobs").Logger(),
	}); err != nil {
		return err
	}

	if a.Processor, err = jobs.NewProcessor(store, a.Registry, objects, generator, jobs.ProcessorOptions{
		GenerationTimeout: cfg.GenerationTimeout(),
		SourceLimits:      limits,
		Metrics:           a.Metrics,
		Logger:            logger.With().Str("component", "worker").Logger(),
	}); err != nil {
		return err
	}

	a.Sweeper, err = jobs.NewSweeper(store, cfg.MaxProcessing(), cfg.SweepBatchSize, a.Metrics,
		logger.With().Str("component", "sweeper").Logger())
	return err
}

// NewManager はワーカーサーバーを作成します。
func (a *App) NewManager(logger zerolog.Logger) (*jobs.Manager, error) {
	return jobs.NewManager(a.QueueOpt, a.Processor, a.Sweeper, jobs.ManagerOptions{
		Concurrency:   a.Config.WorkerConcurrency,
		SweepInterval: a.Config.SweepInterval(),
		Logger:        logger.With().Str("component", "worker").Logger(),
	})
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close は作成した順と逆順に接続を閉じます。
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewRedis は QUEUE_REDIS_URL からジョブストア用のクライアントと asynq 用の接続設定を作成します。
func NewRedis(cfg *config.Config) (*redis.Client, asynq.RedisConnOpt, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse QUEUE_REDIS_URL: %w", err)
	}
	queueOpt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse QUEUE_REDIS_URL for asynq: %w", err)
	}
	return redis.NewClient(opt), queueOpt, nil
}

// NewJobStore は JOB_STORE に応じたジョブストアを作成します。
func NewJobStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) (jobs.Store, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch cfg.JobStore {
	case "redis":
		return jobs.NewRedisStore(rdb), noop, nil
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		store := jobs.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(connectCtx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return store, client.Disconnect, nil
	default:
		return nil, nil, fmt.Errorf("unsupported JOB_STORE: %q", cfg.JobStore)
	}
}

// NewObjectStore は STORAGE_BACKEND に応じたオブジェクトストレージを作成します。
func NewObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, func(context.Context) error, error) {
	switch cfg.StorageBackend {
	case "local":
		store, err := storage.NewLocalStore(cfg.StorageDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func(context.Context) error { return nil }, nil
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := storage.NewGCSStore(client, cfg.GCSBucket)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func(context.Context) error { return client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported STORAGE_BACKEND: %q", cfg.StorageBackend)
	}
}

// NewGenerator は GENERATION_BACKEND に応じた生成バックエンドを作成します。
func NewGenerator(ctx context.Context, cfg *config.Config) (jobs.Generator, func(context.Context) error, error) {
	switch cfg.GenerationBackend {
	case "offline":
		return generation.OfflineBackend{}, func(context.Context) error { return nil }, nil
	case "vertex":
		backend, err := generation.NewVertexBackend(ctx, cfg.GCPProject, cfg.VertexRegion)
		if err != nil {
			return nil, nil, err
		}
		return backend, func(context.Context) error { return backend.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported GENERATION_BACKEND: %q", cfg.GenerationBackend)
	}
}

// DefaultParameters は投入時にジョブへ固定するモデル設定を返します。
func DefaultParameters(cfg *config.Config) generation.Parameters {
	return generation.Parameters{
		Model:           cfg.GenerationModel,
		Temperature:     float32(cfg.GenerationTemperature),
		MaxOutputTokens: int32(cfg.GenerationMaxTokens),
		PromptVersion:   generation.PromptVersion,
	}
}
