package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/ai"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/capability"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/config"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/db"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/embedcache"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/fetcher"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/ratelimit"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/repo"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/segmenter"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/service"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/snapshot"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/vectorindex"
)

// app holds every wired component for one command run.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	index     vectorindex.Index
	fetcher   *fetcher.Fetcher
	provider  capability.Provider
	cacheRepo *repo.EmbeddingCacheRepo

	ingest        *service.IngestService
	indexer       *service.IndexerService
	answers       *service.AnswerService
	conversations *service.ConversationService
	reconcile     *service.ReconcileService
	pipeline      *service.PipelineService
	stats         *service.StatsService
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func bootstrap(ctx context.Context, opts *rootOptions) (*app, error) {
	if err := config.LoadDotEnv(opts.envFiles...); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(ctx).Info("config loaded", zap.String("config", opts.configPath))

	sqlDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a := &app{cfg: cfg, db: sqlDB}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	if err := db.ApplyMigrations(a.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	limiter := ratelimit.New("external", ratelimit.Config{
		RequestsPerSecond: cfg.Pipeline.RatePerSecond,
		Burst:             cfg.Pipeline.RateBurst,
	})

	docs := repo.NewDocumentRepo(a.db)
	chunks := repo.NewChunkRepo(a.db)
	convs := repo.NewConversationRepo(a.db)
	messages := repo.NewMessageRepo(a.db)
	a.cacheRepo = repo.NewEmbeddingCacheRepo(a.db)

	embedder, err := ai.BuildEmbedder(cfg.AI.Embed, cfg.AI.EmbedModel)
	if err != nil {
		return err
	}
	embedder = ai.WithEmbedTimeout(embedder, seconds(cfg.AI.Timeout))
	embedder = ai.WithDimensionCheck(embedder, cfg.AI.EmbedDimension)
	embedder = ai.WithEmbedLimiter(embedder, limiter)
	if cfg.AI.DBCache {
		embedder = embedcache.WithDB(embedder, a.cacheRepo)
	}
	embedder = embedcache.WithLRU(embedder, cfg.AI.CacheSize, seconds(cfg.AI.CacheTTL))

	generator, err := ai.BuildGenerator(cfg.AI.Generate, cfg.AI.GenerateModel)
	if err != nil {
		return err
	}
	generator = ai.WithGenerateTimeout(generator, seconds(cfg.AI.Timeout))
	generator = ai.WithGenerateLimiter(generator, limiter)

	a.index, err = vectorindex.New(ctx, cfg.VectorIndex, a.db, cfg.AI.EmbedDimension)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	a.index = vectorindex.WithTimeout(a.index, seconds(cfg.VectorIndex.Timeout))

	fetchOpts := []fetcher.Option{fetcher.WithLimiter(limiter)}
	if cfg.Fetcher.Render.Enabled {
		fetchOpts = append(fetchOpts, fetcher.WithRenderer(fetcher.NewChromeRenderer(fetcher.ChromeConfig{
			ExecPath: cfg.Fetcher.Render.ExecPath,
			Timeout:  seconds(cfg.Fetcher.Render.Timeout),
			Wait:     millis(cfg.Fetcher.Render.WaitMS),
		})))
	}
	a.fetcher = fetcher.New(fetcher.Config{
		Timeout:   seconds(cfg.Fetcher.Timeout),
		UserAgent: cfg.Fetcher.UserAgent,
		MaxBytes:  cfg.Fetcher.MaxBytes,
	}, fetchOpts...)

	a.provider, err = capability.New(cfg.Capability)
	if err != nil {
		return fmt.Errorf("init capability provider: %w", err)
	}
	snapshots, err := snapshot.New(cfg.Snapshot)
	if err != nil {
		return fmt.Errorf("init snapshot store: %w", err)
	}
	seg, err := segmenter.New(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap)
	if err != nil {
		return err
	}

	a.ingest = service.NewIngestService(docs, a.fetcher, snapshots, millis(cfg.Pipeline.ScrapeDelayMS))
	a.indexer, err = service.NewIndexerService(docs, chunks, seg, embedder, a.index, service.IndexerOptions{
		BatchSize:  cfg.Pipeline.BatchSize,
		ItemDelay:  millis(cfg.Pipeline.ItemDelayMS),
		BatchDelay: millis(cfg.Pipeline.BatchDelayMS),
		Concurrent: cfg.Pipeline.ConcurrentEmbeds,
	})
	if err != nil {
		return err
	}
	a.answers = service.NewAnswerService(embedder, a.index, chunks, generator,
		capability.NewAugmenter(a.provider, cfg.Capability),
		service.AnswerSettings{
			TopK:         cfg.Answer.TopK,
			MinScore:     cfg.Answer.MinScore,
			HistoryTurns: cfg.Answer.HistoryTurns,
			ExcerptChars: cfg.Answer.ExcerptChars,
			CacheTTL:     seconds(cfg.Answer.CacheTTL),
		})
	a.conversations = service.NewConversationService(convs, messages, a.answers, cfg.Answer.HistoryTurns)
	a.reconcile = service.NewReconcileService(chunks, a.index)
	a.pipeline = service.NewPipelineService(a.ingest, a.indexer, cfg.Sources, uint(cfg.Pipeline.EmbedLimit))
	a.stats = service.NewStatsService(docs, chunks, convs, messages, a.index)
	return nil
}

func (a *app) Close() {
	logger := logutil.GetLogger(context.Background())
	if a.indexer != nil {
		a.indexer.Release()
	}
	if a.fetcher != nil {
		if err := a.fetcher.Close(); err != nil {
			logger.Warn("close fetcher failed", zap.Error(err))
		}
	}
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			logger.Warn("close capability provider failed", zap.Error(err))
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			logger.Warn("close vector index failed", zap.Error(err))
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// withApp runs fn against a freshly wired app and always closes it.
func withApp(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	a, err := bootstrap(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
