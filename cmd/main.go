package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fedutinova/everwalk/internal/artifacts"
	appconfig "github.com/fedutinova/everwalk/internal/config"
	"github.com/fedutinova/everwalk/internal/database"
	"github.com/fedutinova/everwalk/internal/gpt"
	"github.com/fedutinova/everwalk/internal/jobstore"
	"github.com/fedutinova/everwalk/internal/memq"
	"github.com/fedutinova/everwalk/internal/progress"
	"github.com/fedutinova/everwalk/internal/provider"
	"github.com/fedutinova/everwalk/internal/queue"
	"github.com/fedutinova/everwalk/internal/redis"
	"github.com/fedutinova/everwalk/internal/repository"
	"github.com/fedutinova/everwalk/internal/server"
	"github.com/fedutinova/everwalk/internal/storage"
	httpapi "github.com/fedutinova/everwalk/internal/transport/http"
	"github.com/fedutinova/everwalk/internal/workers"
)

func main() {
	cfg := appconfig.Load()
	setupLogger(cfg.AppEnv)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.Info("starting everwalk", "addr", cfg.HTTPAddr, "workers", cfg.QueueWorkers, "queue", cfg.QueueMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(ctx, cfg.DatabaseURL, database.PoolOptions{MaxConns: int32(cfg.DBMaxConns)})
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to apply migrations", "err", err)
		os.Exit(1)
	}

	storageService, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	slog.Info("storage initialized", "mode", storage.Mode(cfg))

	redisService, err := redis.New(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to connect to Redis", "err", err)
		os.Exit(1)
	}
	defer redisService.Close()

	gptClient := gpt.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, storageService)
	repo := repository.New(db)

	pgJobs := jobstore.NewPostgres(db.Pool())
	jobs := jobstore.NewCached(pgJobs, redisService.Client(), cfg.StatusCacheTTL)

	hub := progress.NewHub(jobs, progress.Config{
		PollInterval:   cfg.HubPollInterval,
		MaxStream:      cfg.HubMaxStream,
		MaxSubscribers: cfg.HubMaxSubscribers,
	})

	q, err := newDispatcher(cfg, redisService)
	if err != nil {
		slog.Error("failed to initialize queue", "err", err)
		os.Exit(1)
	}

	videos := workers.NewVideoService(jobs, repo, q, hub)
	if _, err := videos.RecoverOrphans(ctx, pgJobs, cfg.QueueMode == "redis"); err != nil {
		slog.Error("orphan recovery failed", "err", err)
	}

	var mirror storage.Storage
	if cfg.MirrorArtifacts {
		mirror = storageService
	}
	videoHandler := workers.NewVideoHandler(
		jobs,
		newProvider(cfg),
		repo,
		artifacts.NewStore(repo, mirror),
		hub,
		workers.SleepWaiter,
		workers.VideoConfig{
			PollInterval: cfg.PollInterval,
			MaxAttempts:  cfg.PollMaxAttempts,
			RetryDelay:   workers.DefaultVideoConfig().RetryDelay,
		},
	)
	companion := workers.NewCompanionService(repo, gptClient, q)

	q.StartConsumers(ctx, cfg.QueueWorkers, memq.Mux{
		memq.TypeVideoGenerate: videoHandler.HandleTask,
		memq.TypePetReply:      companion.HandleReplyTask,
	}.Handle)

	if cfg.DiaryDaily {
		go companion.RunDailyDiaries(ctx)
	}

	handlers := &httpapi.Handlers{
		Q:         q,
		Repo:      repo,
		Storage:   storageService,
		Redis:     redisService,
		Config:    cfg,
		GPT:       gptClient,
		Videos:    videos,
		Companion: companion,
		Hub:       hub,
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.NewRouter(handlers),
		// no WriteTimeout: progress streams clear their own deadline
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	hub.Shutdown()
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	cancel()
	if err := q.Close(); err != nil {
		slog.Warn("queue close", "err", err)
	}
}

func setupLogger(env string) {
	var h slog.Handler
	if env == "production" {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(h))
}

func newDispatcher(cfg appconfig.Config, rs *redis.Service) (memq.Dispatcher, error) {
	if cfg.QueueMode != "redis" {
		return memq.NewMemoryQueue(cfg.QueueBuf, cfg.JobMaxDuration), nil
	}
	qcfg := queue.DefaultConfig()
	qcfg.MaxJobTime = cfg.JobMaxDuration
	qcfg.MaxBacklog = int64(cfg.QueueBuf)
	if host, err := os.Hostname(); err == nil {
		qcfg.Consumer = host
	}
	return queue.NewRedisQueue(rs.Client(), qcfg)
}

func newProvider(cfg appconfig.Config) provider.Provider {
	if cfg.LumaAPIKey == "" {
		slog.Warn("LUMA_API_KEY not set, using simulated video generation")
		return provider.NewSimulated(cfg.LocalStorageURL, 25)
	}
	return provider.NewLumaClient(cfg.LumaAPIURL, cfg.LumaAPIKey)
}
