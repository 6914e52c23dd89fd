package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lettings_backend/internal/adapters/storage"
	"lettings_backend/internal/analysis"
	"lettings_backend/internal/email"
	"lettings_backend/internal/events"
	apphttp "lettings_backend/internal/http"
	"lettings_backend/internal/http/router"
	"lettings_backend/internal/leads"
	"lettings_backend/internal/leads/repository"
	"lettings_backend/internal/notification"
	"lettings_backend/internal/notification/sse"
	"lettings_backend/internal/scheduler"
	"lettings_backend/internal/sessions"
	"lettings_backend/internal/telephony"
	"lettings_backend/internal/voice"
	"lettings_backend/migrations"
	"lettings_backend/platform/config"
	"lettings_backend/platform/db"
	"lettings_backend/platform/logger"
	"lettings_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// ensureBucket wraps the retry logic for verifying a MinIO bucket exists.
func ensureBucket(ctx context.Context, log *logger.Logger, storageSvc *storage.MinIOService, bucket string) {
	if err := withRetry(ctx, log, "ensure transcripts bucket", 5, 2*time.Second, func() error {
		return storageSvc.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", bucket)
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	// ========================================================================
	// Voice sessions
	// ========================================================================

	var dialer voice.Dialer
	if client := voice.NewClient(cfg); client != nil {
		dialer = client
	} else {
		log.Warn("ELEVENLABS_API_KEY or ELEVENLABS_AGENT_ID not configured; voice sessions disabled")
	}
	sessionPool := sessions.New(dialer, cfg, log)

	persona, err := voice.DefaultPersona()
	if err != nil {
		log.Error("failed to load agent persona", "error", err)
		panic("failed to load agent persona: " + err.Error())
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	leadsModule := leads.NewModule(repository.New(pool), sessionPool, persona, eventBus, val, cfg, log)
	orchestrator := leadsModule.Orchestrator()

	if client := telephony.NewClient(cfg, log); client != nil {
		orchestrator.SetCallPlacer(client)
	} else {
		log.Warn("telephony not configured; outbound calls disabled")
	}

	redisClient, closeRedis := initRedis(cfg, log)
	if closeRedis != nil {
		defer closeRedis()
		orchestrator.SetSessionContextStore(voice.NewContextStore(redisClient, cfg.GetSessionReadyTTL()+time.Hour))
	}

	callScheduler, closeScheduler := initCallScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
		orchestrator.SetCallScheduler(callScheduler)
	}

	if cfg.IsMinIOEnabled() {
		storageSvc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		ensureBucket(ctx, log, storageSvc, cfg.GetMinioBucketTranscripts())
		orchestrator.SetTranscriptArchive(storage.NewTranscriptArchive(storageSvc, cfg.GetMinioBucketTranscripts()))
		log.Info("storage service initialized", "transcriptsBucket", cfg.GetMinioBucketTranscripts())
	}

	analyzer, err := analysis.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize transcript analyzer", "error", err)
		panic("failed to initialize transcript analyzer: " + err.Error())
	}
	if analyzer != nil {
		orchestrator.SetTranscriptAnalyzer(analyzer)
	}

	stream := sse.New(log)
	defer stream.Close()
	notificationModule := notification.New(sender, stream, log)
	notificationModule.RegisterHandlers(eventBus)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Stats: map[string]apphttp.StatsProvider{
			"sessions": apphttp.StatsFunc(func() any { return sessionPool.Stats() }),
			"database": apphttp.StatsFunc(func() any { return db.NewPoolAdapter(pool).Stats() }),
			"sse":      apphttp.StatsFunc(func() any { return stream.ClientCount() }),
		},
		Modules: []apphttp.Module{
			leadsModule,
			notificationModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sessionPool.Run(gctx)
		return nil
	})

	// The call worker runs in this process so scheduled calls prewarm into the
	// same session pool the media stream claims from.
	if cfg.GetRedisURL() != "" {
		worker, err := scheduler.NewWorker(cfg, orchestrator, log)
		if err != nil {
			log.Error("failed to initialize call worker", "error", err)
			panic("failed to initialize call worker: " + err.Error())
		}
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func initRedis(cfg config.SchedulerConfig, log *logger.Logger) (*redis.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; session contexts are rebuilt on demand")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		log.Error("invalid REDIS_URL", "error", err)
		return nil, nil
	}
	if opt.TLSConfig != nil && cfg.GetRedisTLSInsecure() {
		opt.TLSConfig.InsecureSkipVerify = true
	}

	client := redis.NewClient(opt)
	return client, func() {
		_ = client.Close()
	}
}

func initCallScheduler(cfg config.SchedulerConfig, log *logger.Logger) (scheduler.CallScheduler, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; automatic lead calls disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize call scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
