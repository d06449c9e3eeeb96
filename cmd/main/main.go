package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"www.github.com/Wanderer0074348/SemCache/src/cache"
	"www.github.com/Wanderer0074348/SemCache/src/config"
	"www.github.com/Wanderer0074348/SemCache/src/embedding"
	"www.github.com/Wanderer0074348/SemCache/src/eviction"
	"www.github.com/Wanderer0074348/SemCache/src/handlers"
	"www.github.com/Wanderer0074348/SemCache/src/logging"
	"www.github.com/Wanderer0074348/SemCache/src/middleware"
	"www.github.com/Wanderer0074348/SemCache/src/store"
	"www.github.com/Wanderer0074348/SemCache/src/vector"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using system environment variables")
	} else {
		log.Println("✅ Loaded .env file")
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("✓ Config loaded successfully")

	logger := logging.New(&cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	if err := vector.CheckHasher(); err != nil {
		log.Fatalf("❌ Hash primitive unavailable: %v", err)
	}

	st, err := store.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.Store.Backend, err)
	}
	log.Printf("✓ %s store ready", cfg.Store.Backend)

	manager, err := cache.NewManager(st, &cfg.Cache, logger)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	log.Printf("✓ Semantic cache ready (threshold: %.2f)", manager.Threshold())

	embedder, err := embedding.New(&cfg.Embedding)
	if err != nil {
		log.Fatalf("Failed to initialize embedder: %v", err)
	}
	if cfg.Embedding.APIKey == "" {
		log.Println("⚠️  EMBEDDING_API_KEY not set, prompt routes will fail until it is")
	}
	log.Printf("✓ Embedder ready: %s (%s)", embedder.Model(), cfg.Embedding.Provider)

	var scheduler *eviction.Scheduler
	if cfg.Eviction.Enabled {
		scheduler, err = eviction.NewScheduler(st, &cfg.Eviction, logger)
		if err != nil {
			log.Fatalf("Failed to initialize eviction: %v", err)
		}
		log.Printf("✓ Eviction every %s (max %d entries, batch %d)",
			cfg.Eviction.Period, cfg.Eviction.MaxEntries, cfg.Eviction.BatchSize)
	} else {
		log.Println("ℹ️  Eviction disabled, the cache will grow without bound")
	}

	gin.SetMode(cfg.Server.Mode)
	handler := handlers.NewCacheHandler(manager, embedder, logger)
	r := setupRouter(cfg, handler, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if scheduler != nil {
		g.Go(func() error {
			return scheduler.Run(gctx)
		})
	}

	log.Printf("🚀 SemCache running on port %s", cfg.Server.Port)

	if code := finish(manager, g.Wait()); code != 0 {
		os.Exit(code)
	}
}

// finish closes the cache and returns the process exit code for err.
func finish(manager *cache.Manager, err error) int {
	if cerr := manager.Close(); cerr != nil {
		log.Printf("Failed to close cache: %v", cerr)
	}
	if err != nil {
		log.Printf("Server failed: %v", err)
		return 1
	}
	log.Println("Server exited")
	return 0
}

func setupRouter(cfg *config.Config, handler *handlers.CacheHandler, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	handler.Register(r.Group("/api/v1"))

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}
	return r
}
