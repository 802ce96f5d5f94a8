package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/ashish23d/GreatX/internal/api"
	"github.com/ashish23d/GreatX/internal/auth"
	"github.com/ashish23d/GreatX/internal/cleanup"
	"github.com/ashish23d/GreatX/internal/config"
	"github.com/ashish23d/GreatX/internal/redis"
	"github.com/ashish23d/GreatX/internal/service/ai"
	"github.com/ashish23d/GreatX/internal/service/assistant"
	"github.com/ashish23d/GreatX/internal/storage"
	"github.com/ashish23d/GreatX/internal/worker"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	driver := cfg.BasicConfig.Database
	logger.Info("opening database", zap.String("driver", driver))
	db, err := storage.Open(driver, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, driver); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewRedisClient(cfg)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer cache.Close()
	}

	responder, err := newResponder(ctx, cfg)
	if err != nil {
		return err
	}

	basic := cfg.BasicConfig
	store := assistant.NewService(db, logger)
	manager := worker.NewManager(store, responder, worker.DispatcherConfig{
		MinWorkers:  basic.MinWorkers,
		MaxWorkers:  basic.MaxWorkers,
		QueueSize:   basic.QueueSize,
		IdleTimeout: time.Duration(basic.WorkerIdleTimeout) * time.Minute,
	}, worker.WithCache(cache), worker.WithLogger(logger))
	defer manager.Close()

	authService := auth.NewService(db, cache, time.Duration(basic.TokenTTL)*time.Hour, logger)

	sched, err := cleanup.New(basic.CleanupSchedule, authService, manager,
		time.Duration(basic.StateIdleTTL)*time.Minute, logger)
	if err != nil {
		return err
	}
	sched.Start()

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(store, authService, manager, logger)
	srv := &http.Server{
		Addr:              basic.ServerAddress,
		Handler:           api.NewRouter(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("cleanup scheduler did not stop", zap.Error(err))
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newResponder wires the chat model and the gemini image capabilities.
// Without a gemini key the image capabilities stay unconfigured and
// image turns fail at dispatch.
func newResponder(ctx context.Context, cfg *config.Config) (*ai.Dispatcher, error) {
	var genaiClient *genai.Client
	if gem := cfg.Providers["gemini"]; gem.APIKey != "" {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  gem.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		genaiClient = client
	}

	provider := cfg.Assistant.ChatProvider
	chatModel, err := ai.NewChatModel(ctx, provider, cfg.Providers[provider], genaiClient)
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	dcfg := ai.DispatcherConfig{
		Chat:        ai.NewEinoChat(chatModel),
		Persona:     cfg.Assistant.Persona,
		AspectRatio: cfg.Assistant.AspectRatio,
		Timeout:     time.Duration(cfg.Assistant.Timeout) * time.Second,
		Logger:      logger,
	}
	if genaiClient != nil {
		images := ai.NewGeminiImages(genaiClient, cfg.Assistant.ImageModel)
		dcfg.Generator = images
		dcfg.Editor = images
	} else {
		logger.Warn("gemini api key not set; image generation and editing disabled")
	}
	return ai.NewDispatcher(dcfg), nil
}
