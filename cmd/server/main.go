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

	"github.com/rohits-web03/memoscribe/internal/api"
	"github.com/rohits-web03/memoscribe/internal/api/services"
	"github.com/rohits-web03/memoscribe/internal/auth"
	"github.com/rohits-web03/memoscribe/internal/blobstore"
	"github.com/rohits-web03/memoscribe/internal/config"
	"github.com/rohits-web03/memoscribe/internal/generation"
	"github.com/rohits-web03/memoscribe/internal/logger"
	"github.com/rohits-web03/memoscribe/internal/pipeline"
	"github.com/rohits-web03/memoscribe/internal/repositories"
	"github.com/rohits-web03/memoscribe/internal/staging"
	"github.com/rohits-web03/memoscribe/internal/transcription"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// @title                       Memoscribe API
// @version                     1.0
// @description                 Voice memo upload, transcription and text generation.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	cfg := config.Load()
	log := logger.New(cfg.Environment, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func providers(cfg config.Config, log logrus.FieldLogger) (transcription.Transcriber, generation.Generator) {
	if cfg.UseStubProviders {
		log.Warn("Using stub transcription and generation providers")
		return &transcription.Stub{}, &generation.Stub{}
	}

	// One client per provider for the life of the process; per-call
	// deadlines come from the orchestrator.
	transcriber := transcription.NewOpenAIClient(
		&http.Client{Timeout: cfg.Transcription.Timeout + 5*time.Second},
		transcription.Config{
			APIKey:  cfg.Transcription.APIKey,
			BaseURL: cfg.Transcription.BaseURL,
			Model:   cfg.Transcription.Model,
		},
	)
	generator := generation.NewOpenAIClient(
		&http.Client{Timeout: cfg.Generation.Timeout + 5*time.Second},
		generation.Config{
			APIKey:       cfg.Generation.APIKey,
			BaseURL:      cfg.Generation.BaseURL,
			Model:        cfg.Generation.Model,
			SystemPrompt: cfg.GenerationSystemPrompt,
		},
	)
	return transcriber, generator
}

func run(cfg config.Config, log *logrus.Logger) error {
	db, err := repositories.ConnectDatabase(cfg.DBDriver, cfg.DB_URL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	log.WithField("driver", cfg.DBDriver).Info("Database connected")

	blobs, err := blobstore.New(blobstore.Config{
		AccountID:       cfg.R2.AccountID,
		AccessKeyID:     cfg.R2.AccessKeyID,
		SecretAccessKey: cfg.R2.SecretAccessKey,
		BucketName:      cfg.R2.BucketName,
		Region:          cfg.R2.Region,
		Endpoint:        cfg.R2.Endpoint,
		PublicBaseURL:   cfg.R2.PublicBaseURL,
		Namespace:       cfg.R2.Namespace,
	})
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	area, err := staging.NewArea(cfg.Pipeline.StagingDir)
	if err != nil {
		return err
	}

	records := repositories.NewRecordRepository(db)
	users := repositories.NewUserRepository(db)
	transcriber, generator := providers(cfg, log)

	orchestrator := pipeline.New(pipeline.Deps{
		Records:     records,
		Blobs:       blobs,
		Staging:     area,
		Transcriber: transcriber,
		Generator:   generator,
		Log:         log,
	}, pipeline.Options{
		Retry: pipeline.RetryPolicy{
			MaxRetries:      cfg.Pipeline.MaxRetries,
			InitialInterval: cfg.Pipeline.InitialBackoff,
			Multiplier:      cfg.Pipeline.BackoffMultiplier,
			MaxInterval:     30 * time.Second,
		},
		UploadTimeout:        cfg.Pipeline.UploadTimeout,
		FetchTimeout:         cfg.Pipeline.UploadTimeout,
		TranscriptionTimeout: cfg.Transcription.Timeout,
		GenerationTimeout:    cfg.Generation.Timeout,
		MaxUploadBytes:       cfg.Pipeline.MaxUploadBytes,
	})

	handler := api.SetupRouter(api.Deps{
		Config:   cfg,
		Log:      log,
		Users:    users,
		Pipeline: orchestrator,
		Blobs:    blobs,
		Tokens:   auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Hasher:   auth.NewPasswordHasher(cfg.BcryptCost),
		Google:   services.NewGoogleOAuth(cfg.Google),
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: handler,
		// Uploads and synchronous provider calls need more than the usual
		// write budget.
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Starting Memoscribe server on port: %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on port %s: %w", cfg.Port, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)

		orchestrator.Wait()
		log.Info("Background transcriptions finished")

		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return err
	})

	return g.Wait()
}
