// cmd/evidenced/main.go
// Package main implements the entry point for the evidence analysis service.
// It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/auth"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/casefile"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/config"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/event"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/keyframe"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/locale"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/media"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/orchestrator"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/provider"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/report"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/server"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

// run wires every component and blocks until SIGINT or SIGTERM.
func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.InitTracer(telemetry.Options{
		ServiceName: telemetry.ServiceName,
		Version:     server.ServiceVersion,
		Environment: cfg.Env,
	}); err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(shutdownCtx)
	}()

	m := metrics.NewMetrics()

	// Document store (PostgreSQL or in-memory)
	var docs storage.Documents
	if cfg.DatabaseDSN != "" {
		pg, err := storage.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		defer pg.Close()
		docs = pg
	} else {
		logger.Warn("EVD_DB_DSN not set, cases and reports are kept in memory")
		docs = storage.NewMemory()
	}
	docs = storage.WithMetrics(docs, m)

	// Blob store (S3-compatible bucket or local directory)
	var blobs media.BlobStore
	if cfg.S3Bucket != "" {
		s3c, err := media.NewS3Client(ctx, cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			return fmt.Errorf("failed to initialize S3 client: %w", err)
		}
		blobs = s3c
	} else {
		local, err := media.NewLocalStore(cfg.BlobDir)
		if err != nil {
			return err
		}
		blobs = local
	}

	pub := event.NewPublisher(cfg.NATSURL, logger, m)
	defer pub.Close()

	chain, annotators := provider.Select(cfg, logger)
	chain.OnFailure(m.ProviderFailed)
	var narrator orchestrator.Narrator
	if names := chain.Names(); len(names) > 0 {
		narrator = chain
		logger.Info("narrative providers selected", "providers", names)
	} else {
		logger.Warn("no narrative provider configured, every report uses the fallback analysis")
	}

	var frames orchestrator.FrameExtractor
	if ex, err := keyframe.New(cfg.FFmpegPath, logger); err != nil {
		logger.Warn("key frame extraction disabled", "error", err)
	} else {
		frames = ex
	}

	analyzer := orchestrator.New(orchestrator.Options{
		Narrator:    narrator,
		Annotators:  annotators,
		Frames:      frames,
		Timeout:     cfg.ProviderTimeout,
		MaxFileSize: cfg.MaxUploadSize,
		Logger:      logger,
		Metrics:     m,
	})

	catalog, err := locale.New(cfg.DefaultLanguage)
	if err != nil {
		return err
	}
	reportOpts := []report.Option{report.WithMetrics(m)}
	if cfg.ReportFontPath != "" {
		reportOpts = append(reportOpts, report.WithFont(cfg.ReportFontPath))
	}
	renderer, err := report.NewRenderer(catalog, reportOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize report renderer: %w", err)
	}
	if !renderer.UnicodeCapable() {
		logger.Warn("EVD_REPORT_FONT_PATH not set, non-Latin report text is transliterated")
	}

	validator, err := schema.NewValidator(m)
	if err != nil {
		return fmt.Errorf("failed to initialize schema validator: %w", err)
	}

	deps := server.Deps{
		Analyzer:           analyzer,
		Cases:              casefile.New(docs, pub, logger),
		Docs:               docs,
		Blobs:              blobs,
		Reports:            renderer,
		Locales:            catalog,
		Validator:          validator,
		Metrics:            m,
		Logger:             logger,
		MaxUploadSize:      cfg.MaxUploadSize,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	if cfg.AuthEnabled() {
		deps.Auth = auth.NewVerifier(cfg.JWKSURL, cfg.JWTIssuer, cfg.JWTAudience)
	} else {
		logger.Warn("EVD_JWKS_URL not set, write routes are unauthenticated")
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		// narrative and annotation are each bounded by the provider timeout
		WriteTimeout: 2*cfg.ProviderTimeout + time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
