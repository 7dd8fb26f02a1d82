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

	"github.com/welldanyogia/steel-scrap-yard/internal/access"
	"github.com/welldanyogia/steel-scrap-yard/internal/auth"
	"github.com/welldanyogia/steel-scrap-yard/internal/catalog"
	"github.com/welldanyogia/steel-scrap-yard/internal/config"
	"github.com/welldanyogia/steel-scrap-yard/internal/health"
	"github.com/welldanyogia/steel-scrap-yard/internal/history"
	"github.com/welldanyogia/steel-scrap-yard/internal/inference"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/management"
	"github.com/welldanyogia/steel-scrap-yard/internal/metrics"
	"github.com/welldanyogia/steel-scrap-yard/internal/notify"
	"github.com/welldanyogia/steel-scrap-yard/internal/plate"
	"github.com/welldanyogia/steel-scrap-yard/internal/plate/tesseract"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository/backend"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository/memory"
	"github.com/welldanyogia/steel-scrap-yard/internal/sanitizer"
	"github.com/welldanyogia/steel-scrap-yard/internal/storage"
	"github.com/welldanyogia/steel-scrap-yard/internal/upload"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg := config.Load()

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, pool, err := backend.Open(startCtx, &cfg.Database, log)
	if errors.Is(err, backend.ErrUnknownDriver) {
		return err
	}
	if err != nil {
		// Keep serving without persistence; /health reports the outage.
		log.Error("Database unavailable, continuing without persistence",
			slog.String("driver", cfg.Database.Driver),
			slog.String("error", err.Error()),
		)
		store = unavailableStore(err)
	}

	blobs, err := storage.New(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	scrapModel, err := inference.ParseModelRef(cfg.Inference.ScrapModel)
	if err != nil {
		return fmt.Errorf("scrap model: %w", err)
	}
	plateModel, err := inference.ParseModelRef(cfg.Inference.PlateModel)
	if err != nil {
		return fmt.Errorf("plate model: %w", err)
	}
	if cfg.Inference.APIKey == "" {
		log.Warn("ROBOFLOW_API_KEY is not set, classification will run degraded")
	}
	gateway := inference.NewGateway(inference.Config{
		BaseURL: cfg.Inference.BaseURL,
		APIKey:  cfg.Inference.APIKey,
		Timeout: cfg.Inference.Timeout,
	}, &http.Client{Timeout: cfg.Inference.Timeout}, log)

	var recognizer plate.Recognizer
	if cfg.OCR.Enabled {
		recognizer = tesseract.New(cfg.OCR.Language)
		log.Info("OCR enabled",
			slog.String("engine", "tesseract"),
			slog.String("version", tesseract.Version()),
			slog.String("language", cfg.OCR.Language),
		)
	}
	extractor := plate.NewExtractor(recognizer, log)

	var notifier upload.Notifier
	if cfg.Mail.Enabled {
		mailer, err := notify.NewSMTPMailer(&cfg.Mail, log)
		if err != nil {
			log.Warn("Mail notifications disabled", slog.String("error", err.Error()))
		} else {
			notifier = mailer
		}
	}

	var (
		cache      history.Cache
		redisProbe health.Probe
	)
	if cfg.Redis.Addr != "" {
		rc, err := history.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn("Analytics cache disabled", slog.String("error", err.Error()))
		} else {
			defer rc.Close()
			cache, redisProbe = rc, rc.Ping
		}
	}

	mode := access.ParseMode(cfg.Security.TenancyMode)
	if mode == access.ModeAdvisory {
		log.Warn("Tenancy mode is advisory: factory_id parameters are trusted as sent")
	}

	text := sanitizer.New()
	sessions := auth.NewSessionService(store.Sessions, cfg.Session.TTL, log)
	authService := auth.NewAuthService(store.Users, store.Factories, sessions, auth.NewPasswordValidator(), log)

	uploads := upload.NewService(upload.Deps{
		Blobs:      blobs,
		Inferrer:   gateway,
		Plates:     extractor,
		Notifier:   notifier,
		Trucks:     store.Trucks,
		Scraps:     store.Scraps,
		History:    store.History,
		Factories:  store.Factories,
		Users:      store.Users,
		ScrapModel: scrapModel,
		PlateModel: plateModel,
		Logger:     log,
	})
	histories := history.NewService(store.History, cache, text, history.Options{
		DefaultLimit: cfg.Security.DefaultHistory,
		MaxLimit:     cfg.Security.MaxHistoryLength,
	}, log)
	managed := management.NewService(store, authService.Passwords(), text, log)

	scrapTypes, err := catalog.Load(cfg.Catalog.File)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	healthHandler := health.NewHandler(health.Config{
		Database: store.Ping,
		Checks: map[string]health.Probe{
			"storage": blobs.Ping,
			"redis":   redisProbe,
		},
		Version: version,
	})

	if pool != nil {
		collector := metrics.NewDBStatsCollector(pool, log)
		collector.Start(15 * time.Second)
		defer collector.Stop()
	}

	router, stopRouter := newRouter(cfg, log, routerDeps{
		auth:       authService,
		uploads:    upload.NewHandler(uploads, mode, cfg.Security.MaxUploadBytes, log),
		history:    history.NewHandler(histories, mode, log),
		management: management.NewHandler(managed, mode, log),
		catalog:    scrapTypes,
		health:     healthHandler,
		blobs:      blobs,
	})
	defer stopRouter()

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting server",
			slog.String("addr", addr),
			slog.String("version", version),
			slog.String("db_driver", cfg.Database.Driver),
			slog.String("storage_driver", cfg.Storage.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	log.Info("Shutting down server")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	if err := store.Close(ctx); err != nil {
		log.Warn("Closing database failed", slog.String("error", err.Error()))
	}

	log.Info("Server exited")
	return nil
}

// unavailableStore stands in for a database that could not be reached.
// Writes land in process memory and the health probe keeps reporting cause.
func unavailableStore(cause error) *repository.Store {
	store := memory.New().Store()
	store.Ping = func(context.Context) error { return cause }
	return store
}
