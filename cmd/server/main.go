package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/altcheck/internal/config"
	"github.com/blackmichael/altcheck/internal/domain"
	"github.com/blackmichael/altcheck/internal/events"
	"github.com/blackmichael/altcheck/internal/httpserver"
	"github.com/blackmichael/altcheck/internal/messages"
	"github.com/blackmichael/altcheck/internal/metrics"
	"github.com/blackmichael/altcheck/internal/mysql"
	"github.com/blackmichael/altcheck/internal/sqlite"
)

// store is what both repository implementations provide.
type store interface {
	domain.ContentStore
	domain.CursorRepository
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repo, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	logger.Info("connected to database", "driver", cfg.StoreDriver)

	bank := messages.Default()
	if cfg.MessagesPath != "" {
		if bank, err = messages.Load(cfg.MessagesPath); err != nil {
			return err
		}
		logger.Info("loaded message bank", "path", cfg.MessagesPath)
	}

	rng := messages.NewSyncRand(rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())))
	reconciler := domain.NewReconciler(domain.NewReportBuilder(bank, rng))
	feedbackService, err := domain.NewFeedbackService(repo, repo, reconciler, cfg.Bot(), logger)
	if err != nil {
		return fmt.Errorf("create feedback service: %w", err)
	}

	metrics.Register()

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.EventsURL != "" {
		subscriber := events.NewSubscriber(cfg.EventsURL, feedbackService, logger)
		go func() {
			if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("event subscriber exited with error", "error", err)
			}
		}()
	} else {
		logger.Info("EVENTS_URL not set, relying on webhooks")
	}

	server := httpserver.NewServer(cfg, feedbackService, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "bot", cfg.Bot().Login)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}

func openStore(cfg *config.Config) (store, error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		repo, err := mysql.NewRepository(cfg.DatabaseURL, cfg.TablePrefix)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.DriverSQLite:
		repo, err := sqlite.NewRepository(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
