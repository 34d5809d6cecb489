package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/sms-dispatcher/internal/bootstrap"
	"github.com/kursadbilgin/sms-dispatcher/internal/config"
	"github.com/kursadbilgin/sms-dispatcher/internal/dispatch"
	"github.com/kursadbilgin/sms-dispatcher/internal/handler"
	"github.com/kursadbilgin/sms-dispatcher/internal/observability"
	"github.com/kursadbilgin/sms-dispatcher/internal/service"
	"github.com/kursadbilgin/sms-dispatcher/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("sms-dispatcher api exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()
	checks := map[string]handler.Check{}

	be, err := bootstrap.NewBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close() //nolint:errcheck
	if be.Ready != nil {
		checks[cfg.Transport] = be.Ready
	}

	pacer, rdb, err := bootstrap.NewPacer(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		checks["redis"] = handler.RedisCheck(rdb)
	}

	dispatcher, err := dispatch.NewDispatcher(be.Provider, pacer, logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	runs, err := service.NewRunService(dispatcher, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "sms-dispatcher",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, checks)
	if err := handler.RegisterRunRoutes(app, runs); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if be.Start != nil {
		g.Go(func() error {
			return be.Start(gctx)
		})
	}

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("sms-dispatcher api started",
			zap.String("addr", addr),
			zap.String("transport", cfg.Transport),
			zap.Bool("sharedPacing", rdb != nil),
		)
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := runs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("active run did not stop in time", zap.Error(err))
		}
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		logger.Info("sms-dispatcher api stopped")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
