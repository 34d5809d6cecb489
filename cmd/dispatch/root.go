package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kursadbilgin/sms-dispatcher/internal/bootstrap"
	"github.com/kursadbilgin/sms-dispatcher/internal/config"
	"github.com/kursadbilgin/sms-dispatcher/internal/dispatch"
	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
	"github.com/kursadbilgin/sms-dispatcher/internal/observability"
	"github.com/kursadbilgin/sms-dispatcher/internal/ratelimit"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errRunStopped = errors.New("run stopped")

// deps are the pieces the command builds from config; tests swap them.
type deps struct {
	newBackend func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*bootstrap.Backend, error)
	newPacer   func(ctx context.Context, cfg *config.Config) (ratelimit.Pacer, io.Closer, error)
	newLogger  func(level string) (*zap.Logger, error)
}

func defaultDeps() deps {
	return deps{
		newBackend: bootstrap.NewBackend,
		newPacer: func(ctx context.Context, cfg *config.Config) (ratelimit.Pacer, io.Closer, error) {
			pacer, rdb, err := bootstrap.NewPacer(ctx, cfg)
			if err != nil || rdb == nil {
				return pacer, nil, err
			}
			return pacer, rdb, nil
		},
		newLogger: observability.NewLogger,
	}
}

func newRootCommand(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dispatch --to <address> --body <text> --count <n> --delay <seconds>",
		Short:         "Send N copies of a message, pacing them by a fixed delay",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDispatch(cmd, d)
		},
	}
	cmd.SetOut(os.Stdout)

	flags := cmd.Flags()
	flags.String("to", "", "Destination address")
	flags.String("body", "", "Message body")
	flags.String("count", "", "Number of copies to send")
	flags.String("delay", "", "Delay between sends in whole seconds (minimum 1)")
	flags.String("transport", "", "Transport override: webhook or amqp (default from TRANSPORT)")
	flags.String("webhook-url", "", "Gateway URL override (default from WEBHOOK_URL)")
	flags.String("log-level", "", "Log level override (default from LOG_LEVEL)")

	return cmd
}

func runDispatch(cmd *cobra.Command, d deps) error {
	flags := cmd.Flags()
	to, _ := flags.GetString("to")
	body, _ := flags.GetString("body")
	count, _ := flags.GetString("count")
	delay, _ := flags.GetString("delay")

	job, err := domain.ParseJob(to, body, count, delay)
	if err != nil {
		return err
	}

	cfg, err := config.Load(func(c *config.Config) {
		if v, _ := flags.GetString("transport"); flags.Changed("transport") {
			c.Transport = v
		}
		if v, _ := flags.GetString("webhook-url"); flags.Changed("webhook-url") {
			c.WebhookURL = v
		}
		if v, _ := flags.GetString("log-level"); flags.Changed("log-level") {
			c.LogLevel = v
		}
	})
	if err != nil {
		return err
	}

	logger, err := d.newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	be, err := d.newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close() //nolint:errcheck

	pacer, closer, err := d.newPacer(ctx, cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	dispatcher, err := dispatch.NewDispatcher(be.Provider, pacer, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	if be.Start != nil {
		g.Go(func() error {
			return be.Start(runCtx)
		})
	}

	var result domain.Result
	g.Go(func() error {
		defer cancelRun()

		var runErr error
		result, runErr = dispatcher.Run(runCtx, job, newConsoleObserver(cmd.OutOrStdout()))
		return runErr
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if !result.Completed() {
		return fmt.Errorf("%w after %d of %d", errRunStopped, result.Sent, result.Target)
	}
	return nil
}
