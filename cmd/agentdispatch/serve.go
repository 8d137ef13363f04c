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

	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/dispatcher"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/health"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
)

// ServeCmd runs the dispatcher until SIGINT or SIGTERM.
type ServeCmd struct {
	Capabilities    string        `help:"Capability declaration file, reloaded on change." type:"path"`
	ShutdownTimeout time.Duration `help:"Grace period for in-flight operations on shutdown." default:"30s"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, logger, err := cli.load()
	if err != nil {
		return err
	}
	defer func() { _ = logging.Zap(logger).Sync() }()

	d, err := dispatcher.New(cfg, dispatcher.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	if c.Capabilities != "" {
		feed := capability.NewFileFeed(c.Capabilities, logger)
		go func() {
			if err := d.Watch(ctx, feed); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("capability feed: %w", err)
			}
		}()
	}

	var server *health.Server
	if cfg.Health.Enabled {
		var metrics http.Handler
		if m := d.Metrics(); m != nil {
			metrics = m.Handler()
		}
		server = health.NewServer(d, health.Config{Addr: cfg.Health.Addr, Metrics: metrics, Logger: logger})
		go func() {
			if err := server.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	logger.Info("dispatcher running",
		logging.String("service", d.Service()),
		logging.Any("transports", d.Transports()))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("stopping after failure", logging.ErrorField(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()

	var shutdownErrors []error
	if runErr != nil {
		shutdownErrors = append(shutdownErrors, runErr)
	}
	if server != nil {
		if err := server.Stop(shutdownCtx); err != nil {
			shutdownErrors = append(shutdownErrors, err)
		}
	}
	if err := d.Close(shutdownCtx); err != nil {
		shutdownErrors = append(shutdownErrors, fmt.Errorf("dispatcher: %w", err))
	}
	return errors.Join(shutdownErrors...)
}
