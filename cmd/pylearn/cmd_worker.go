package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pylearn/internal/config"
	"github.com/felixgeelhaar/pylearn/internal/queue"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Execute queued Python runs from RabbitMQ",
		Long: `Consumes run jobs published by sessions using the queue runner and
executes them on a local or Docker runtime.`,
		Args: cobra.NoArgs,
		RunE: runWorker,
	}
	cmd.Flags().String("runtime", "", "Runtime for jobs (local, docker; default from config)")
	cmd.Flags().Int("workers", 0, "Concurrent consumers (default from config)")
	return cmd
}

func runWorker(cmd *cobra.Command, _ []string) error {
	dataDir, err := config.EnsureDataDir()
	if err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logFile, err := setupLogging(dataDir, "pylearn-worker", parseLogLevel(cfg.Daemon.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	backend, _ := cmd.Flags().GetString("runtime")
	if backend == "" {
		backend = cfg.Runner.Backend
	}
	if backend == "queue" {
		return fmt.Errorf("%w: a worker cannot forward to the queue runtime", config.ErrInvalidConfig)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(cfg, backend)
	if err != nil {
		return err
	}
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start %s runtime: %w", rt.Name(), err)
	}
	defer rt.Close()

	conn, err := queue.NewConnection(cfg.Queue.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	handler := queue.NewRunHandler(rt, queue.HandlerConfig{
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		MaxQueue:      queue.DefaultHandlerConfig().MaxQueue,
		QueueTimeout:  queue.DefaultHandlerConfig().QueueTimeout,
	})
	consumer := queue.NewConsumer(conn, handler, queue.ConsumerConfig{
		Workers:  cfg.Queue.Workers,
		Prefetch: cfg.Queue.Prefetch,
	})
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	slog.Info("worker started", "runtime", rt.Name(), "workers", cfg.Queue.Workers)
	<-ctx.Done()

	slog.Info("worker stopping")
	consumer.Stop()
	return nil
}
