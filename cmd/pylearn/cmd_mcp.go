package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pylearn/internal/config"
	mcpserver "github.com/felixgeelhaar/pylearn/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the learning session as MCP tools",
		Long: `Serves the lesson, quiz, challenge and progress operations over the
Model Context Protocol. Uses stdio unless --http is given.`,
		Args: cobra.NoArgs,
		RunE: runMCP,
	}
	cmd.Flags().String("http", "", "Serve MCP over HTTP on this address instead of stdio")
	return cmd
}

func runMCP(cmd *cobra.Command, _ []string) error {
	dataDir, err := config.EnsureDataDir()
	if err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// stdout carries the protocol, logs go to file and stderr only
	logFile, err := setupLogging(dataDir, "pylearn-mcp", parseLogLevel(cfg.Daemon.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	ctrl := e.controller()
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer ctrl.Close()

	srv := mcpserver.NewServer(mcpserver.Config{
		Controller: ctrl,
		Catalog:    e.catalog,
		Version:    Version,
	})

	if addr, _ := cmd.Flags().GetString("http"); addr != "" {
		return srv.ServeHTTP(ctx, addr)
	}
	return srv.ServeStdio(ctx)
}
