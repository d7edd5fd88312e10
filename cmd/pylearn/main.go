package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/pylearn/internal/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pylearn",
		Short:         "Learn Python through lessons, quizzes and graded challenges",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if err := godotenv.Load(); err != nil {
				slog.Debug("no .env file found, using environment variables")
			}
		},
	}

	f := root.PersistentFlags()
	f.String("storage", "", "Progress backend (memory, local, sqlite, postgres)")
	f.String("runner", "", "Python runtime (local, docker, queue)")
	f.String("python", "", "Python interpreter for the local runtime")
	f.Int("timeout", 0, "Execution time limit in seconds")
	f.String("locale", "", "Feedback language (en, es)")
	f.String("lessons-dir", "", "Directory overriding the built-in lessons")
	f.String("log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		serveCmd(),
		mcpCmd(),
		workerCmd(),
		lessonsCmd(),
		referenceCmd(),
		runCmd(),
		checkCmd(),
		progressCmd(),
		resetCmd(),
		configCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pylearn %s\n", Version)
		},
	}
}

// viperForCmd binds a command's flags and PYLEARN_* environment variables
// to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())
	cmd.InheritedFlags().VisitAll(func(fl *pflag.Flag) {
		_ = v.BindPFlag(fl.Name, fl)
	})

	v.SetEnvPrefix("PYLEARN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("postgres-dsn", "PYLEARN_POSTGRES_DSN", "DATABASE_URL")
	_ = v.BindEnv("amqp-url", "PYLEARN_AMQP_URL", "RABBITMQ_URL")

	return v
}

// overrides maps viper keys onto config settings
var overrides = map[string]string{
	"storage":     "storage.backend",
	"runner":      "runner.backend",
	"python":      "runner.python",
	"timeout":     "runner.timeout_seconds",
	"locale":      "learning.locale",
	"lessons-dir": "learning.lessons_dir",
	"log-level":   "daemon.log_level",
	"port":        "daemon.port",
	"bind":        "daemon.bind",
	"workers":     "queue.workers",
}

// loadConfig reads ~/.pylearn/config.yaml and applies flag and environment
// overrides on top of it.
func loadConfig(cmd *cobra.Command) (*config.LocalConfig, error) {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	v := viperForCmd(cmd)
	for key, setting := range overrides {
		if !v.IsSet(key) {
			continue
		}
		value := v.GetString(key)
		if value == "" || value == "0" {
			continue
		}
		if err := cfg.Set(setting, value); err != nil {
			return nil, err
		}
	}
	if dsn := v.GetString("postgres-dsn"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if url := v.GetString("amqp-url"); url != "" {
		cfg.Queue.URL = url
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
