package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/pylearn/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change ~/.pylearn/config.yaml",
	}
	cmd.AddCommand(configShowCmd(), configSetCmd(), configSecretsCmd(), configPathCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting",
		Long:  "Keys: " + strings.Join(config.Keys(), ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.EnsureDataDir(); err != nil {
				return err
			}
			cfg, err := config.LoadLocalConfig()
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.SaveLocalConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func configSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Store connection strings outside config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := config.EnsureDataDir()
			if err != nil {
				return err
			}
			cfg, err := config.LoadLocalConfig()
			if err != nil {
				return err
			}

			secrets := config.SecretsConfig{PostgresDSN: cfg.Storage.DSN, AMQPURL: cfg.Queue.URL}
			if cmd.Flags().Changed("postgres-dsn") {
				secrets.PostgresDSN, _ = cmd.Flags().GetString("postgres-dsn")
			}
			if cmd.Flags().Changed("amqp-url") {
				secrets.AMQPURL, _ = cmd.Flags().GetString("amqp-url")
			}
			if err := config.SaveSecrets(dir, secrets); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Secrets saved.")
			return nil
		},
	}
	cmd.Flags().String("postgres-dsn", "", "PostgreSQL connection string")
	cmd.Flags().String("amqp-url", "", "RabbitMQ URL")
	return cmd
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := config.DataDir()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(dir, "config.yaml"))
			return nil
		},
	}
}
