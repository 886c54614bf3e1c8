package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	clientcmd "github.com/rzbill/eventpipe/internal/cmd/client"
	serverrun "github.com/rzbill/eventpipe/internal/cmd/server"
	cfgpkg "github.com/rzbill/eventpipe/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "eventpipe",
		Short:         "Event ingestion and job processing pipeline",
		Long:          "eventpipe consumes events from a partitioned log, validates them, enqueues one job per event and processes jobs with bounded concurrency and retry.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv(cfgpkg.EnvPrefix+"CONFIG"), "Config file (YAML or JSON)")

	runCmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the pipeline worker",
		Aliases: []string{"start"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("pipeline error: %w", err)
			}
			return nil
		},
	}
	runCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	runCmd.Flags().String("http", "", "Admin API listen address (empty string in config disables it)")
	runCmd.Flags().Int("concurrency", 0, "Maximum jobs processed at once")
	runCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	runCmd.Flags().String("log-format", "", "Log format: text|json")
	rootCmd.AddCommand(runCmd)

	configCmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	configCmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	})
	rootCmd.AddCommand(configCmd)

	clientcmd.AddCommands(rootCmd, apiURL)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, EVENTPIPE_* variables and
// command-line flags, in that order.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	if err := cfgpkg.FromEnv(&cfg); err != nil {
		return cfgpkg.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("http") {
		cfg.HTTP.Addr, _ = flags.GetString("http")
	}
	if flags.Changed("concurrency") {
		cfg.Worker.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	return cfg, cfg.Validate()
}

// apiURL is EVENTPIPE_API, else derived from EVENTPIPE_HTTP_ADDR, else the
// default admin address.
func apiURL() string {
	if v := os.Getenv(cfgpkg.EnvPrefix + "API"); v != "" {
		return v
	}
	addr := os.Getenv(cfgpkg.EnvPrefix + "HTTP_ADDR")
	if addr == "" {
		addr = cfgpkg.Default().HTTP.Addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + strings.TrimPrefix(addr, "http://")
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
