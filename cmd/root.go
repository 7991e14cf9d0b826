package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"crudstress/internal/banner"
	"crudstress/internal/config"
)

var (
	cfgFile string
	// configErr is set when the config file exists but cannot be read.
	configErr error

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "crudstress",
	Short: "crudstress - concurrent CRUD load generator",
	Long: `
crudstress drives create/read/update/delete cycles against PostgreSQL,
MongoDB and Elasticsearch with a fixed pool of workers per store, then
reports throughput, error rate and the records left behind.

Without a subcommand it runs the configured targets.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runLoad,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured targets (default)",
	RunE:  runLoad,
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), banner.GetString())
		_ = cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(runCmd, configCmd, historyCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./crudstress.yaml, then $HOME/.crudstress.yaml)")

	pf.StringSliceP("targets", "t", nil, "targets to stress: postgres, mongo, elastic, memory")
	pf.IntP("workers", "w", 0, "workers per target")
	pf.DurationP("duration", "d", 0, "run duration (ignored when --iterations is set)")
	pf.Int64P("iterations", "n", 0, "fixed number of cycles per target")
	pf.Bool("clear", true, "clear target storage before the run")
	pf.Duration("ramp-up", 0, "stagger worker starts across this window")
	pf.Duration("think-time", 0, "pause between cycles per worker")
	pf.Float64("rate", 0, "max cycles per second per target (0 = unlimited)")
	pf.Duration("op-timeout", 0, "timeout for one cycle (0 = none)")
	pf.Int("words", 0, "filler words per record")
	pf.Int("search-every", 0, "run a full-text search after every N cycles per worker (0 = off)")
	pf.String("search-keyword", "", "keyword the full-text search counts")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :2112")
	pf.String("log-level", "", "debug, info, warn, error")
	pf.String("log-format", "", "console or json")
	pf.String("log-file", "", "write logs to this file")
	pf.StringP("out", "o", "", "output filename prefix for JSON/CSV reports")
	pf.Bool("live", false, "show the live dashboard")
	pf.Bool("history", true, "record the run in the local history")
	pf.String("history-path", "", "history database (default $HOME/.crudstress/history.db)")

	for key, flag := range map[string]string{
		"targets":            "targets",
		"run.workers":        "workers",
		"run.duration":       "duration",
		"run.iterations":     "iterations",
		"run.clear_before":   "clear",
		"run.ramp_up":        "ramp-up",
		"run.think_time":     "think-time",
		"run.rate_limit":     "rate",
		"run.op_timeout":     "op-timeout",
		"run.search_every":   "search-every",
		"run.search_keyword": "search-keyword",
		"payload.words":      "words",
		"metrics.addr":       "metrics-addr",
		"log.level":          "log-level",
		"log.format":         "log-format",
		"log.file":           "log-file",
		"report.out":         "out",
		"ui.live":            "live",
		"history.enabled":    "history",
		"history.path":       "history-path",
	} {
		_ = v.BindPFlag(key, pf.Lookup(flag))
	}
}

func initConfig() {
	// .env is optional
	_ = godotenv.Load()

	config.SetDefaults(v)
	config.BindEnv(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		configErr = v.ReadInConfig()
		return
	}

	v.SetConfigType("yaml")
	v.SetConfigName("crudstress")
	v.AddConfigPath(".")
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		configErr = err
		return
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".crudstress.yaml")
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		configErr = v.ReadInConfig()
	}
}

func loadConfig() (config.Config, error) {
	if configErr != nil {
		return config.Config{}, fmt.Errorf("read config: %w", configErr)
	}
	return config.Load(v)
}
