package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/knusbaum/robby/internal/banner"
	"github.com/knusbaum/robby/internal/cli"
	"github.com/knusbaum/robby/internal/runner"
	"github.com/knusbaum/robby/internal/scenario"
	"github.com/knusbaum/robby/internal/storage"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "robby",
	Short: "robby - website load test",
	Long: `
robby drives simulated website users against a target host.

Each user logs in, browses the index and profile pages (2:1) with a
500-2000ms wait between pages, and logs out when the run ends.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(viper.GetString("loglevel")); err != nil {
			return err
		}
		if f := viper.ConfigFileUsed(); f != "" {
			log.Debug().Str("file", f).Msg("using config file")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromViper()
		if err != nil {
			return err
		}
		return runHeadless(cmd.Context(), cfg)
	},
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("robby failed")
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(dummyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(proxyCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.robby.yaml)")
	pf.String("loglevel", "warn", "log level: debug, info, warn, error or 0-5")
	pf.String("history", "", "history database (default is $HOME/.robby/history.db)")

	f := rootCmd.Flags()
	f.StringP("host", "H", "http://localhost:8080", "Target host, e.g. http://localhost:8080")
	f.IntP("users", "u", 1, "Number of simulated users")
	f.Float64P("spawn-rate", "r", 0, "Users started per second (0 starts all at once)")
	f.DurationP("run-time", "t", time.Minute, "Run duration (e.g. 30s, 5m)")
	f.Int("timeout", 10, "Request timeout in seconds")
	f.String("csv", "", "Output filename prefix for CSV/JSON reports")
	f.Int64("seed", 0, "Random seed for task selection and waits (0 is time based)")
	f.Bool("no-history", false, "Do not save this run to the history database")

	viper.BindPFlags(pf)
	viper.BindPFlags(f)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".robby")
		}
	}
	viper.SetEnvPrefix("robby")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.ReadInConfig()
}

func setupLogging(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli})
	return nil
}

// parseLevel accepts zerolog level names or their numbers.
func parseLevel(level string) (zerolog.Level, error) {
	if n, err := strconv.Atoi(level); err == nil {
		if n < int(zerolog.TraceLevel) || n > int(zerolog.Disabled) {
			return zerolog.NoLevel, fmt.Errorf("log level %d out of range", n)
		}
		return zerolog.Level(n), nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", level, err)
	}
	return lvl, nil
}

func configFromViper() (runner.Config, error) {
	cfg := runner.Config{
		Host:       viper.GetString("host"),
		NumUsers:   viper.GetInt("users"),
		SpawnRate:  viper.GetFloat64("spawn-rate"),
		RunTime:    viper.GetDuration("run-time"),
		TimeoutSec: viper.GetInt("timeout"),
		OutPrefix:  viper.GetString("csv"),
		Seed:       viper.GetInt64("seed"),
	}
	return cfg, cfg.Validate()
}

func historyPath() (string, error) {
	if p := viper.GetString("history"); p != "" {
		return p, nil
	}
	return storage.DefaultPath()
}

// --- Runners ---

func runHeadless(ctx context.Context, cfg runner.Config) error {
	r := runner.NewRunner(cfg, scenario.Website())
	if err := cli.Start(ctx, r, os.Stdout, time.Second); err != nil {
		return err
	}

	if viper.GetBool("no-history") {
		return nil
	}
	return saveHistory(r)
}

func saveHistory(r *runner.Runner) error {
	path, err := historyPath()
	if err != nil {
		return err
	}
	store, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	item := storage.HistoryItem{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Scenario:  r.Scenario.Name,
		Config:    r.Cfg,
		Summary:   storage.Summarize(r),
	}
	if err := store.Save(item); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	log.Info().Str("id", item.ID).Str("path", path).Msg("run saved to history")
	return nil
}
