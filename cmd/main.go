package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/price-monitor-bot/internal/api"
	"github.com/price-monitor-bot/internal/config"
	"github.com/price-monitor-bot/internal/monitor"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	_ "time/tzdata"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
	debug      bool

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "price-monitor",
		Short:         "Watches a category page and reports prices to Telegram",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.json", "path to the JSON config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(newRunCommand(opts), newDaemonCommand(opts))

	return root
}

func (o *rootOptions) setup() error {
	if err := godotenv.Load(o.envFile); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to load %s", o.envFile)
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if o.debug {
		cfg.Logging.Level = "debug"
	}

	configureLogging(cfg.Logging)
	o.cfg = cfg

	return nil
}

func configureLogging(cfg config.LoggingConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", cfg.Level)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a single price check and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.cfg, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.monitor.RunOnce(cmd.Context())
			log.WithFields(log.Fields{
				"outcome":  result.Outcome,
				"duration": result.Duration.Round(time.Millisecond),
			}).Info("Price check complete")

			return nil
		},
	}
}

func newDaemonCommand(opts *rootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run price checks on an interval and serve the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if interval <= 0 {
				interval = time.Duration(cfg.Monitor.IntervalSeconds) * time.Second
			}
			if interval <= 0 {
				return errors.New("interval must be positive")
			}

			a, err := newApp(cfg, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			log.Infof("Starting price monitor v%s, checking every %v", version, interval)

			var apiServer *api.Server
			if cfg.API.Enabled {
				apiServer = api.NewServer(ctx, cfg, a.store, a.monitor, a.proxyReporter(), a.metrics, nil)
				go func() {
					if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Errorf("Status API failed: %v", err)
					}
				}()
			}

			runMonitorLoop(ctx, a.monitor, interval)

			if apiServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := apiServer.Shutdown(shutdownCtx); err != nil {
					log.Errorf("Status API shutdown error: %v", err)
				}
			}

			log.Info("Shutdown complete")
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "time between checks (defaults to monitor.interval_seconds)")

	return cmd
}

type runner interface {
	RunOnce(ctx context.Context) monitor.Result
}

func runMonitorLoop(ctx context.Context, m runner, interval time.Duration) {
	// first check runs immediately
	m.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Monitor loop stopped")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}
