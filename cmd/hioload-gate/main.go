// File: cmd/hioload-gate/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioload-gate runs the HTTP to WebSocket gateway, or with the agent
// subcommand, a peer that answers gateway requests from an upstream server.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/client"
	"github.com/momentics/hioload-gate/control"
	"github.com/momentics/hioload-gate/proxy"
	"github.com/momentics/hioload-gate/server"
)

var (
	configPath string
	wsPorts    []int
	proxyPorts []int
	workers    int
	logLevel   string
	correlate  bool

	gatewayURL  string
	upstreamURL string
)

var rootCmd = &cobra.Command{
	Use:   "hioload-gate",
	Short: "HTTP to WebSocket gateway",
	Long: `hioload-gate accepts HTTP requests on the proxy ports, broadcasts each
raw request to every peer connected on the WebSocket ports and relays the
peer's reply back to the HTTP client.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		level, err := zap.ParseAtomicLevel(cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		log, err := newLogger(level, cfg.Log.Development)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store := control.NewStore(configPath, cfg)
		store.OnReload(func(next *control.File) {
			if l, err := zap.ParseAtomicLevel(next.Log.Level); err == nil {
				level.SetLevel(l.Level())
			}
			log.Info("configuration reloaded; listener and worker changes apply on restart",
				zap.String("log_level", next.Log.Level))
		})
		if configPath != "" {
			go watchReload(ctx, store, log)
		}
		return runGateway(ctx, cfg, log)
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Answer gateway requests from an upstream HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := zap.ParseAtomicLevel(logLevel)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		log, err := newLogger(level, false)
		if err != nil {
			return err
		}
		defer log.Sync()

		a, err := client.NewAgent(client.AgentConfig{
			GatewayURL: gatewayURL,
			Upstream:   upstreamURL,
			ClientConfig: client.Config{
				WriteTimeout:      5 * time.Second,
				HeartbeatInterval: 30 * time.Second,
			},
			Logger: log.Named("agent"),
		})
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.Run(ctx)
	},
}

func init() {
	flags := rootCmd.Flags()
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&configPath, "config", "", "YAML configuration file; SIGHUP reloads it")
	flags.IntSliceVar(&wsPorts, "ws-port", nil, "WebSocket listening ports")
	flags.IntSliceVar(&proxyPorts, "proxy-port", nil, "HTTP proxy listening ports")
	flags.IntVar(&workers, "workers", 0, "worker pool size")
	flags.BoolVar(&correlate, "correlate", false, "tag requests with correlation tokens")

	agentCmd.Flags().StringVar(&gatewayURL, "gateway", "ws://127.0.0.1:8081/", "gateway WebSocket URL")
	agentCmd.Flags().StringVar(&upstreamURL, "upstream", "http://127.0.0.1:5050", "upstream base URL")

	rootCmd.AddCommand(agentCmd)
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*control.File, error) {
	cfg := control.DefaultFile()
	if configPath != "" {
		var err error
		if cfg, err = control.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("ws-port") {
		cfg.WebSocket.Ports = wsPorts
	}
	if flags.Changed("proxy-port") {
		cfg.Proxy.Ports = proxyPorts
	}
	if flags.Changed("workers") {
		cfg.WebSocket.Workers = workers
	}
	if flags.Changed("correlate") {
		cfg.Proxy.Correlate = correlate
	}
	if cmd.Flags().Changed("log-level") || configPath == "" {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(level zap.AtomicLevel, development bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func watchReload(ctx context.Context, store *control.Store, log *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := store.Reload(); err != nil {
				log.Warn("config reload failed", zap.Error(err))
			}
		}
	}
}

func runGateway(ctx context.Context, cfg *control.File, log *zap.Logger) error {
	metrics := control.NewMetricsRegistry()
	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)

	srv, err := server.New(&server.Config{
		Ports:            cfg.WebSocket.Ports,
		Workers:          cfg.WebSocket.Workers,
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		MaxEvents:        cfg.WebSocket.MaxEvents,
		RequireMask:      cfg.WebSocket.RequireMask,
		PinWorkers:       cfg.WebSocket.PinWorkers,
	},
		server.WithLogger(log.Named("ws")),
		server.WithMetrics(metrics),
		server.WithProbes(probes),
	)
	if err != nil {
		return err
	}

	front, err := proxy.New(&proxy.Config{
		Ports:             cfg.Proxy.Ports,
		ResponseTimeout:   cfg.Proxy.ResponseTimeout,
		Correlate:         cfg.Proxy.Correlate,
		RateLimit:         cfg.Proxy.RateLimit,
		Burst:             cfg.Proxy.Burst,
		StatePath:         cfg.Proxy.StatePath,
		MetricsPath:       cfg.Proxy.MetricsPath,
		ReadHeaderTimeout: 10 * time.Second,
	}, srv.Bridge(),
		proxy.WithLogger(log.Named("proxy")),
		proxy.WithMetrics(metrics),
		proxy.WithProbes(probes),
	)
	if err != nil {
		srv.Shutdown()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 2)
	go func() { errs <- srv.Run(ctx) }()
	go func() { errs <- front.Run(ctx) }()
	log.Info("gateway running",
		zap.Ints("ws_ports", srv.Ports()),
		zap.Ints("proxy_ports", cfg.Proxy.Ports),
		zap.Bool("correlate", cfg.Proxy.Correlate))

	// Either side failing stops the other.
	err = <-errs
	cancel()
	return multierr.Append(err, <-errs)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
