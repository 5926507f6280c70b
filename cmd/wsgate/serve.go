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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"dqx0.com/go/wsgate/config"
	"dqx0.com/go/wsgate/internal/echo"
	"dqx0.com/go/wsgate/internal/obs"
	"dqx0.com/go/wsgate/server"
)

var (
	serveAddr        string
	serveLogLevel    string
	serveLogFormat   string
	serveMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start serving the configured endpoints. Each endpoint answers POSTed
bodies and publishes its description at <address>?wsdl.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "", "Log format: text or json")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Address for the prometheus /metrics listener")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	logger := obs.SlogLogger{L: obs.NewLogger(os.Stderr, obs.LevelFromString(cfg.Logging.Level), cfg.Logging.Format)}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	meter := obs.NewPromMeter(reg, "wsgate")

	srv := server.New(echo.Engine{}, echoMappings(cfg.Endpoints), *cfg, server.WithLogger(logger), server.WithMeter(meter))
	if err := srv.Start(); err != nil {
		return err
	}
	for _, ep := range cfg.Endpoints {
		fmt.Fprintf(cmd.OutOrStdout(), "description published at %s%s?wsdl\n", baseURL(cfg, srv), ep.Path)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Logf(obs.Error, "metrics listener: %v", err)
			}
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	logger.Logf(obs.Info, "received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
	return srv.Stop(ctx)
}

// loadServeConfig loads the config file and layers the serve flags that
// were explicitly set on top of it.
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// echoMappings turns endpoint config into echo services keyed by routing
// path.
func echoMappings(endpoints []config.EndpointConfig) map[string]any {
	mappings := make(map[string]any, len(endpoints))
	for _, ep := range endpoints {
		svc := &echo.Service{
			Name:            ep.Service,
			Port:            ep.Port,
			Prefix:          ep.Prefix,
			DescriptionFile: ep.DescriptionFile,
		}
		if len(ep.Schemas) > 0 {
			svc.SchemaFiles = make(map[string]string, len(ep.Schemas))
			for _, sc := range ep.Schemas {
				svc.SchemaFiles[sc.Name] = sc.File
			}
		}
		mappings[ep.Path] = svc
	}
	return mappings
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = serveAddr
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = serveLogLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = serveLogFormat
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = serveMetricsAddr
	}
}

func baseURL(cfg *config.Config, srv *server.Server) string {
	scheme := "http"
	if cfg.TLS.CertFile != "" {
		scheme = "https"
	}
	return scheme + "://" + srv.Addr().String()
}
