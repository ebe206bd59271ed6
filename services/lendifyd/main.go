package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	engineconfig "lendify/config"
	"lendify/core/events"
	"lendify/gateway/middleware"
	"lendify/gateway/routes"
	"lendify/observability"
	"lendify/observability/logging"
	telemetry "lendify/observability/otel"
	"lendify/services/analytics"
	"lendify/services/lendifyd/config"
)

func main() {
	var cfgPath string
	pflag.StringVarP(&cfgPath, "config", "c", "services/lendifyd/config.yaml", "path to lendifyd config")
	pflag.Parse()

	if err := run(cfgPath); err != nil {
		log.Fatalf("lendifyd: %v", err)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("LENDIFY_ENV"))
	logger := logging.Setup("lendifyd", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig("lendifyd", env, cfg.Observability.Tracing))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	engineCfg, err := engineconfig.Load(cfg.EngineConfig)
	if err != nil {
		return fmt.Errorf("load engine config: %w", err)
	}
	rt, err := engineCfg.Runtime()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	n, err := buildNode(rt)
	if err != nil {
		return err
	}
	logger.Info("lending engine ready",
		slog.String("token", rt.Token.Symbol),
		slog.String("reserve", rt.Reserve.Hex()),
		slog.String("reserve_balance", n.ledger.BalanceOf(rt.Reserve).String()),
		slog.Duration("accrual_period", rt.Lending.AccrualPeriod),
		slog.Any("paused", rt.Paused))

	emitters := events.Multi{observability.Loans()}
	var publisher *analytics.Publisher
	if cfg.Analytics.Enabled() {
		publisher, err = analytics.NewPublisher(analytics.PublisherConfig{
			Endpoint:   cfg.Analytics.Endpoint,
			OutboxPath: cfg.Analytics.OutboxPath,
			Timeout:    cfg.Analytics.Timeout,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("init analytics publisher: %w", err)
		}
		defer publisher.Close()
		emitters = append(emitters, publisher)
	}
	async := events.NewAsync(emitters, cfg.Events.Buffer)
	n.engine.SetEmitter(async)

	handler, err := routes.New(routesConfig(cfg, n, logger))
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure && cfg.TLS.CertPath == "" {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			_ = listener.Close()
			return errors.New("plaintext lendifyd mode is restricted to loopback listeners or dev environment")
		}
	}
	tlsCfg, err := loadServerTLS(cfg.TLS)
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("configure tls: %w", err)
	}

	server := &http.Server{
		Handler:           otelhttp.NewHandler(handler, "lendifyd"),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         tlsCfg,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweep := &sweeper{engine: n.engine, async: async, logger: logger, now: time.Now}
	go sweep.run(ctx, cfg.Sweeper.Interval)
	if publisher != nil {
		go flushLoop(ctx, publisher, cfg.Analytics.FlushInterval, logger)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendifyd listening", slog.String("addr", listener.Addr().String()), slog.Bool("tls", tlsCfg != nil))
		if tlsCfg != nil {
			serverErr <- server.ServeTLS(listener, "", "")
			return
		}
		serverErr <- server.Serve(listener)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = server.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve http: %w", err)
		}
	}

	// Drain queued events before the publisher's outbox closes.
	async.Close()
	if dropped := async.Dropped(); dropped > 0 {
		logger.Warn("lifecycle events dropped", slog.Uint64("count", dropped))
	}
	return serveErr
}

func routesConfig(cfg config.Config, n *node, logger *slog.Logger) routes.Config {
	rc := routes.Config{
		Engine:   n.engine,
		Balances: n.ledger,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			Enabled:     cfg.Observability.Metrics,
			LogRequests: cfg.Observability.LogRequests,
		}, logger),
		CORS:   middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		Logger: logger,
	}
	if !cfg.RateLimit.Disabled {
		rc.RateLimiter = middleware.NewRateLimiter(map[string]middleware.RateLimit{
			routes.RateLimitGroup: {
				RatePerSecond: cfg.RateLimit.RatePerSecond,
				Burst:         cfg.RateLimit.Burst,
				Tokens:        cfg.RateLimit.Tokens,
			},
		}, logger)
	}
	if cfg.Observability.Metrics {
		rc.MetricsHandler = promhttp.Handler()
	}
	if cfg.Analytics.Enabled() && cfg.Analytics.Proxy {
		rc.AnalyticsTarget = cfg.Analytics.URL()
	}
	return rc
}

func flushLoop(ctx context.Context, publisher *analytics.Publisher, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			delivered, err := publisher.Flush(ctx)
			if err != nil {
				pending, _ := publisher.Pending()
				logger.Debug("analytics outbox retry deferred",
					slog.Int("delivered", delivered),
					slog.Int("pending", pending),
					slog.Any("error", err))
				continue
			}
			if delivered > 0 {
				logger.Info("analytics outbox flushed", slog.Int("delivered", delivered))
			}
		}
	}
}

func telemetryConfig(service, env string, traces bool) telemetry.Config {
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	return telemetry.Config{
		ServiceName: service,
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     endpoint != "",
		Traces:      traces && endpoint != "",
	}
}

func loadServerTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.MTLSEnabled() {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsCfg.ClientAuth = tls.NoClientCert
	}
	return tlsCfg, nil
}
