// Package main is the entry point for the multichain gas price service, which
// polls EVM chain nodes for fee data and serves it with a rolling history.
package main

import (
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yourorg/multichain-gas-ea/internal/aggregate"
	"github.com/yourorg/multichain-gas-ea/internal/circuitbreaker"
	"github.com/yourorg/multichain-gas-ea/internal/config"
	"github.com/yourorg/multichain-gas-ea/internal/fetch"
	"github.com/yourorg/multichain-gas-ea/internal/history"
	"github.com/yourorg/multichain-gas-ea/internal/metrics"
	"github.com/yourorg/multichain-gas-ea/internal/otel"
	"github.com/yourorg/multichain-gas-ea/internal/registry"
	"github.com/yourorg/multichain-gas-ea/internal/security"
)

// main is the entry point for the application
func main() {
	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		logrus.WithError(err).Warn("Ignoring environment file")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	setupLogging(cfg)

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	server, err := buildServer(cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		logrus.Fatalf("Startup failed: %v", err)
	}
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging(cfg config.Config) {
	switch cfg.LogFormat {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	default:
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	switch cfg.LogLevel {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	if cfg.LogFile != "" {
		logrus.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}))
	}

	logrus.WithFields(logrus.Fields{
		"format": cfg.LogFormat,
		"level":  logrus.GetLevel().String(),
		"file":   cfg.LogFile,
	}).Info("Logging configured")
}

// buildServer wires every component from the configuration
func buildServer(cfg config.Config, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Server, error) {
	chains, err := registry.Load(cfg.ChainsFile, registry.Options{
		APIKey:    cfg.AlchemyAPIKey,
		Overrides: cfg.RPCEndpoints,
	})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, chains.Len())
	for _, c := range chains.ListChains() {
		keys = append(keys, c.Key)
	}
	logrus.WithField("chains", strings.Join(keys, ",")).Info("Chain registry loaded")

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New(reg)
	}

	clientOpts := fetch.DefaultClientOptions()
	clientOpts.Timeout = cfg.RPCTimeout
	clientOpts.RetryMax = cfg.RPCRetryMax
	fetcher := fetch.NewFeeFetcher(fetch.NewRPCClient(clientOpts), fetch.WithMetrics(m))

	store := history.NewStore(cfg.HistorySize,
		history.JitterSeeder(chains.BaselineRate, cfg.HistorySize, cfg.HistoryInterval, nil))

	opts := []aggregate.Option{
		aggregate.WithMetrics(m),
		aggregate.WithCycleTimeout(cfg.CycleTimeout),
	}

	var breaker *circuitbreaker.Breaker
	if cfg.EnableCircuitBreaker {
		breaker = circuitbreaker.New(circuitbreaker.Options{
			FailureThreshold: cfg.BreakerFailureThreshold,
			CooldownPeriod:   cfg.BreakerCooldown,
			OnStateChange: func(chain string, from, to circuitbreaker.State) {
				m.SetBreakerState(chain, int(to))
				logrus.WithFields(logrus.Fields{
					"chain": chain,
					"from":  from.String(),
					"to":    to.String(),
				}).Info("Circuit breaker state changed")
			},
		})
		opts = append(opts, aggregate.WithBreaker(breaker))
	}

	var signer *security.Signer
	if cfg.SignResponses {
		signer, err = security.NewSigner(cfg.SigningKey)
		if err != nil {
			return nil, err
		}
	}

	return NewServer(ServerConfig{
		Port:           cfg.Port,
		PollInterval:   cfg.PollInterval,
		EnableMetrics:  cfg.EnableMetrics,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, Dependencies{
		Aggregator: aggregate.New(chains, fetcher, store, opts...),
		Registry:   chains,
		Store:      store,
		Breaker:    breaker,
		Metrics:    m,
		Gatherer:   gatherer,
		Signer:     signer,
	}), nil
}
