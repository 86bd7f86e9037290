package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/multichain-gas-ea/internal/aggregate"
	"github.com/yourorg/multichain-gas-ea/internal/circuitbreaker"
	"github.com/yourorg/multichain-gas-ea/internal/history"
	"github.com/yourorg/multichain-gas-ea/internal/metrics"
	"github.com/yourorg/multichain-gas-ea/internal/model"
	"github.com/yourorg/multichain-gas-ea/internal/registry"
	"github.com/yourorg/multichain-gas-ea/internal/security"
)

// version is reported by /health and /status
const version = "1.0.0"

// ServerConfig holds the configuration for the HTTP server
type ServerConfig struct {
	// HTTP port to listen on
	Port string

	// Interval of the background poller; zero disables it
	PollInterval time.Duration

	// Whether Prometheus metrics are exposed
	EnableMetrics bool

	// Token bucket applied to the gas price endpoints
	RateLimitRPS   float64
	RateLimitBurst int
}

// Aggregator runs one polling cycle across all chains
type Aggregator interface {
	RunCycle(ctx context.Context) (map[string]model.ChainResult, error)
}

// Dependencies are the components the server is wired with
type Dependencies struct {
	Aggregator Aggregator
	Registry   *registry.Registry
	Store      *history.Store

	// Optional components
	Breaker  *circuitbreaker.Breaker
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Signer   *security.Signer
}

// cycleSummary describes the most recent completed cycle
type cycleSummary struct {
	At       time.Time `json:"at"`
	Duration string    `json:"duration"`
	Chains   int       `json:"chains"`
	Failed   []string  `json:"failed,omitempty"`
	Source   string    `json:"source"`
}

// Server serves the gas price API
type Server struct {
	config    ServerConfig
	startedAt time.Time

	aggregator Aggregator
	registry   *registry.Registry
	store      *history.Store
	breaker    *circuitbreaker.Breaker
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	signer     *security.Signer
	rateLimit  *rate.Limiter

	server *http.Server

	mu        sync.RWMutex
	lastCycle *cycleSummary
}

// NewServer creates a server from its configuration and dependencies
func NewServer(config ServerConfig, deps Dependencies) *Server {
	s := &Server{
		config:     config,
		startedAt:  time.Now(),
		aggregator: deps.Aggregator,
		registry:   deps.Registry,
		store:      deps.Store,
		breaker:    deps.Breaker,
		metrics:    deps.Metrics,
		gatherer:   deps.Gatherer,
		signer:     deps.Signer,
	}

	if config.RateLimitRPS > 0 && config.RateLimitBurst > 0 {
		s.rateLimit = rate.NewLimiter(rate.Limit(config.RateLimitRPS), config.RateLimitBurst)
	}

	chains := 0
	if deps.Registry != nil {
		chains = deps.Registry.Len()
	}
	logrus.WithFields(logrus.Fields{
		"port":            config.Port,
		"chains":          chains,
		"poll_interval":   config.PollInterval,
		"circuit_breaker": deps.Breaker != nil,
		"metrics":         config.EnableMetrics,
		"signing":         deps.Signer != nil,
		"rate_limit_rps":  config.RateLimitRPS,
	}).Info("Server initialized")

	return s
}

// Handler builds the routed HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/gas-prices", s.withMetrics("/api/gas-prices", s.handleGasPrices))
	mux.HandleFunc("/api/gas-prices/history", s.withMetrics("/api/gas-prices/history", s.handleHistory))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/circuit", s.handleCircuitStatus)

	return withRequestID(mux)
}

// Start serves until SIGINT or SIGTERM and then drains in-flight requests
func (s *Server) Start() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	var pollers sync.WaitGroup
	if s.config.PollInterval > 0 {
		pollers.Add(1)
		go func() {
			defer pollers.Done()
			s.poll(pollCtx, s.config.PollInterval)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logrus.Info("Server shutting down...")
	cancelPoll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	pollers.Wait()

	logrus.Info("Server stopped")
	return nil
}

// poll runs a cycle immediately and then on every tick so history accrues
// real samples without client traffic
func (s *Server) poll(ctx context.Context, interval time.Duration) {
	logrus.WithField("interval", interval).Info("Background poller started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.runCycle(ctx, "poller"); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("Background cycle failed")
		}
		select {
		case <-ctx.Done():
			logrus.Info("Background poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// runCycle runs the aggregator and records a summary for /status
func (s *Server) runCycle(ctx context.Context, source string) (map[string]model.ChainResult, error) {
	if s.aggregator == nil {
		return nil, aggregate.ErrNoRegistry
	}

	start := time.Now()
	results, err := s.aggregator.RunCycle(ctx)
	if err != nil {
		return nil, err
	}

	summary := &cycleSummary{
		At:       start.UTC(),
		Duration: time.Since(start).String(),
		Source:   source,
	}
	for key, r := range results {
		if !r.Supported {
			continue
		}
		summary.Chains++
		if r.Failed() {
			summary.Failed = append(summary.Failed, key)
		}
	}
	sort.Strings(summary.Failed)

	s.mu.Lock()
	s.lastCycle = summary
	s.mu.Unlock()

	return results, nil
}

func (s *Server) lastCycleSummary() *cycleSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCycle
}
