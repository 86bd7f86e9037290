package main

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourorg/multichain-gas-ea/internal/model"
)

// Error codes returned in the envelope's error field
const (
	errRateLimited        = "rate_limited"
	errMethodNotAllowed   = "method_not_allowed"
	errUnknownChain       = "unknown_chain"
	errMissingChain       = "missing_chain"
	errNotSupported       = "not_supported"
	errOrchestration      = "orchestration_failed"
	errCircuitUnavailable = "circuit_breaker_disabled"
	errUnknownAction      = "unknown_action"
)

// allow applies the shared token bucket
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.rateLimit != nil && !s.rateLimit.Allow() {
		s.errorResponse(w, r, http.StatusTooManyRequests, errRateLimited, "Rate limit exceeded")
		return false
	}
	return true
}

// handleGasPrices runs one aggregation cycle and returns every chain, or a
// single chain when ?chain= is given
func (s *Server) handleGasPrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, r, http.StatusMethodNotAllowed, errMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.allow(w, r) {
		return
	}

	chain := r.URL.Query().Get("chain")
	if chain != "" && !s.knownChain(chain) {
		s.errorResponse(w, r, http.StatusNotFound, errUnknownChain, "Unknown chain: "+chain)
		return
	}

	// Node calls outlive a disconnecting client; the cycle timeout still bounds them
	results, err := s.runCycle(context.WithoutCancel(r.Context()), "request")
	if err != nil {
		s.errorResponse(w, r, http.StatusInternalServerError, errOrchestration, err.Error())
		return
	}

	data := results
	if chain != "" {
		data = map[string]model.ChainResult{chain: results[chain]}
	}

	s.writeSigned(w, r, http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// historyData is the payload of /api/gas-prices/history
type historyData struct {
	Chain   string               `json:"chain"`
	ChainID int64                `json:"chainId"`
	History []model.HistoryPoint `json:"history"`
}

// handleHistory returns the stored history of one chain without polling it
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, r, http.StatusMethodNotAllowed, errMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.allow(w, r) {
		return
	}

	key := r.URL.Query().Get("chain")
	if key == "" {
		s.errorResponse(w, r, http.StatusBadRequest, errMissingChain, "Query parameter chain is required")
		return
	}
	if s.registry != nil && s.registry.IsPlaceholder(key) {
		s.errorResponse(w, r, http.StatusNotFound, errNotSupported, "Chain has no fee history: "+key)
		return
	}
	if s.registry == nil || s.store == nil {
		s.errorResponse(w, r, http.StatusNotFound, errUnknownChain, "Unknown chain: "+key)
		return
	}
	desc, ok := s.registry.Lookup(key)
	if !ok {
		s.errorResponse(w, r, http.StatusNotFound, errUnknownChain, "Unknown chain: "+key)
		return
	}

	s.store.EnsureSeeded(desc.ID)
	s.writeSigned(w, r, http.StatusOK, APIResponse{
		Success: true,
		Data: historyData{
			Chain:   key,
			ChainID: desc.ID,
			History: model.Points(s.store.Get(desc.ID)),
		},
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) knownChain(key string) bool {
	if s.registry == nil {
		return false
	}
	if _, ok := s.registry.Lookup(key); ok {
		return true
	}
	return s.registry.IsPlaceholder(key)
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMetrics exposes Prometheus metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.config.EnableMetrics {
		http.Error(w, "Metrics disabled", http.StatusServiceUnavailable)
		return
	}

	gatherer := s.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "operational",
		"uptime":  time.Since(s.startedAt).String(),
		"version": version,
		"configuration": map[string]interface{}{
			"poll_interval":   s.config.PollInterval.String(),
			"circuit_breaker": s.breaker != nil,
			"metrics":         s.config.EnableMetrics,
			"signing":         s.signer != nil,
		},
	}

	if s.registry != nil {
		chains := s.registry.ListChains()
		keys := make([]string, 0, len(chains))
		historyLen := make(map[string]int, len(chains))
		for _, c := range chains {
			keys = append(keys, c.Key)
			if s.store != nil {
				historyLen[c.Key] = s.store.Len(c.ID)
			}
		}
		placeholders := make([]string, 0)
		for _, p := range s.registry.Placeholders() {
			placeholders = append(placeholders, p.Key)
		}
		sort.Strings(placeholders)

		status["chains"] = keys
		status["placeholders"] = placeholders
		status["history_length"] = historyLen
	}

	if s.breaker != nil {
		status["circuit_state"] = s.breaker.Snapshot()
	}
	if last := s.lastCycleSummary(); last != nil {
		status["last_cycle"] = last
	}
	if s.signer != nil {
		status["signer"] = s.signer.Address().Hex()
	}

	writeJSON(w, http.StatusOK, status)
}

// handleCircuitStatus allows viewing and controlling the per-chain breakers
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	if s.breaker == nil {
		s.errorResponse(w, r, http.StatusServiceUnavailable, errCircuitUnavailable, "Circuit breaker not enabled")
		return
	}

	response := map[string]interface{}{}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		action := r.URL.Query().Get("action")
		if action != "reset" {
			s.errorResponse(w, r, http.StatusBadRequest, errUnknownAction, "Unsupported action: "+action)
			return
		}
		chain := r.URL.Query().Get("chain")
		s.breaker.Reset(chain)
		if chain == "" {
			response["message"] = "All circuit breakers reset"
		} else {
			response["message"] = "Circuit breaker reset for " + chain
		}
	default:
		s.errorResponse(w, r, http.StatusMethodNotAllowed, errMethodNotAllowed, "Method not allowed")
		return
	}

	response["chains"] = s.breaker.Snapshot()
	response["open"] = s.breaker.OpenChains()
	writeJSON(w, http.StatusOK, response)
}
