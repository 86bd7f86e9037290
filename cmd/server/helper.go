package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/multichain-gas-ea/internal/security"
)

// Helper functions shared by the HTTP handlers

// HeaderRequestID carries the request correlation ID
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// requestID returns the correlation ID stored by withRequestID
func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// requestLogger returns a logger tagged with the request's correlation ID
func requestLogger(r *http.Request) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"request_id": requestID(r.Context()),
		"path":       r.URL.Path,
	})
}

// withRequestID echoes the caller's X-Request-ID or assigns a new uuid
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMetrics records request counts and latency per path
func (s *Server) withMetrics(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.ObserveRequest(path, strconv.Itoa(rec.status), time.Since(start))
	}
}

// APIResponse is the envelope of every gas API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Error     string      `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

// writeSigned encodes v and, when a signer is configured, attaches the
// signature headers over the exact bytes sent
func (s *Server) writeSigned(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		s.errorResponse(w, r, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}

	if s.signer != nil {
		sig, err := s.signer.Sign(body)
		if err != nil {
			requestLogger(r).WithError(err).Warn("Failed to sign response")
		} else {
			w.Header().Set(security.HeaderSignature, sig)
			w.Header().Set(security.HeaderSigner, s.signer.Address().Hex())
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		requestLogger(r).WithError(err).Debug("Failed to write response")
	}
}

// errorResponse returns a formatted error envelope
func (s *Server) errorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	entry := requestLogger(r).WithFields(logrus.Fields{"status": status, "error": code})
	if status >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Debug(message)
	}

	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   code,
		Message: message,
	})
}
