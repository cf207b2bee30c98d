// Package http provides the HTTP API for driving replication stages.
package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// ErrorResponse is the JSON error body returned by every endpoint.
type ErrorResponse struct {
	Error     string `json:"error"`
	Category  string `json:"category,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RequestID attaches a request id to the context and echoes it in the
// X-Request-ID response header. An id supplied by the caller is kept so a
// scheduler can correlate a whole run across stage calls.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recovery converts a handler panic into a 500 response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				id := GetRequestID(r.Context())
				log.Printf("[ERROR] panic in %s %s (request %s): %v", r.Method, r.URL.Path, id, rec)
				writeError(w, http.StatusInternalServerError, "internal server error", id)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// StageLog logs one line per request. Stage calls can run for minutes, so
// the duration is part of the line.
func StageLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s completed in %s (request %s)",
			r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond), GetRequestID(r.Context()))
	})
}

// Chain composes middleware right to left around a final handler.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// DefaultMiddleware is the chain every stage endpoint is mounted behind.
func DefaultMiddleware() func(http.Handler) http.Handler {
	return Chain(Recovery, RequestID, StageLog)
}

func writeError(w http.ResponseWriter, statusCode int, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// GetRequestID returns the request id carried in ctx, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
