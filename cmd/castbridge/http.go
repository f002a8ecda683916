package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/edumarques81/castbridge/internal/domain/bridge"
	"github.com/edumarques81/castbridge/internal/version"
)

type bridgeLister interface {
	http.Handler
	Bridges() []bridge.View
}

type defaultSinker interface {
	DefaultSink(ctx context.Context) (string, error)
}

// newMux builds the status and control routes.
func newMux(socket bridgeLister, metrics interface{ Handler() http.Handler }, backend defaultSinker) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/socket.io/", socket)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if _, err := backend.DefaultSink(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","audio":"unreachable"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","audio":"connected"}`))
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	})

	mux.HandleFunc("/api/v1/bridges", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(socket.Bridges())
	})

	return mux
}

// corsMiddleware sets CORS headers on every response, errors included, so a
// status page served from another port can read them.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
