package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultRefreshAttempts bounds the backend queries per refresh.
	DefaultRefreshAttempts = 5
	defaultRetryDelay      = 100 * time.Millisecond
)

// Registry holds the latest consistent view of sinks and streams.
type Registry struct {
	backend    Backend
	attempts   int
	retryDelay time.Duration

	mu      sync.RWMutex
	sinks   map[string]Sink
	streams []Stream
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithAttempts sets how many times a refresh queries the backend before failing.
func WithAttempts(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithRetryDelay sets the pause between failed attempts.
func WithRetryDelay(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.retryDelay = d
	}
}

// NewRegistry creates an empty registry over backend.
func NewRegistry(backend Backend, opts ...RegistryOption) *Registry {
	r := &Registry{
		backend:    backend,
		attempts:   DefaultRefreshAttempts,
		retryDelay: defaultRetryDelay,
		sinks:      make(map[string]Sink),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh re-queries the backend and replaces both lists atomically.
// On failure the previous snapshot is left untouched.
func (r *Registry) Refresh(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		sinks, streams, err := r.query(ctx)
		if err == nil {
			r.replace(sinks, streams)
			return nil
		}
		lastErr = err

		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Int("maxAttempts", r.attempts).
			Msg("Audio backend query failed")

		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return &BackendError{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(r.retryDelay):
		}
	}
	return &BackendError{Attempts: r.attempts, Err: lastErr}
}

func (r *Registry) query(ctx context.Context) ([]Sink, []Stream, error) {
	sinks, err := r.backend.Sinks(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list sinks: %w", err)
	}
	streams, err := r.backend.Streams(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list streams: %w", err)
	}
	return sinks, streams, nil
}

func (r *Registry) replace(sinks []Sink, streams []Stream) {
	bySink := make(map[string]Sink, len(sinks))
	for _, s := range sinks {
		bySink[s.Path] = s
	}
	// Drop streams whose sink vanished between the two queries.
	kept := make([]Stream, 0, len(streams))
	for _, st := range streams {
		if _, ok := bySink[st.SinkPath]; ok {
			kept = append(kept, st)
		}
	}

	r.mu.Lock()
	r.sinks = bySink
	r.streams = kept
	r.mu.Unlock()
}

// StreamsFor returns the streams attached to sinkPath, in backend order.
func (r *Registry) StreamsFor(sinkPath string) []Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Stream
	for _, st := range r.streams {
		if st.SinkPath == sinkPath {
			out = append(out, st)
		}
	}
	return out
}

// Sink returns the sink with the given path from the last refresh.
func (r *Registry) Sink(path string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[path]
	return s, ok
}

// Stream returns the stream with the given id from the last refresh.
func (r *Registry) Stream(id string) (Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, st := range r.streams {
		if st.ID == id {
			return st, true
		}
	}
	return Stream{}, false
}

// Occupied reports whether sinkPath has at least one attached stream.
func (r *Registry) Occupied(sinkPath string) bool {
	return len(r.StreamsFor(sinkPath)) > 0
}

// Snapshot returns copies of the current sink and stream lists.
func (r *Registry) Snapshot() ([]Sink, []Stream) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sinks := make([]Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		sinks = append(sinks, s)
	}
	streams := make([]Stream, len(r.streams))
	copy(streams, r.streams)
	return sinks, streams
}
