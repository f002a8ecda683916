// Package stream serves the encoded audio of each bridge sink to its renderer,
// plus the cover images referenced in the renderer metadata.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/castbridge/internal/domain/bridge"
	"github.com/edumarques81/castbridge/internal/domain/coordinator"
)

const (
	// DefaultPort is the HTTP port renderers pull streams from.
	DefaultPort = 8765

	coverTTL        = 30 * time.Minute
	shutdownTimeout = 5 * time.Second
)

// Poster receives stream lifecycle events.
type Poster interface {
	Post(ev coordinator.Event) bool
}

// Metrics observes stream connections.
type Metrics interface {
	StreamOpened(sink string)
	StreamClosed(sink string, bytes int64)
}

type nopMetrics struct{}

func (nopMetrics) StreamOpened(string)        {}
func (nopMetrics) StreamClosed(string, int64) {}

// Server is the HTTP server renderers connect to.
type Server struct {
	host     string
	port     int
	source   Source
	poster   Poster
	metrics  Metrics
	icons    *IconResolver
	covers   *cache.Cache
	instance string

	mu      sync.RWMutex
	bySink  map[string]*bridge.Bridge
	streams map[string]int // open connections per sink
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the connection metrics.
func WithMetrics(m Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithIconResolver replaces the icon theme lookup.
func WithIconResolver(r *IconResolver) Option {
	return func(s *Server) {
		s.icons = r
	}
}

// WithInstance sets the instance id announced in response headers.
func WithInstance(id string) Option {
	return func(s *Server) {
		s.instance = id
	}
}

// NewServer creates a server reachable by renderers at host:port.
func NewServer(host string, port int, src Source, poster Poster, opts ...Option) *Server {
	if port <= 0 {
		port = DefaultPort
	}
	s := &Server{
		host:    host,
		port:    port,
		source:  src,
		poster:  poster,
		metrics: nopMetrics{},
		icons:   NewIconResolver(DefaultIconDirs()...),
		covers:  cache.New(coverTTL, 0),
		bySink:  make(map[string]*bridge.Bridge),
		streams: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PublishBridges replaces the set of sinks that can be streamed.
func (s *Server) PublishBridges(bridges []*bridge.Bridge) {
	m := make(map[string]*bridge.Bridge, len(bridges))
	for _, b := range bridges {
		m[b.SinkPath()] = b
	}
	s.mu.Lock()
	s.bySink = m
	s.mu.Unlock()
}

func (s *Server) lookup(sink string) (*bridge.Bridge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bySink[sink]
	return b, ok
}

// BaseURL returns the address renderers use to reach the server.
func (s *Server) BaseURL() string {
	return "http://" + net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// StreamURL returns the URL of a bridge's encoded stream.
func (s *Server) StreamURL(b *bridge.Bridge) string {
	return fmt.Sprintf("%s/stream/%s.%s", s.BaseURL(), url.PathEscape(b.SinkPath()), b.Codec().Ext)
}

// CoverURL returns the URL of an icon rendered as a PNG cover.
func (s *Server) CoverURL(icon string) string {
	return fmt.Sprintf("%s/covers/%s.png", s.BaseURL(), url.PathEscape(icon))
}

// Register mounts the stream and cover routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/stream/", s.handleStream)
	mux.HandleFunc("/covers/", s.handleCover)
}

// Handler returns a mux serving only this server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Run listens on all interfaces until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("url", s.BaseURL()).Msg("Stream server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("stream server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// open streams never finish on their own
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
	}
	<-errCh
	return nil
}

// Clients returns the open connections for sink.
func (s *Server) Clients(sink string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[sink]
}
