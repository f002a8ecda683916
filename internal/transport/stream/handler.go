package stream

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/castbridge/internal/domain/coordinator"
	"github.com/edumarques81/castbridge/internal/domain/renderer"
	"github.com/edumarques81/castbridge/internal/version"
)

const (
	// fakeContentLength is announced to renderers that refuse chunked responses.
	fakeContentLength = int64(1) << 40

	dlnaFeatures = "DLNA.ORG_OP=00;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01700000000000000000000000000000"
	copyBuffer   = 16 * 1024
)

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file := path.Base(r.URL.Path)
	ext := path.Ext(file)
	sink := strings.TrimSuffix(file, ext)

	b, ok := s.lookup(sink)
	if !ok || strings.TrimPrefix(ext, ".") != b.Codec().Ext {
		http.NotFound(w, r)
		return
	}
	codec := b.Codec()
	logger := log.With().Str("renderer", b.ID()).Str("sink", sink).Str("remote", r.RemoteAddr).Logger()

	h := w.Header()
	h.Set("Content-Type", codec.MimeType())
	h.Set("Cache-Control", "no-cache")
	h.Set("Server", version.UserAgent())
	h.Set("transferMode.dlna.org", "Streaming")
	h.Set("contentFeatures.dlna.org", dlnaFeatures)
	if s.instance != "" {
		h.Set("X-Castbridge-Instance", s.instance)
	}
	if b.Descriptor().Rules.Has(renderer.FakeHTTPContentLength) {
		h.Set("Content-Length", strconv.FormatInt(fakeContentLength, 10))
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	src, err := s.source.Open(r.Context(), b.Sink().Monitor, codec)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start encoder")
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	s.opened(sink)
	logger.Info().Str("codec", codec.Name).Msg("Renderer connected to stream")

	n, copyErr := io.CopyBuffer(flushWriter{w}, src, make([]byte, copyBuffer))
	if err := src.Close(); err != nil {
		logger.Debug().Err(err).Msg("Encoder exited with error")
	}
	remaining := s.closed(sink, n)

	ev := logger.Info().Int64("bytes", n)
	if copyErr != nil && !errors.Is(copyErr, r.Context().Err()) {
		ev = ev.AnErr("reason", copyErr)
	}
	ev.Int("remaining", remaining).Msg("Renderer left stream")

	// a renderer reconnecting overlaps its old request
	if remaining == 0 {
		s.poster.Post(coordinator.StreamClientLeft(sink))
	}
}

func (s *Server) opened(sink string) {
	s.mu.Lock()
	s.streams[sink]++
	s.mu.Unlock()
	s.metrics.StreamOpened(sink)
}

func (s *Server) closed(sink string, n int64) int {
	s.mu.Lock()
	s.streams[sink]--
	remaining := s.streams[sink]
	if remaining <= 0 {
		delete(s.streams, sink)
		remaining = 0
	}
	s.mu.Unlock()
	s.metrics.StreamClosed(sink, n)
	return remaining
}

// flushWriter pushes every chunk to the renderer immediately.
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}
