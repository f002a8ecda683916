package stream

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumarques81/castbridge/internal/audio"
	"github.com/edumarques81/castbridge/internal/domain/bridge"
	"github.com/edumarques81/castbridge/internal/domain/coordinator"
	"github.com/edumarques81/castbridge/internal/domain/renderer"
	"github.com/edumarques81/castbridge/internal/domain/renderer/renderertest"
	"github.com/edumarques81/castbridge/internal/domain/source/sourcetest"
)

type fakeSource struct {
	mu       sync.Mutex
	monitors []string
	payload  string
	err      error
}

func (f *fakeSource) Open(ctx context.Context, monitor string, codec audio.Codec) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.monitors = append(f.monitors, monitor)
	return io.NopCloser(strings.NewReader(f.payload)), nil
}

type recordingPoster struct {
	mu     sync.Mutex
	events []coordinator.Event
}

func (p *recordingPoster) Post(ev coordinator.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *recordingPoster) all() []coordinator.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]coordinator.Event(nil), p.events...)
}

type countingMetrics struct {
	mu     sync.Mutex
	opened int
	bytes  int64
}

func (m *countingMetrics) StreamOpened(string) {
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
}

func (m *countingMetrics) StreamClosed(_ string, n int64) {
	m.mu.Lock()
	m.bytes += n
	m.mu.Unlock()
}

func newBridge(t *testing.T, r *renderertest.Renderer) *bridge.Bridge {
	t.Helper()
	sel, err := audio.NewSelector([]string{"mp3"})
	require.NoError(t, err)
	m := bridge.NewManager(sourcetest.New("speakers"), sel, bridge.WithConfirmPolls(1, time.Millisecond))
	b, err := m.CreateBridge(context.Background(), r)
	require.NoError(t, err)
	return b
}

func TestURLs(t *testing.T) {
	s := NewServer("192.168.1.10", 8765, &fakeSource{}, &recordingPoster{})
	b := newBridge(t, renderertest.New("uuid:kitchen", "Kitchen"))

	assert.Equal(t, "http://192.168.1.10:8765/stream/castbridge_kitchen.mp3", s.StreamURL(b))
	assert.Equal(t, "http://192.168.1.10:8765/covers/firefox.png", s.CoverURL("firefox"))
}

func TestStreamServesEncodedAudio(t *testing.T) {
	src := &fakeSource{payload: "ID3-encoded-audio"}
	poster := &recordingPoster{}
	metrics := &countingMetrics{}
	s := NewServer("127.0.0.1", 8765, src, poster, WithMetrics(metrics), WithInstance("instance-1"))
	b := newBridge(t, renderertest.New("uuid:kitchen", "Kitchen"))
	s.PublishBridges([]*bridge.Bridge{b})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stream/castbridge_kitchen.mp3")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "Streaming", resp.Header.Get("transferMode.dlna.org"))
	assert.Equal(t, "instance-1", resp.Header.Get("X-Castbridge-Instance"))
	assert.Equal(t, "ID3-encoded-audio", string(body))
	assert.Equal(t, []string{"castbridge_kitchen.monitor"}, src.monitors)

	require.Eventually(t, func() bool { return len(poster.all()) == 1 }, time.Second, 5*time.Millisecond)
	ev := poster.all()[0]
	assert.Equal(t, coordinator.EventStreamClientLeft, ev.Kind)
	assert.Equal(t, "castbridge_kitchen", ev.SinkPath)
	assert.Equal(t, 1, metrics.opened)
	assert.Equal(t, int64(len("ID3-encoded-audio")), metrics.bytes)
	assert.Equal(t, 0, s.Clients("castbridge_kitchen"))
}

// pipeSource hands out one open pipe per client so tests decide when each stream ends.
type pipeSource struct {
	mu      sync.Mutex
	writers []*io.PipeWriter
}

func (p *pipeSource) Open(ctx context.Context, monitor string, codec audio.Codec) (io.ReadCloser, error) {
	r, w := io.Pipe()
	p.mu.Lock()
	p.writers = append(p.writers, w)
	p.mu.Unlock()
	return r, nil
}

func (p *pipeSource) end(i int) {
	p.mu.Lock()
	w := p.writers[i]
	p.mu.Unlock()
	w.Close()
}

func TestStreamClientLeftOnlyAfterLastClient(t *testing.T) {
	src := &pipeSource{}
	poster := &recordingPoster{}
	s := NewServer("127.0.0.1", 8765, src, poster)
	b := newBridge(t, renderertest.New("uuid:kitchen", "Kitchen"))
	s.PublishBridges([]*bridge.Bridge{b})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(ts.URL + "/stream/castbridge_kitchen.mp3")
			if err != nil {
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
	}
	require.Eventually(t, func() bool { return s.Clients("castbridge_kitchen") == 2 }, time.Second, 5*time.Millisecond)

	// the old request of a reconnecting renderer ends while the new one streams
	src.end(0)
	require.Eventually(t, func() bool { return s.Clients("castbridge_kitchen") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, poster.all())

	src.end(1)
	wg.Wait()
	require.Eventually(t, func() bool { return len(poster.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, coordinator.EventStreamClientLeft, poster.all()[0].Kind)
	assert.Equal(t, 0, s.Clients("castbridge_kitchen"))
}

func TestStreamFakeContentLength(t *testing.T) {
	s := NewServer("127.0.0.1", 8765, &fakeSource{}, &recordingPoster{})
	r := renderertest.New("uuid:tv", "TV").WithRules(renderer.RuleSet{{Kind: renderer.FakeHTTPContentLength}})
	s.PublishBridges([]*bridge.Bridge{newBridge(t, r)})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/stream/castbridge_tv.mp3", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1099511627776", rec.Header().Get("Content-Length"))
}

func TestStreamNotFound(t *testing.T) {
	s := NewServer("127.0.0.1", 8765, &fakeSource{}, &recordingPoster{})
	s.PublishBridges([]*bridge.Bridge{newBridge(t, renderertest.New("uuid:kitchen", "Kitchen"))})

	tests := []struct {
		name string
		path string
	}{
		{"unknown sink", "/stream/castbridge_garage.mp3"},
		{"wrong extension", "/stream/castbridge_kitchen.flac"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}

	// a bridge dropped from the published list is no longer served
	s.PublishBridges(nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/castbridge_kitchen.mp3", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamEncoderFailure(t *testing.T) {
	poster := &recordingPoster{}
	s := NewServer("127.0.0.1", 8765, &fakeSource{err: errors.New("ffmpeg missing")}, poster)
	s.PublishBridges([]*bridge.Bridge{newBridge(t, renderertest.New("uuid:kitchen", "Kitchen"))})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/castbridge_kitchen.mp3", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, poster.all())
}

func writeIcon(t *testing.T, p string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestCoverResized(t *testing.T) {
	dir := t.TempDir()
	writeIcon(t, filepath.Join(dir, "hicolor", "64x64", "apps", "firefox.png"), 64, 32)

	s := NewServer("127.0.0.1", 8765, &fakeSource{}, &recordingPoster{}, WithIconResolver(NewIconResolver(dir)))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/covers/firefox.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, CoverSize, img.Bounds().Dx())
	assert.Equal(t, CoverSize, img.Bounds().Dy())

	// cached: still served after the file is gone
	require.NoError(t, os.RemoveAll(dir))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/covers/firefox.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCoverMissing(t *testing.T) {
	s := NewServer("127.0.0.1", 8765, &fakeSource{}, &recordingPoster{}, WithIconResolver(NewIconResolver(t.TempDir())))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/covers/nothing.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIconResolverOrder(t *testing.T) {
	dir := t.TempDir()
	writeIcon(t, filepath.Join(dir, "vlc.png"), 8, 8)
	writeIcon(t, filepath.Join(dir, "hicolor", "256x256", "apps", "vlc.png"), 8, 8)

	p, ok := NewIconResolver(dir).Find("vlc")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "hicolor", "256x256", "apps", "vlc.png"), p)

	p, ok = NewIconResolver(dir).Find(filepath.Join(dir, "vlc.png"))
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "vlc.png"), p)
}

func TestFit(t *testing.T) {
	assert.Equal(t, image.Rect(0, 64, 256, 192), fit(image.Rect(0, 0, 64, 32), 256))
	assert.Equal(t, image.Rect(0, 0, 256, 256), fit(image.Rect(0, 0, 10, 10), 256))
}
