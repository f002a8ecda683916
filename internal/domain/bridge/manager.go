package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/edumarques81/castbridge/internal/audio"
	"github.com/edumarques81/castbridge/internal/domain/renderer"
	"github.com/edumarques81/castbridge/internal/domain/source"
)

const (
	// SinkPrefix starts the name of every null sink created by the bridge.
	SinkPrefix = "castbridge_"

	defaultConfirmPolls    = 10
	defaultConfirmInterval = 100 * time.Millisecond
)

// ErrSinkNotConfirmed is wrapped by AllocationError when the sink never showed up.
var ErrSinkNotConfirmed = errors.New("null sink not confirmed by audio backend")

// AllocationError reports a failed bridge creation. Only that device is skipped.
type AllocationError struct {
	RendererID string
	SinkName   string
	Err        error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate sink %s for renderer %s: %v", e.SinkName, e.RendererID, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// Manager creates and destroys one null sink per renderer.
type Manager struct {
	backend         source.Backend
	selector        *audio.Selector
	confirmPolls    int
	confirmInterval time.Duration

	group   singleflight.Group
	mu      sync.RWMutex
	bridges map[string]*Bridge
	stale   map[string]string // sink name -> module whose unload failed
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConfirmPolls sets how often the backend is polled for the new sink.
func WithConfirmPolls(n int, interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.confirmPolls = n
		}
		m.confirmInterval = interval
	}
}

// NewManager creates a lifecycle manager.
func NewManager(backend source.Backend, selector *audio.Selector, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend:         backend,
		selector:        selector,
		confirmPolls:    defaultConfirmPolls,
		confirmInterval: defaultConfirmInterval,
		bridges:         make(map[string]*Bridge),
		stale:           make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SinkName derives the null sink name for a renderer id. The same id always
// yields the same name.
func SinkName(rendererID string) string {
	id := strings.TrimPrefix(strings.ToLower(rendererID), "uuid:")
	var b strings.Builder
	b.Grow(len(SinkPrefix) + len(id))
	b.WriteString(SinkPrefix)
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// sinkLabel is the description shown in the desktop's sound settings.
func sinkLabel(d renderer.Descriptor) string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Family)
}

// CreateBridge returns the live bridge for r, creating its sink when needed.
// Concurrent calls for the same renderer share one creation.
func (m *Manager) CreateBridge(ctx context.Context, r renderer.Renderer) (*Bridge, error) {
	d := r.Descriptor()
	if b, ok := m.Get(d.ID); ok {
		return b, nil
	}

	v, err, shared := m.group.Do(d.ID, func() (interface{}, error) {
		if b, ok := m.Get(d.ID); ok {
			return b, nil
		}
		b, err := m.allocate(ctx, r)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.bridges[d.ID] = b
		m.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Str("renderer", d.ID).Msg("Bridge creation shared with concurrent request")
	}
	return v.(*Bridge), nil
}

func (m *Manager) allocate(ctx context.Context, r renderer.Renderer) (*Bridge, error) {
	d := r.Descriptor()
	name := SinkName(d.ID)

	codec, err := m.selector.Select(d)
	if err != nil {
		return nil, &AllocationError{RendererID: d.ID, SinkName: name, Err: err}
	}

	// a leftover sink with the same name would be confirmed instead of ours
	if err := m.unloadStale(ctx, name); err != nil {
		return nil, &AllocationError{RendererID: d.ID, SinkName: name, Err: err}
	}

	module, err := m.backend.CreateNullSink(ctx, name, sinkLabel(d))
	if err != nil {
		return nil, &AllocationError{RendererID: d.ID, SinkName: name, Err: err}
	}

	sink, err := m.confirm(ctx, name)
	if err != nil {
		if derr := m.backend.DestroyNullSink(context.WithoutCancel(ctx), module); derr != nil {
			log.Warn().Err(derr).Str("module", module).Msg("Failed to unload unconfirmed null sink")
		}
		return nil, &AllocationError{RendererID: d.ID, SinkName: name, Err: err}
	}
	if sink.Module == "" {
		sink.Module = module
	}

	log.Info().
		Str("renderer", d.ID).
		Str("name", d.Name).
		Str("sink", sink.Path).
		Str("codec", codec.Name).
		Msg("Bridge created")

	return newBridge(r, sink, codec), nil
}

func (m *Manager) confirm(ctx context.Context, name string) (source.Sink, error) {
	for poll := 0; poll < m.confirmPolls; poll++ {
		sinks, err := m.backend.Sinks(ctx)
		if err == nil {
			for _, s := range sinks {
				if s.Path == name {
					return s, nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return source.Sink{}, ctx.Err()
		case <-time.After(m.confirmInterval):
		}
	}
	return source.Sink{}, ErrSinkNotConfirmed
}

// DestroyBridge unloads the bridge's sink. Calling it again is a no-op.
func (m *Manager) DestroyBridge(ctx context.Context, b *Bridge) {
	if !b.destroyed.CompareAndSwap(false, true) {
		return
	}
	b.Retire()

	m.mu.Lock()
	if cur, ok := m.bridges[b.ID()]; ok && cur == b {
		delete(m.bridges, b.ID())
	}
	m.mu.Unlock()

	if err := m.backend.DestroyNullSink(ctx, b.sink.Module); err != nil {
		m.mu.Lock()
		m.stale[b.sink.Path] = b.sink.Module
		m.mu.Unlock()
		log.Warn().Err(err).Str("sink", b.sink.Path).Str("module", b.sink.Module).Msg("Failed to unload null sink, will retry")
		return
	}
	log.Info().Str("renderer", b.ID()).Str("sink", b.sink.Path).Msg("Bridge destroyed")
}

// unloadStale retries the unload of a sink named name left behind by a failed DestroyBridge.
func (m *Manager) unloadStale(ctx context.Context, name string) error {
	m.mu.RLock()
	module, ok := m.stale[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	if err := m.backend.DestroyNullSink(ctx, module); err != nil {
		return fmt.Errorf("unload stale sink module %s: %w", module, err)
	}

	m.mu.Lock()
	if m.stale[name] == module {
		delete(m.stale, name)
	}
	m.mu.Unlock()
	log.Info().Str("sink", name).Str("module", module).Msg("Stale null sink unloaded")
	return nil
}

// Get returns the live bridge for a renderer id.
func (m *Manager) Get(rendererID string) (*Bridge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bridges[rendererID]
	return b, ok
}

// Len returns the number of live bridges.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bridges)
}

// DestroyAll unloads every sink, used on shutdown.
func (m *Manager) DestroyAll(ctx context.Context) {
	m.mu.RLock()
	all := make([]*Bridge, 0, len(m.bridges))
	for _, b := range m.bridges {
		all = append(all, b)
	}
	m.mu.RUnlock()

	for _, b := range all {
		m.DestroyBridge(ctx, b)
	}

	m.mu.RLock()
	names := make([]string, 0, len(m.stale))
	for name := range m.stale {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		if err := m.unloadStale(ctx, name); err != nil {
			log.Warn().Err(err).Str("sink", name).Msg("Null sink left loaded")
		}
	}
}
