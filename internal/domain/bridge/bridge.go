// Package bridge pairs a renderer with the null sink that captures its audio,
// and owns the lifecycle of those sinks.
package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/edumarques81/castbridge/internal/audio"
	"github.com/edumarques81/castbridge/internal/domain/renderer"
	"github.com/edumarques81/castbridge/internal/domain/source"
)

// Bridge binds one null sink to one renderer.
type Bridge struct {
	renderer  renderer.Renderer
	sink      source.Sink
	codec     audio.Codec
	createdAt time.Time

	mu    sync.RWMutex
	state renderer.State

	retired   atomic.Bool
	destroyed atomic.Bool
}

func newBridge(r renderer.Renderer, sink source.Sink, codec audio.Codec) *Bridge {
	return &Bridge{
		renderer:  r,
		sink:      sink,
		codec:     codec,
		createdAt: time.Now(),
		state:     renderer.StateStopped,
	}
}

// ID returns the renderer identity, which is also the bridge identity.
func (b *Bridge) ID() string { return b.renderer.Descriptor().ID }

// Renderer returns the bridged renderer.
func (b *Bridge) Renderer() renderer.Renderer { return b.renderer }

// Descriptor is shorthand for Renderer().Descriptor().
func (b *Bridge) Descriptor() renderer.Descriptor { return b.renderer.Descriptor() }

// Sink returns the null sink captured for this renderer.
func (b *Bridge) Sink() source.Sink { return b.sink }

// SinkPath returns the sink identity.
func (b *Bridge) SinkPath() string { return b.sink.Path }

// Codec returns the codec selected when the bridge was created.
func (b *Bridge) Codec() audio.Codec { return b.codec }

// State returns the cached renderer state.
func (b *Bridge) State() renderer.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// SetState updates the cached renderer state.
func (b *Bridge) SetState(s renderer.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

// Retire marks the bridge as removed. Queued work for it becomes a no-op.
func (b *Bridge) Retire() { b.retired.Store(true) }

// Retired reports whether the device behind the bridge was removed.
func (b *Bridge) Retired() bool { return b.retired.Load() }

// View is the serializable summary of a bridge.
type View struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Family    renderer.Family `json:"family"`
	Model     string          `json:"model,omitempty"`
	Sink      string          `json:"sink"`
	SinkLabel string          `json:"sinkLabel"`
	State     string          `json:"state"`
	Codec     string          `json:"codec"`
	MimeType  string          `json:"mimeType"`
	Rules     []string        `json:"rules,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// View returns a snapshot of the bridge for publication.
func (b *Bridge) View() View {
	d := b.Descriptor()
	return View{
		ID:        d.ID,
		Name:      d.Name,
		Family:    d.Family,
		Model:     d.Model,
		Sink:      b.sink.Path,
		SinkLabel: b.sink.Label,
		State:     b.State().String(),
		Codec:     b.codec.Name,
		MimeType:  b.codec.MimeType(),
		Rules:     d.Rules.Names(),
		CreatedAt: b.createdAt,
	}
}
