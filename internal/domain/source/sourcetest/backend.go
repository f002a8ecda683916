// Package sourcetest provides an in-memory audio backend for tests.
package sourcetest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/edumarques81/castbridge/internal/domain/source"
)

// ErrInjected is returned by queries while failures are injected.
var ErrInjected = errors.New("injected backend failure")

// Backend is a thread-safe fake source.Backend.
type Backend struct {
	mu         sync.Mutex
	sinks      []source.Sink
	streams    []source.Stream
	defaultSnk string
	nextModule int

	failQueries int
	failDestroy int
	hideCreated bool

	Created   []string
	Destroyed []string
	Moves     map[string]string // stream id -> target sink
	Queries   int
}

// New returns a backend holding a single hardware sink that is also the default.
func New(defaultSink string) *Backend {
	b := &Backend{
		defaultSnk: defaultSink,
		Moves:      make(map[string]string),
		nextModule: 100,
	}
	if defaultSink != "" {
		b.sinks = append(b.sinks, source.Sink{Path: defaultSink, Label: "Built-in Audio", Monitor: defaultSink + ".monitor"})
	}
	return b
}

// FailNextQueries makes the next n Sinks calls fail.
func (b *Backend) FailNextQueries(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failQueries = n
}

// FailNextDestroys makes the next n DestroyNullSink calls fail and leave the sink loaded.
func (b *Backend) FailNextDestroys(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failDestroy = n
}

// SinkCount returns how many loaded sinks are named path.
func (b *Backend) SinkCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.sinks {
		if s.Path == path {
			n++
		}
	}
	return n
}

// HideCreatedSinks makes CreateNullSink succeed without the sink ever appearing.
func (b *Backend) HideCreatedSinks(hide bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hideCreated = hide
}

// AddStream attaches a stream to sinkPath.
func (b *Backend) AddStream(id, sinkPath, client, icon string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams = append(b.streams, source.Stream{ID: id, SinkPath: sinkPath, ClientName: client, ClientIcon: icon})
}

// RemoveStream detaches a stream.
func (b *Backend) RemoveStream(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, st := range b.streams {
		if st.ID == id {
			b.streams = append(b.streams[:i], b.streams[i+1:]...)
			return
		}
	}
}

// StreamsOn returns the ids of the streams attached to sinkPath.
func (b *Backend) StreamsOn(sinkPath string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []string
	for _, st := range b.streams {
		if st.SinkPath == sinkPath {
			ids = append(ids, st.ID)
		}
	}
	return ids
}

// QueryCount returns how many Sinks calls were made.
func (b *Backend) QueryCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Queries
}

// DestroyedModules returns a copy of the unloaded module ids.
func (b *Backend) DestroyedModules() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.Destroyed...)
}

// MoveTarget returns where a stream was moved to, if anywhere.
func (b *Backend) MoveTarget(streamID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.Moves[streamID]
	return s, ok
}

func (b *Backend) Sinks(ctx context.Context) ([]source.Sink, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Queries++
	if b.failQueries > 0 {
		b.failQueries--
		return nil, ErrInjected
	}
	return append([]source.Sink(nil), b.sinks...), nil
}

func (b *Backend) Streams(ctx context.Context) ([]source.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]source.Stream(nil), b.streams...), nil
}

func (b *Backend) DefaultSink(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.defaultSnk, nil
}

func (b *Backend) CreateNullSink(ctx context.Context, name, label string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextModule++
	module := strconv.Itoa(b.nextModule)
	b.Created = append(b.Created, name)
	if !b.hideCreated {
		b.sinks = append(b.sinks, source.Sink{Path: name, Label: label, Monitor: name + ".monitor", Module: module})
	}
	return module, nil
}

func (b *Backend) DestroyNullSink(ctx context.Context, module string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failDestroy > 0 {
		b.failDestroy--
		return ErrInjected
	}
	b.Destroyed = append(b.Destroyed, module)
	for i, s := range b.sinks {
		if s.Module == module {
			b.sinks = append(b.sinks[:i], b.sinks[i+1:]...)
			break
		}
	}
	return nil
}

func (b *Backend) MoveStream(ctx context.Context, streamID, sinkPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.streams {
		if b.streams[i].ID == streamID {
			b.streams[i].SinkPath = sinkPath
			b.Moves[streamID] = sinkPath
			return nil
		}
	}
	return fmt.Errorf("stream %s not found", streamID)
}

func (b *Backend) SetDefaultSink(ctx context.Context, sinkPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaultSnk = sinkPath
	return nil
}
