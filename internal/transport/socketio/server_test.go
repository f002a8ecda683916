package socketio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/castbridge/internal/audio"
	"github.com/edumarques81/castbridge/internal/domain/bridge"
	"github.com/edumarques81/castbridge/internal/domain/coordinator"
	"github.com/edumarques81/castbridge/internal/domain/identity"
	"github.com/edumarques81/castbridge/internal/domain/renderer/renderertest"
	"github.com/edumarques81/castbridge/internal/domain/source/sourcetest"
	"github.com/edumarques81/castbridge/internal/infra/store"
)

type fakePoster struct {
	mu     sync.Mutex
	events []coordinator.Event
	closed bool
}

func (p *fakePoster) Post(ev coordinator.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.events = append(p.events, ev)
	return true
}

type fakeIdentity struct {
	info identity.Info
}

func (f *fakeIdentity) Info() identity.Info { return f.info }

func (f *fakeIdentity) SetName(name string) error {
	if name == "" {
		return errors.New("name must not be empty")
	}
	f.info.Name = name
	return nil
}

type memStore struct {
	items map[string]store.Override
}

func (m *memStore) Get(id string) (store.Override, bool, error) {
	o, ok := m.items[id]
	return o, ok, nil
}

func (m *memStore) List() ([]store.Override, error) {
	var out []store.Override
	for _, o := range m.items {
		out = append(out, o)
	}
	return out, nil
}

func (m *memStore) Save(o store.Override) error {
	m.items[o.RendererID] = o
	return nil
}

func (m *memStore) Delete(id string) error {
	delete(m.items, id)
	return nil
}

type fakeForgetter struct {
	forgotten []string
}

func (f *fakeForgetter) Forget(id string) { f.forgotten = append(f.forgotten, id) }

type recordedBroadcast struct {
	mu     sync.Mutex
	events []string
}

func (r *recordedBroadcast) record(event string, args ...any) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordedBroadcast) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *fakePoster, *recordedBroadcast) {
	t.Helper()
	poster := &fakePoster{}
	ident := &fakeIdentity{info: identity.Info{UUID: "u-1", Name: "CastBridge on desk", Hostname: "desk"}}
	opts = append([]Option{WithDebounce(20 * time.Millisecond)}, opts...)
	s, err := NewServer(poster, ident, opts...)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	rec := &recordedBroadcast{}
	s.broadcast = rec.record
	t.Cleanup(func() { s.Close() })
	return s, poster, rec
}

func testBridge(t *testing.T, id, name string) *bridge.Bridge {
	t.Helper()
	sel, err := audio.NewSelector(audio.DefaultPriority)
	if err != nil {
		t.Fatal(err)
	}
	m := bridge.NewManager(sourcetest.New("speakers"), sel, bridge.WithConfirmPolls(1, time.Millisecond))
	b, err := m.CreateBridge(context.Background(), renderertest.New(id, name))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestPublishBridgesDebounced(t *testing.T) {
	s, _, rec := newTestServer(t)
	b := testBridge(t, "uuid:kitchen", "Kitchen")

	for i := 0; i < 5; i++ {
		s.PublishBridges([]*bridge.Bridge{b})
	}
	time.Sleep(80 * time.Millisecond)

	if got := rec.count("pushBridges"); got != 1 {
		t.Errorf("expected 1 pushBridges broadcast, got %d", got)
	}
	views := s.Bridges()
	if len(views) != 1 || views[0].Name != "Kitchen" || views[0].Sink != "castbridge_kitchen" {
		t.Errorf("unexpected views %+v", views)
	}
}

func TestSystemInfo(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.PublishBridges([]*bridge.Bridge{testBridge(t, "uuid:a", "A")})

	info := s.systemInfo()
	if info.ID != "u-1" || info.Name != "CastBridge on desk" || info.Host != "desk" {
		t.Errorf("unexpected identity fields %+v", info)
	}
	if info.Bridges != 1 {
		t.Errorf("expected 1 bridge, got %d", info.Bridges)
	}
	if info.Version == "" || info.GoVersion == "" {
		t.Errorf("version fields should be set: %+v", info)
	}
}

func TestReevaluatePostsEvent(t *testing.T) {
	s, poster, _ := newTestServer(t)

	if err := s.reevaluate(""); err != nil {
		t.Fatalf("reevaluate all: %v", err)
	}
	if err := s.reevaluate("uuid:kitchen"); err != nil {
		t.Fatalf("reevaluate: %v", err)
	}
	if len(poster.events) != 2 || poster.events[1].Kind != coordinator.EventReevaluate || poster.events[1].RendererID != "uuid:kitchen" {
		t.Errorf("unexpected events %+v", poster.events)
	}

	poster.closed = true
	if err := s.reevaluate("uuid:kitchen"); !errors.Is(err, errNotRunning) {
		t.Errorf("expected errNotRunning, got %v", err)
	}
}

func TestDeviceConfig(t *testing.T) {
	st := &memStore{items: map[string]store.Override{}}
	fg := &fakeForgetter{}
	s, _, _ := newTestServer(t, WithDeviceStore(st, fg))

	o, err := s.deviceConfig("uuid:tv")
	if err != nil || o.RendererID != "uuid:tv" || o.Codec != "" {
		t.Fatalf("empty config expected, got %+v, %v", o, err)
	}

	err = s.saveDeviceConfig(store.Override{RendererID: "uuid:tv", Name: " Living room ", Codec: "MP3", Rules: []string{"REQUEST_TIMEOUT=4"}})
	if err != nil {
		t.Fatalf("saveDeviceConfig: %v", err)
	}
	o, _ = s.deviceConfig("uuid:tv")
	if o.Name != "Living room" || o.Codec != "mp3" {
		t.Errorf("unexpected stored config %+v", o)
	}
	if len(fg.forgotten) != 1 || fg.forgotten[0] != "uuid:tv" {
		t.Errorf("renderer should be re-resolved, forgotten=%v", fg.forgotten)
	}

	if err := s.deleteDeviceConfig("uuid:tv"); err != nil {
		t.Fatalf("deleteDeviceConfig: %v", err)
	}
	if list, _ := s.deviceConfigs(); len(list) != 0 {
		t.Errorf("expected empty list, got %+v", list)
	}
}

func TestSaveDeviceConfigValidation(t *testing.T) {
	st := &memStore{items: map[string]store.Override{}}
	s, _, _ := newTestServer(t, WithDeviceStore(st, nil))

	tests := []struct {
		name string
		o    store.Override
	}{
		{"missing id", store.Override{Codec: "mp3"}},
		{"unknown codec", store.Override{RendererID: "uuid:tv", Codec: "wma"}},
		{"unknown rule", store.Override{RendererID: "uuid:tv", Rules: []string{"DISABLE_EVERYTHING"}}},
		{"bad timeout", store.Override{RendererID: "uuid:tv", Rules: []string{"REQUEST_TIMEOUT=never"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.saveDeviceConfig(tt.o); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if len(st.items) != 0 {
		t.Errorf("nothing should be stored, got %+v", st.items)
	}
}

func TestDeviceConfigWithoutStore(t *testing.T) {
	s, _, _ := newTestServer(t)
	if _, err := s.deviceConfig("uuid:tv"); !errors.Is(err, errNoStore) {
		t.Errorf("expected errNoStore, got %v", err)
	}
}

func TestPayloadHelpers(t *testing.T) {
	m := payload([]any{map[string]any{"id": "uuid:x", "rules": []any{"A", 3, "B"}}})
	if stringField(m, "id") != "uuid:x" {
		t.Error("id not parsed")
	}
	if got := stringsField(m, "rules"); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("rules = %v", got)
	}
	if payload(nil) != nil || stringField(nil, "id") != "" {
		t.Error("empty payload should yield zero values")
	}
}
