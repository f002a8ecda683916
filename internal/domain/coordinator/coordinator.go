// Package coordinator drives renderers from audio activity. A single event
// loop owns the bridge list, the debounce timers and the blocked sinks; all
// backend and renderer I/O runs on one serial worker so commands for a
// renderer never overlap or reorder.
package coordinator

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/castbridge/internal/domain/bridge"
	"github.com/edumarques81/castbridge/internal/domain/cover"
	"github.com/edumarques81/castbridge/internal/domain/renderer"
	"github.com/edumarques81/castbridge/internal/domain/source"
)

const (
	DefaultDebounce       = time.Second
	DefaultBlockWindow    = time.Second
	DefaultCommandTimeout = 10 * time.Second

	eventBuffer = 256
)

// ErrPolicyConflict is returned when switch-back and auto-reconnect are both enabled.
var ErrPolicyConflict = errors.New("switch-back and auto-reconnect are mutually exclusive")

// ErrRendererLeft is the failure reported when a renderer stops pulling a
// stream that still has audio attached.
var ErrRendererLeft = errors.New("renderer stopped pulling its stream")

// Config holds the coordinator policy.
type Config struct {
	Debounce       time.Duration
	BlockWindow    time.Duration
	CommandTimeout time.Duration
	SwitchBack     bool
	AutoReconnect  bool
	// FallbackSink pins the switch-back target. Empty follows the audio
	// server's default sink.
	FallbackSink string
}

// DefaultConfig returns the stock policy: switch-back on, 1s windows.
func DefaultConfig() Config {
	return Config{
		Debounce:       DefaultDebounce,
		BlockWindow:    DefaultBlockWindow,
		CommandTimeout: DefaultCommandTimeout,
		SwitchBack:     true,
	}
}

// Validate checks the policy flags.
func (c Config) Validate() error {
	if c.SwitchBack && c.AutoReconnect {
		return ErrPolicyConflict
	}
	return nil
}

// BridgeManager creates and destroys bridges.
type BridgeManager interface {
	CreateBridge(ctx context.Context, r renderer.Renderer) (*bridge.Bridge, error)
	DestroyBridge(ctx context.Context, b *bridge.Bridge)
}

// Publisher receives the bridge list whenever it or a bridge state changes.
// It is called from the coordinator loop and must not block.
type Publisher interface {
	PublishBridges(bridges []*bridge.Bridge)
}

// Notifier shows a message to the user. Fire and forget.
type Notifier interface {
	Notify(title, message string)
}

// Locator resolves the URL a renderer pulls a bridge's stream from.
type Locator interface {
	StreamURL(b *bridge.Bridge) string
}

// Metrics observes coordinator activity.
type Metrics interface {
	EvaluationDone(action string)
	CommandDone(op string, ok bool)
	RefreshFailed()
	SwitchedBack()
	EventBlocked()
	BridgesLive(n int)
}

type nopMetrics struct{}

func (nopMetrics) EvaluationDone(string)   {}
func (nopMetrics) CommandDone(string, bool) {}
func (nopMetrics) RefreshFailed()           {}
func (nopMetrics) SwitchedBack()            {}
func (nopMetrics) EventBlocked()            {}
func (nopMetrics) BridgesLive(int)          {}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) {}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher adds a bridge list subscriber.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) {
		c.publishers = append(c.publishers, p)
	}
}

// WithNotifier sets the user notification sink.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

type pendingEval struct {
	timer *time.Timer
	gen   uint64
}

// Coordinator is the bridge state machine.
type Coordinator struct {
	cfg        Config
	registry   *source.Registry
	backend    source.Backend
	bridges    BridgeManager
	covers     *cover.Provider
	locator    Locator
	publishers []Publisher
	notifier   Notifier
	metrics    Metrics

	events chan Event
	done   chan struct{}
	worker *worker

	// owned by the loop goroutine
	live     map[string]*bridge.Bridge // renderer id -> bridge
	bySink   map[string]*bridge.Bridge
	creating map[string]bool // renderer id -> still wanted
	pending  map[string]*pendingEval
	gen      uint64
	blocked  *cache.Cache
	fallback string

	stateMu sync.Mutex
	running bool
}

// New creates a coordinator. Run must be called to start it.
func New(cfg Config, registry *source.Registry, backend source.Backend, bridges BridgeManager,
	covers *cover.Provider, locator Locator, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.BlockWindow <= 0 {
		cfg.BlockWindow = DefaultBlockWindow
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}

	c := &Coordinator{
		cfg:      cfg,
		registry: registry,
		backend:  backend,
		bridges:  bridges,
		covers:   covers,
		locator:  locator,
		notifier: nopNotifier{},
		metrics:  nopMetrics{},
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
		worker:   newWorker(),
		live:     make(map[string]*bridge.Bridge),
		bySink:   make(map[string]*bridge.Bridge),
		creating: make(map[string]bool),
		pending:  make(map[string]*pendingEval),
		// no janitor goroutine; expiry is checked on lookup
		blocked:  cache.New(cfg.BlockWindow, 0),
		fallback: cfg.FallbackSink,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Post queues an event. It returns false once the coordinator has stopped.
// Safe to call from any goroutine.
func (c *Coordinator) Post(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// IsRunning reports whether Run is active.
func (c *Coordinator) IsRunning() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.running
}

// Run processes events until ctx is cancelled. Pending timers are cancelled
// and jobs still queued on the worker are dropped.
func (c *Coordinator) Run(ctx context.Context) error {
	c.stateMu.Lock()
	if c.running {
		c.stateMu.Unlock()
		return errors.New("coordinator already running")
	}
	c.running = true
	c.stateMu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.worker.Start(ctx)
	}()

	defer func() {
		for path, p := range c.pending {
			p.timer.Stop()
			delete(c.pending, path)
		}
		close(c.done)
		c.worker.Stop()
		wg.Wait()

		c.stateMu.Lock()
		c.running = false
		c.stateMu.Unlock()
	}()

	log.Info().
		Dur("debounce", c.cfg.Debounce).
		Bool("switchBack", c.cfg.SwitchBack).
		Bool("autoReconnect", c.cfg.AutoReconnect).
		Str("fallbackSink", c.cfg.FallbackSink).
		Msg("Bridge coordinator started")

	c.worker.Submit(job{name: "startup", run: c.startup})

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Bridge coordinator stopping")
			return nil
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev Event) {
	switch ev.Kind {
	case EventStreamAdded, EventStreamRemoved, EventSinkUpdated:
		c.handleTopology(ev)
	case EventDeviceAdded:
		c.handleDeviceAdded(ev)
	case EventDeviceRemoved:
		c.handleDeviceRemoved(ev)
	case EventFallbackSinkChanged:
		c.handleFallbackChanged(ev)
	case EventStreamClientLeft:
		c.handleClientLeft(ev)
	case EventReevaluate:
		c.handleReevaluate(ev)
	case eventEvaluationDue:
		c.handleEvaluationDue(ev)
	case eventBridgeCreated:
		c.handleBridgeCreated(ev)
	case eventBridgeFailed:
		c.handleBridgeFailed(ev)
	case eventCommandFailed:
		c.handleCommandFailed(ev)
	case eventStateChanged:
		c.publish()
	case eventBlock:
		c.block(ev.paths)
	default:
		log.Warn().Int("kind", int(ev.Kind)).Msg("Unknown coordinator event")
	}
}

// handleTopology debounces audio topology events per bridge sink.
func (c *Coordinator) handleTopology(ev Event) {
	c.blocked.DeleteExpired()

	for _, path := range c.targets(ev) {
		if c.isBlocked(path) {
			c.metrics.EventBlocked()
			log.Debug().Str("sink", path).Str("event", ev.Kind.String()).Msg("Ignoring event on blocked sink")
			continue
		}
		c.schedule(path)
	}
}

// targets returns the bridge sinks an event may affect. An event without a
// sink affects every bridge.
func (c *Coordinator) targets(ev Event) []string {
	var out []string
	if ev.SinkPath == "" {
		for path := range c.bySink {
			out = append(out, path)
		}
		sort.Strings(out)
		return out
	}

	if _, ok := c.bySink[ev.SinkPath]; ok {
		out = append(out, ev.SinkPath)
	}
	if ev.StreamID != "" {
		// the stream may have been moved off a bridge sink
		if st, ok := c.registry.Stream(ev.StreamID); ok && st.SinkPath != ev.SinkPath {
			if _, ok := c.bySink[st.SinkPath]; ok {
				out = append(out, st.SinkPath)
			}
		}
	}
	return out
}

// schedule replaces the pending evaluation timer of a sink.
func (c *Coordinator) schedule(path string) {
	if p, ok := c.pending[path]; ok {
		p.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.pending[path] = &pendingEval{
		gen: gen,
		timer: time.AfterFunc(c.cfg.Debounce, func() {
			c.Post(Event{Kind: eventEvaluationDue, SinkPath: path, gen: gen})
		}),
	}
}

func (c *Coordinator) cancelPending(path string) {
	if p, ok := c.pending[path]; ok {
		p.timer.Stop()
		delete(c.pending, path)
	}
}

func (c *Coordinator) handleEvaluationDue(ev Event) {
	p, ok := c.pending[ev.SinkPath]
	if !ok || p.gen != ev.gen {
		// superseded by a later timer or cancelled
		return
	}
	delete(c.pending, ev.SinkPath)

	b, ok := c.bySink[ev.SinkPath]
	if !ok || b.Retired() {
		return
	}
	if c.isBlocked(ev.SinkPath) {
		c.metrics.EventBlocked()
		return
	}
	c.dispatchEvaluation(b, false)
}

func (c *Coordinator) handleReevaluate(ev Event) {
	for _, b := range c.sorted() {
		if ev.RendererID != "" && b.ID() != ev.RendererID {
			continue
		}
		if c.isBlocked(b.SinkPath()) {
			c.metrics.EventBlocked()
			continue
		}
		c.cancelPending(b.SinkPath())
		c.dispatchEvaluation(b, false)
	}
}

func (c *Coordinator) dispatchEvaluation(b *bridge.Bridge, corrective bool) {
	evalID := uuid.NewString()[:8]
	name := "evaluate"
	if corrective {
		name = "reconnect"
	}
	c.worker.Submit(job{
		name:     name,
		renderer: b.ID(),
		run: func(ctx context.Context) {
			c.evaluate(ctx, evalID, b, corrective)
		},
	})
}

func (c *Coordinator) handleDeviceAdded(ev Event) {
	if ev.Renderer == nil {
		return
	}
	id := ev.Renderer.Descriptor().ID
	if _, ok := c.live[id]; ok {
		log.Debug().Str("renderer", id).Msg("Renderer already bridged")
		return
	}
	if _, ok := c.creating[id]; ok {
		c.creating[id] = true
		return
	}
	c.creating[id] = true

	r := ev.Renderer
	c.worker.Submit(job{
		name:     "create",
		renderer: id,
		run: func(ctx context.Context) {
			b, err := c.bridges.CreateBridge(ctx, r)
			if err != nil {
				c.Post(Event{Kind: eventBridgeFailed, RendererID: id, err: err})
				return
			}
			c.Post(Event{Kind: eventBridgeCreated, RendererID: id, bridge: b})
		},
	})
}

func (c *Coordinator) handleBridgeCreated(ev Event) {
	wanted := c.creating[ev.RendererID]
	delete(c.creating, ev.RendererID)

	b := ev.bridge
	if !wanted {
		log.Info().Str("renderer", ev.RendererID).Msg("Renderer removed while its bridge was being created")
		c.worker.Submit(job{
			name:     "destroy",
			renderer: ev.RendererID,
			run: func(ctx context.Context) {
				c.bridges.DestroyBridge(ctx, b)
			},
		})
		return
	}

	c.live[b.ID()] = b
	c.bySink[b.SinkPath()] = b
	c.metrics.BridgesLive(len(c.live))
	c.publish()
}

func (c *Coordinator) handleBridgeFailed(ev Event) {
	delete(c.creating, ev.RendererID)
	log.Error().Err(ev.err).Str("renderer", ev.RendererID).Msg("Skipping renderer, bridge could not be created")
}

func (c *Coordinator) handleDeviceRemoved(ev Event) {
	b, ok := c.live[ev.RendererID]
	if !ok {
		if _, creating := c.creating[ev.RendererID]; creating {
			c.creating[ev.RendererID] = false
		}
		return
	}

	c.cancelPending(b.SinkPath())
	delete(c.live, b.ID())
	delete(c.bySink, b.SinkPath())
	b.Retire()
	c.metrics.BridgesLive(len(c.live))
	c.publish()

	log.Info().Str("renderer", b.ID()).Str("name", b.Descriptor().Name).Msg("Renderer removed")

	fallback := c.fallback
	c.worker.Submit(job{
		name:     "teardown",
		renderer: b.ID(),
		run: func(ctx context.Context) {
			c.teardown(ctx, b, fallback)
		},
	})
}

func (c *Coordinator) handleFallbackChanged(ev Event) {
	path := ev.SinkPath
	switch {
	case c.cfg.FallbackSink != "":
		return
	case path == "" || strings.HasPrefix(path, bridge.SinkPrefix):
		return
	case path == c.fallback:
		return
	}
	if _, ok := c.bySink[path]; ok {
		return
	}
	log.Info().Str("sink", path).Msg("Fallback sink changed")
	c.fallback = path
}

func (c *Coordinator) handleClientLeft(ev Event) {
	b, ok := c.bySink[ev.SinkPath]
	if !ok {
		return
	}
	c.worker.Submit(job{
		name:     "client_left",
		renderer: b.ID(),
		run: func(ctx context.Context) {
			c.clientLeft(ctx, b)
		},
	})
}

// handleCommandFailed applies the recovery policy. One corrective action per failure.
func (c *Coordinator) handleCommandFailed(ev Event) {
	b := ev.bridge
	if b.Retired() {
		return
	}
	name := b.Descriptor().Name

	switch {
	case c.cfg.AutoReconnect && !ev.corrective:
		log.Info().Str("renderer", b.ID()).Msg("Reconnecting to renderer")
		c.dispatchEvaluation(b, true)

	case c.cfg.SwitchBack && c.fallback != "":
		fallback := c.fallback
		reason := ev.err
		c.worker.Submit(job{
			name:     "switch_back",
			renderer: b.ID(),
			run: func(ctx context.Context) {
				c.switchBack(ctx, b, fallback, reason)
			},
		})

	case c.cfg.SwitchBack:
		log.Warn().Str("renderer", b.ID()).Msg("No fallback sink to switch back to")
		c.notifier.Notify("Renderer failed",
			name+" did not respond and no fallback output is available: "+ev.err.Error())

	default:
		c.notifier.Notify("Renderer failed", name+" did not respond: "+ev.err.Error())
	}
}

func (c *Coordinator) isBlocked(path string) bool {
	_, found := c.blocked.Get(path)
	return found
}

func (c *Coordinator) block(paths []string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		c.blocked.SetDefault(path, struct{}{})
		c.cancelPending(path)
		log.Debug().Str("sink", path).Dur("window", c.cfg.BlockWindow).Msg("Sink blocked")
	}
}

func (c *Coordinator) sorted() []*bridge.Bridge {
	out := make([]*bridge.Bridge, 0, len(c.live))
	for _, b := range c.live {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].Descriptor().Name, out[j].Descriptor().Name
		if ni != nj {
			return ni < nj
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

func (c *Coordinator) publish() {
	list := c.sorted()
	for _, p := range c.publishers {
		p.PublishBridges(list)
	}
}
