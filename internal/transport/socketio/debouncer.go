package socketio

import (
	"sync"
	"time"
)

// BroadcastDebouncer collapses bursts of change notifications into one
// broadcast per topic. A topic triggered again within the window restarts it.
type BroadcastDebouncer struct {
	window    time.Duration
	callbacks map[string]func()

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
	stopped bool
}

// NewBroadcastDebouncer creates a debouncer. callbacks maps each topic to the
// broadcast it triggers.
func NewBroadcastDebouncer(window time.Duration, callbacks map[string]func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:    window,
		callbacks: callbacks,
		pending:   make(map[string]bool),
	}
}

// Trigger marks topic as changed. Unknown topics are ignored.
func (d *BroadcastDebouncer) Trigger(topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if _, ok := d.callbacks[topic]; !ok {
		return
	}
	d.pending[topic] = true

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	topics := make([]string, 0, len(d.pending))
	for t := range d.pending {
		topics = append(topics, t)
	}
	d.pending = make(map[string]bool)
	d.mu.Unlock()

	for _, t := range topics {
		d.callbacks[t]()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = make(map[string]bool)
}
