package socketio

import (
	"sync/atomic"
	"testing"
	"time"
)

func newCountingDebouncer(window time.Duration) (*BroadcastDebouncer, *int32, *int32) {
	var bridges, system int32
	d := NewBroadcastDebouncer(window, map[string]func(){
		topicBridges: func() { atomic.AddInt32(&bridges, 1) },
		topicSystem:  func() { atomic.AddInt32(&system, 1) },
	})
	return d, &bridges, &system
}

func TestDebouncerBurstCollapsesToOne(t *testing.T) {
	d, bridges, system := newCountingDebouncer(50 * time.Millisecond)
	defer d.Stop()

	// a renderer switching state publishes several times in a row
	for i := 0; i < 10; i++ {
		d.Trigger(topicBridges)
	}

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(bridges); got != 1 {
		t.Errorf("expected 1 bridges broadcast, got %d", got)
	}
	if got := atomic.LoadInt32(system); got != 0 {
		t.Errorf("expected 0 system broadcasts, got %d", got)
	}
}

func TestDebouncerSpacedTriggersExtendWindow(t *testing.T) {
	d, bridges, _ := newCountingDebouncer(50 * time.Millisecond)
	defer d.Stop()

	for i := 0; i < 20; i++ {
		d.Trigger(topicBridges)
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(bridges); got != 1 {
		t.Errorf("expected 1 broadcast, got %d", got)
	}
}

func TestDebouncerTopicsFireTogether(t *testing.T) {
	d, bridges, system := newCountingDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Trigger(topicBridges)
	d.Trigger(topicSystem)
	d.Trigger(topicBridges)

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(bridges); got != 1 {
		t.Errorf("expected 1 bridges broadcast, got %d", got)
	}
	if got := atomic.LoadInt32(system); got != 1 {
		t.Errorf("expected 1 system broadcast, got %d", got)
	}
}

func TestDebouncerSeparateWindowsFireIndependently(t *testing.T) {
	d, bridges, _ := newCountingDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Trigger(topicBridges)
	time.Sleep(100 * time.Millisecond)
	d.Trigger(topicBridges)
	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(bridges); got != 2 {
		t.Errorf("expected 2 broadcasts, got %d", got)
	}
}

func TestDebouncerUnknownTopicIgnored(t *testing.T) {
	d, bridges, system := newCountingDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Trigger("queue")
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(bridges)+atomic.LoadInt32(system) != 0 {
		t.Error("unknown topic should not broadcast")
	}
}

func TestDebouncerStopPreventsCallbacks(t *testing.T) {
	d, bridges, _ := newCountingDebouncer(50 * time.Millisecond)

	d.Trigger(topicBridges)
	d.Stop()
	d.Trigger(topicBridges)

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(bridges); got != 0 {
		t.Errorf("expected 0 broadcasts after stop, got %d", got)
	}
}
