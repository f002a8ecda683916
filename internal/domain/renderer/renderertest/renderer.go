// Package renderertest provides a scriptable renderer for tests.
package renderertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edumarques81/castbridge/internal/domain/renderer"
)

// ErrUnreachable is returned when a failure is scripted without a code.
var ErrUnreachable = errors.New("renderer unreachable")

// Call records one command sent to the renderer.
type Call struct {
	Op  string
	Req renderer.PlayRequest
	At  time.Time
}

// Renderer is a fake renderer that records calls and tracks overlap.
type Renderer struct {
	desc renderer.Descriptor

	// Latency is slept inside each Play/Stop call.
	Latency time.Duration

	mu        sync.Mutex
	calls     []Call
	failPlay  int
	failStop  int
	state     renderer.State
	stateKnow bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// New returns a fake DLNA renderer with the given id.
func New(id, name string) *Renderer {
	return &Renderer{
		desc: renderer.Descriptor{
			ID:        id,
			Name:      name,
			Family:    renderer.FamilyDLNA,
			MimeTypes: []string{"audio/mpeg", "audio/flac"},
		},
		stateKnow: true,
	}
}

// WithRules sets the renderer's rule set.
func (r *Renderer) WithRules(rules renderer.RuleSet) *Renderer {
	r.desc.Rules = rules
	return r
}

// FailPlay makes the next n Play calls answer 500.
func (r *Renderer) FailPlay(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failPlay = n
}

// FailStop makes the next n Stop calls answer 500.
func (r *Renderer) FailStop(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failStop = n
}

// SetTransportState scripts the answer of TransportState.
func (r *Renderer) SetTransportState(s renderer.State, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.stateKnow = known
}

func (r *Renderer) Descriptor() renderer.Descriptor { return r.desc }

func (r *Renderer) Play(ctx context.Context, req renderer.PlayRequest) (int, error) {
	return r.command(ctx, "play", req)
}

func (r *Renderer) Stop(ctx context.Context) (int, error) {
	return r.command(ctx, "stop", renderer.PlayRequest{})
}

func (r *Renderer) TransportState(ctx context.Context) (renderer.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.stateKnow
}

func (r *Renderer) command(ctx context.Context, op string, req renderer.PlayRequest) (int, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		peak := r.maxInFlight.Load()
		if n <= peak || r.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	if r.Latency > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(r.Latency):
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: op, Req: req, At: time.Now()})

	fail := false
	switch op {
	case "play":
		if r.failPlay > 0 {
			r.failPlay--
			fail = true
		} else {
			r.state = renderer.StatePlaying
		}
	case "stop":
		if r.failStop > 0 {
			r.failStop--
			fail = true
		} else {
			r.state = renderer.StateStopped
		}
	}
	if fail {
		return 500, ErrUnreachable
	}
	return renderer.StatusOK, nil
}

// Calls returns a copy of the recorded calls.
func (r *Renderer) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many calls of op were made.
func (r *Renderer) Count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// MaxInFlight returns the highest number of overlapping commands seen.
func (r *Renderer) MaxInFlight() int { return int(r.maxInFlight.Load()) }
