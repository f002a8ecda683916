package coordinator

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// job is a unit of work that may talk to the audio backend or a renderer.
type job struct {
	name     string
	renderer string
	run      func(ctx context.Context)
}

// worker runs jobs one at a time in submission order. Submit never blocks.
type worker struct {
	mu      sync.Mutex
	queue   []job
	running bool
	wake    chan struct{}
	stopCh  chan struct{}
}

func newWorker() *worker {
	return &worker{
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Submit queues a job.
func (w *worker) Submit(j job) {
	w.mu.Lock()
	w.queue = append(w.queue, j)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start processes jobs until ctx is cancelled or Stop is called.
func (w *worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.queue = nil
		w.mu.Unlock()
	}()

	for {
		j, ok := w.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-w.wake:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		log.Debug().Str("job", j.name).Str("renderer", j.renderer).Msg("Running bridge job")
		j.run(ctx)
	}
}

func (w *worker) next() (job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return job{}, false
	}
	j := w.queue[0]
	w.queue[0] = job{}
	w.queue = w.queue[1:]
	return j, true
}

// Stop ends Start after the current job.
func (w *worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}

// IsRunning reports whether Start is active.
func (w *worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
