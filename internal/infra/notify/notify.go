// Package notify delivers user-visible messages about renderer failures.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultQueueSize = 32
	defaultTimeout   = 10 * time.Second
)

// Message is one notification.
type Message struct {
	Title string
	Body  string
	At    time.Time
}

// Provider sends a message somewhere.
type Provider interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Dispatcher queues messages and fans them out to providers in the background.
// Notify never blocks; failures are logged.
type Dispatcher struct {
	providers []Provider
	queue     chan Message
	timeout   time.Duration

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher over providers.
func NewDispatcher(timeout time.Duration, providers ...Provider) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		providers: providers,
		queue:     make(chan Message, defaultQueueSize),
		timeout:   timeout,
	}
}

// Notify enqueues a message.
func (d *Dispatcher) Notify(title, body string) {
	log.Warn().Str("title", title).Str("message", body).Msg("Notification")
	if len(d.providers) == 0 {
		return
	}
	select {
	case d.queue <- Message{Title: title, Body: body, At: time.Now()}:
	default:
		log.Warn().Str("title", title).Msg("Notification queue full, dropping message")
	}
}

// Run delivers queued messages until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.wg.Wait()
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-d.queue:
			d.dispatch(ctx, m)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, m Message) {
	// one goroutine per provider so a slow webhook does not hold up the desktop
	for _, p := range d.providers {
		d.wg.Add(1)
		go func(p Provider) {
			defer d.wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			if err := p.Send(sendCtx, m); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("provider", p.Name()).Msg("Notification send failed")
			}
		}(p)
	}
}
