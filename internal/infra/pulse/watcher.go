package pulse

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/castbridge/internal/domain/coordinator"
)

// Poster receives translated events.
type Poster interface {
	Post(ev coordinator.Event) bool
}

var subscribeLine = regexp.MustCompile(`^Event '(new|change|remove)' on ([a-z-]+)(?: #(\d+))?`)

// Watcher follows `pactl subscribe` and forwards topology changes.
type Watcher struct {
	client  *Client
	poster  Poster
	restart time.Duration
}

// NewWatcher creates a watcher. client is used to resolve the default sink.
func NewWatcher(client *Client, poster Poster) *Watcher {
	return &Watcher{
		client:  client,
		poster:  poster,
		restart: 2 * time.Second,
	}
}

// Run keeps a subscription open until ctx is cancelled, restarting pactl when it exits.
func (w *Watcher) Run(ctx context.Context) {
	for {
		if err := w.subscribe(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Dur("retry", w.restart).Msg("pactl subscribe ended")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.restart):
		}
	}
}

func (w *Watcher) subscribe(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, w.client.binary, "subscribe")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	log.Info().Msg("Watching audio server events")

	w.consume(ctx, stdout)
	return cmd.Wait()
}

// consume reads subscribe output line by line.
func (w *Watcher) consume(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		ev, server, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if server {
			w.postDefaultSink(ctx)
			continue
		}
		w.poster.Post(ev)
	}
}

func (w *Watcher) postDefaultSink(ctx context.Context) {
	def, err := w.client.DefaultSink(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to read default sink")
		return
	}
	w.poster.Post(coordinator.FallbackSinkChanged(def))
}

// parseLine maps one subscribe line to an event. server is true for
// server changes, which may carry a new default sink.
func parseLine(line string) (ev coordinator.Event, server bool, ok bool) {
	m := subscribeLine.FindStringSubmatch(line)
	if m == nil {
		return coordinator.Event{}, false, false
	}
	kind, facility, index := m[1], m[2], m[3]

	switch facility {
	case "sink-input":
		switch kind {
		case "new":
			return coordinator.StreamAdded("", index), false, true
		case "remove":
			return coordinator.StreamRemoved("", index), false, true
		default:
			ev := coordinator.SinkUpdated("")
			ev.StreamID = index
			return ev, false, true
		}
	case "sink":
		return coordinator.SinkUpdated(""), false, true
	case "server":
		return coordinator.Event{}, true, true
	}
	return coordinator.Event{}, false, false
}
