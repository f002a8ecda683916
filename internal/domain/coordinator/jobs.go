package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/castbridge/internal/domain/bridge"
	"github.com/edumarques81/castbridge/internal/domain/renderer"
	"github.com/edumarques81/castbridge/internal/domain/source"
)

// Jobs run on the worker goroutine. They never touch loop-owned state and
// report back through Post.

func (c *Coordinator) startup(ctx context.Context) {
	if err := c.registry.Refresh(ctx); err != nil {
		c.metrics.RefreshFailed()
		log.Warn().Err(err).Msg("Initial audio backend refresh failed")
	}
	if c.cfg.FallbackSink != "" {
		return
	}
	def, err := c.backend.DefaultSink(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to query default sink")
		return
	}
	c.Post(FallbackSinkChanged(def))
}

// evaluate refreshes the registry and runs the transition table for one bridge.
func (c *Coordinator) evaluate(ctx context.Context, evalID string, b *bridge.Bridge, corrective bool) {
	if b.Retired() {
		return
	}

	logger := log.With().Str("eval", evalID).Str("renderer", b.ID()).Logger()

	if err := c.registry.Refresh(ctx); err != nil {
		// no information: keep the last decision
		c.metrics.RefreshFailed()
		logger.Warn().Err(err).Msg("Audio backend refresh failed, keeping renderer state")
		return
	}

	streams := c.registry.StreamsFor(b.SinkPath())
	d := b.Descriptor()
	state := b.State()
	action := Decide(state, len(streams) > 0, d.Rules)
	c.metrics.EvaluationDone(action.String())

	logger.Debug().
		Str("state", state.String()).
		Int("streams", len(streams)).
		Str("action", action.String()).
		Msg("Bridge evaluated")

	var err error
	switch action {
	case ActionNone:
		return
	case ActionMarkStopped:
		b.SetState(renderer.StateStopped)
		c.Post(Event{Kind: eventStateChanged})
		return
	case ActionPlay:
		err = c.play(ctx, b, streams)
		if err == nil {
			b.SetState(renderer.StatePlaying)
		}
	case ActionStop:
		err = c.stop(ctx, b)
		if err == nil {
			b.SetState(renderer.StateStopped)
		}
	}

	if err != nil {
		logger.Error().Err(err).Str("action", action.String()).Msg("Renderer command failed")
		c.Post(Event{Kind: eventCommandFailed, bridge: b, err: err, corrective: corrective})
		return
	}

	logger.Info().Str("name", d.Name).Str("state", b.State().String()).Msg("Renderer state changed")
	c.Post(Event{Kind: eventStateChanged})
}

func (c *Coordinator) play(ctx context.Context, b *bridge.Bridge, streams []source.Stream) error {
	d := b.Descriptor()
	md := c.covers.Metadata(streams)
	req := renderer.PlayRequest{
		URL:      c.locator.StreamURL(b),
		MimeType: b.Codec().MimeType(),
		Artist:   md.Artist,
		Title:    md.Title,
		ThumbURL: md.Thumb(),
	}

	cctx, cancel := context.WithTimeout(ctx, d.Rules.Timeout(c.cfg.CommandTimeout))
	defer cancel()

	code, err := b.Renderer().Play(cctx, req)
	err = renderer.CheckResult("play", d.ID, code, err)
	c.metrics.CommandDone("play", err == nil)
	return err
}

func (c *Coordinator) stop(ctx context.Context, b *bridge.Bridge) error {
	d := b.Descriptor()
	cctx, cancel := context.WithTimeout(ctx, d.Rules.Timeout(c.cfg.CommandTimeout))
	defer cancel()

	code, err := b.Renderer().Stop(cctx)
	err = renderer.CheckResult("stop", d.ID, code, err)
	c.metrics.CommandDone("stop", err == nil)
	return err
}

// moveStreams blocks both sinks, then moves every stream of b to fallback.
func (c *Coordinator) moveStreams(ctx context.Context, b *bridge.Bridge, fallback string) int {
	if err := c.registry.Refresh(ctx); err != nil {
		c.metrics.RefreshFailed()
		log.Warn().Err(err).Str("renderer", b.ID()).Msg("Refresh failed, moving last known streams")
	}
	streams := c.registry.StreamsFor(b.SinkPath())
	if len(streams) == 0 {
		return 0
	}

	// the moves below produce topology events of our own making
	c.Post(Event{Kind: eventBlock, paths: []string{b.SinkPath(), fallback}})

	moved := 0
	for _, st := range streams {
		if err := c.backend.MoveStream(ctx, st.ID, fallback); err != nil {
			log.Warn().Err(err).Str("stream", st.ID).Str("sink", fallback).Msg("Failed to move stream")
			continue
		}
		moved++
	}
	return moved
}

func (c *Coordinator) switchBack(ctx context.Context, b *bridge.Bridge, fallback string, reason error) {
	if b.Retired() {
		return
	}
	moved := c.moveStreams(ctx, b, fallback)
	c.restoreDefault(ctx, b, fallback)
	b.SetState(renderer.StateStopped)
	c.metrics.SwitchedBack()
	c.Post(Event{Kind: eventStateChanged})

	name := b.Descriptor().Name
	log.Warn().
		Str("renderer", b.ID()).
		Str("fallback", fallback).
		Int("moved", moved).
		Msg("Switched streams back to fallback sink")

	c.notifier.Notify("Renderer failed",
		fmt.Sprintf("%s: %s. Audio switched back to %s.", name, describe(reason), fallback))
}

// teardown handles a removed device: rescue its streams, then unload its sink.
func (c *Coordinator) teardown(ctx context.Context, b *bridge.Bridge, fallback string) {
	name := b.Descriptor().Name

	if c.cfg.SwitchBack && fallback != "" {
		moved := c.moveStreams(ctx, b, fallback)
		c.restoreDefault(ctx, b, fallback)
		if moved > 0 {
			c.metrics.SwitchedBack()
			c.notifier.Notify("Renderer disconnected",
				fmt.Sprintf("%s disconnected. Audio switched back to %s.", name, fallback))
		}
	} else if c.registry.Refresh(ctx) == nil && c.registry.Occupied(b.SinkPath()) {
		c.notifier.Notify("Renderer disconnected",
			fmt.Sprintf("%s disconnected while audio was playing on it.", name))
	}

	c.bridges.DestroyBridge(ctx, b)
}

// clientLeft syncs the cached state after the last stream client went away.
// A renderer that left while its sink still has streams counts as a failure.
func (c *Coordinator) clientLeft(ctx context.Context, b *bridge.Bridge) {
	if b.Retired() || b.State() != renderer.StatePlaying {
		return
	}

	d := b.Descriptor()
	cctx, cancel := context.WithTimeout(ctx, d.Rules.Timeout(c.cfg.CommandTimeout))
	state, known := b.Renderer().TransportState(cctx)
	cancel()
	if known && state == renderer.StatePlaying {
		return
	}

	logger := log.With().Str("renderer", d.ID).Logger()
	if known {
		logger.Info().Str("state", state.String()).Msg("Renderer stopped pulling its stream")
		b.SetState(state)
		c.Post(Event{Kind: eventStateChanged})
	}

	if err := c.registry.Refresh(ctx); err != nil {
		c.metrics.RefreshFailed()
		logger.Warn().Err(err).Msg("Audio backend refresh failed, keeping renderer state")
		return
	}
	if !c.registry.Occupied(b.SinkPath()) {
		return
	}

	logger.Warn().Bool("reachable", known).Msg("Renderer left while audio is attached")
	b.SetState(renderer.StateStopped)
	c.Post(Event{Kind: eventStateChanged})
	c.Post(Event{Kind: eventCommandFailed, bridge: b, err: fmt.Errorf("%s: %w", d.ID, ErrRendererLeft)})
}

// restoreDefault points the default sink back at fallback when it still
// names the bridge sink, so new streams do not land on a dead renderer.
func (c *Coordinator) restoreDefault(ctx context.Context, b *bridge.Bridge, fallback string) {
	def, err := c.backend.DefaultSink(ctx)
	if err != nil || def != b.SinkPath() {
		return
	}
	if err := c.backend.SetDefaultSink(ctx, fallback); err != nil {
		log.Warn().Err(err).Str("sink", fallback).Msg("Failed to restore default sink")
		return
	}
	log.Info().Str("sink", fallback).Msg("Default sink restored")
}

func describe(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 && i+2 < len(msg) {
		return msg[i+2:]
	}
	return msg
}
