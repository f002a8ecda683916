package cast

import (
	"context"
	"fmt"
	"time"

	"github.com/edumarques81/castbridge/internal/domain/renderer"
)

const (
	// DefaultTimeout bounds one command unless REQUEST_TIMEOUT says otherwise.
	DefaultTimeout = 10 * time.Second

	// DefaultMediaReceiver is the stock receiver app that plays a media URL.
	DefaultMediaReceiver = "CC1AD845"

	// metadataMusicTrack is MusicTrackMediaMetadata in the media namespace.
	metadataMusicTrack = 3
)

// DefaultMimeTypes are the audio formats the default media receiver decodes.
var DefaultMimeTypes = []string{"audio/flac", "audio/mpeg", "audio/aac", "audio/ogg", "audio/wav"}

// Renderer drives a Cast device through the default media receiver. Every
// command opens its own channel, so a device that rebooted between commands
// is picked up again without reconnect logic.
type Renderer struct {
	desc renderer.Descriptor
	addr string
	dial Dialer
}

// NewRenderer creates a renderer for the device at addr (host:port).
func NewRenderer(id, name, model, addr string, dial Dialer) *Renderer {
	if dial == nil {
		dial = TLSDialer
	}
	return &Renderer{
		desc: renderer.Descriptor{
			ID:           id,
			Name:         name,
			Family:       renderer.FamilyChromecast,
			Manufacturer: "Google",
			Model:        model,
			Location:     addr,
			MimeTypes:    append([]string(nil), DefaultMimeTypes...),
		},
		addr: addr,
		dial: dial,
	}
}

func (r *Renderer) Descriptor() renderer.Descriptor { return r.desc }

// Addr returns the device's channel address.
func (r *Renderer) Addr() string { return r.addr }

// Configure applies the user's display name, codec override and rules.
func (r *Renderer) Configure(name, codec string, rules renderer.RuleSet) {
	if name != "" {
		r.desc.Name = name
	}
	r.desc.Codec = codec
	r.desc.Rules = rules
}

func (r *Renderer) open(ctx context.Context) (*channel, error) {
	return openChannel(ctx, r.dial, r.addr)
}

func (r *Renderer) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.desc.Rules.Timeout(DefaultTimeout))
}

// Play launches the default media receiver and loads req.URL as a live stream.
func (r *Renderer) Play(ctx context.Context, req renderer.PlayRequest) (int, error) {
	ctx, cancel := r.timeout(ctx)
	defer cancel()

	ch, err := r.open(ctx)
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	resp, err := ch.request(ctx, nsReceiver, receiverID, map[string]any{
		"type":  "LAUNCH",
		"appId": DefaultMediaReceiver,
	})
	if err != nil {
		return 0, fmt.Errorf("launch receiver: %w", err)
	}
	status, err := decodeReceiverStatus(resp)
	if err != nil {
		return 0, err
	}
	app, ok := status.app(DefaultMediaReceiver)
	if !ok || app.TransportID == "" {
		return 0, fmt.Errorf("launch receiver: %w: app not running", ErrRejected)
	}

	if err := ch.connect(app.TransportID); err != nil {
		return 0, err
	}
	// without a play command the media is loaded paused
	autoplay := !r.desc.Rules.Has(renderer.DisablePlayCommand)
	if _, err := ch.request(ctx, nsMedia, app.TransportID, loadPayload(req, autoplay)); err != nil {
		return 0, fmt.Errorf("load media: %w", err)
	}
	return renderer.StatusOK, nil
}

func loadPayload(req renderer.PlayRequest, autoplay bool) map[string]any {
	metadata := map[string]any{
		"metadataType": metadataMusicTrack,
		"title":        req.Title,
		"artist":       req.Artist,
	}
	if req.ThumbURL != "" {
		metadata["images"] = []map[string]string{{"url": req.ThumbURL}}
	}
	return map[string]any{
		"type":        "LOAD",
		"autoplay":    autoplay,
		"currentTime": 0,
		"media": map[string]any{
			"contentId":   req.URL,
			"contentType": req.MimeType,
			"streamType":  "LIVE",
			"metadata":    metadata,
		},
	}
}

// Stop closes the default media receiver. A device not running it is
// already stopped.
func (r *Renderer) Stop(ctx context.Context) (int, error) {
	ctx, cancel := r.timeout(ctx)
	defer cancel()

	ch, err := r.open(ctx)
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	status, err := r.receiverStatus(ctx, ch)
	if err != nil {
		return 0, err
	}
	app, ok := status.app(DefaultMediaReceiver)
	if !ok {
		return renderer.StatusOK, nil
	}

	if _, err := ch.request(ctx, nsReceiver, receiverID, map[string]any{
		"type":      "STOP",
		"sessionId": app.SessionID,
	}); err != nil {
		return 0, fmt.Errorf("stop receiver: %w", err)
	}
	return renderer.StatusOK, nil
}

// TransportState reports the media player state. A device not running the
// default media receiver is stopped; an unreachable one is unknown.
func (r *Renderer) TransportState(ctx context.Context) (renderer.State, bool) {
	ctx, cancel := r.timeout(ctx)
	defer cancel()

	ch, err := r.open(ctx)
	if err != nil {
		return renderer.StateStopped, false
	}
	defer ch.Close()

	status, err := r.receiverStatus(ctx, ch)
	if err != nil {
		return renderer.StateStopped, false
	}
	app, ok := status.app(DefaultMediaReceiver)
	if !ok {
		return renderer.StateStopped, true
	}

	if err := ch.connect(app.TransportID); err != nil {
		return renderer.StateStopped, false
	}
	resp, err := ch.request(ctx, nsMedia, app.TransportID, map[string]any{"type": "GET_STATUS"})
	if err != nil {
		return renderer.StateStopped, false
	}
	media, err := decodeMediaStatus(resp)
	if err != nil {
		return renderer.StateStopped, false
	}
	if len(media) == 0 {
		return renderer.StateStopped, true
	}
	return parsePlayerState(media[0].PlayerState)
}

func (r *Renderer) receiverStatus(ctx context.Context, ch *channel) (receiverStatus, error) {
	resp, err := ch.request(ctx, nsReceiver, receiverID, map[string]any{"type": "GET_STATUS"})
	if err != nil {
		return receiverStatus{}, fmt.Errorf("receiver status: %w", err)
	}
	return decodeReceiverStatus(resp)
}

func parsePlayerState(s string) (renderer.State, bool) {
	switch s {
	case "PLAYING", "BUFFERING":
		return renderer.StatePlaying, true
	case "PAUSED":
		return renderer.StatePaused, true
	case "IDLE":
		return renderer.StateStopped, true
	}
	return renderer.StateStopped, false
}
