// Package renderer defines the remote playback capability the bridge drives.
// Concrete device families (DLNA, Chromecast) live in infra packages and only
// need to satisfy the Renderer interface.
package renderer

import (
	"context"
	"errors"
	"fmt"
)

// StatusOK is the code a renderer returns when a command was accepted.
const StatusOK = 200

// State mirrors the transport state of a renderer.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

// String returns the UPnP-style name of the state.
func (s State) String() string {
	switch s {
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	default:
		return "STOPPED"
	}
}

// ParseState maps a UPnP CurrentTransportState value to a State.
// Transitional states are reported as unknown.
func ParseState(s string) (State, bool) {
	switch s {
	case "PLAYING":
		return StatePlaying, true
	case "PAUSED_PLAYBACK", "PAUSED":
		return StatePaused, true
	case "STOPPED", "NO_MEDIA_PRESENT":
		return StateStopped, true
	}
	return StateStopped, false
}

// Family identifies the protocol family of a renderer.
type Family string

const (
	FamilyDLNA       Family = "dlna"
	FamilyChromecast Family = "chromecast"
)

// Descriptor is the static description of a discovered renderer.
type Descriptor struct {
	ID           string   `json:"id"` // stable unique id, e.g. the UDN
	Name         string   `json:"name"`
	Family       Family   `json:"family"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Location     string   `json:"location,omitempty"`
	MimeTypes    []string `json:"mimeTypes,omitempty"` // advertised sink protocol MIME types
	Codec        string   `json:"codec,omitempty"`     // user override, empty = auto
	Rules        RuleSet  `json:"-"`
}

// PlayRequest carries everything a renderer needs to start pulling a stream.
type PlayRequest struct {
	URL      string
	MimeType string
	Artist   string
	Title    string
	ThumbURL string // empty when no cover is available
}

// Renderer is a network playback endpoint.
type Renderer interface {
	Descriptor() Descriptor
	Play(ctx context.Context, req PlayRequest) (int, error)
	Stop(ctx context.Context) (int, error)
	// TransportState returns false when the state is unknown or the device is unreachable.
	TransportState(ctx context.Context) (State, bool)
}

// ErrUnexpectedStatus is wrapped by CommandError when the device answered with a non-200 code.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// CommandError reports a failed play/stop/status call.
type CommandError struct {
	Op         string
	RendererID string
	Code       int
	Err        error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("renderer %s: %s failed (code %d): %v", e.RendererID, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("renderer %s: %s failed (code %d)", e.RendererID, e.Op, e.Code)
}

func (e *CommandError) Unwrap() error { return e.Err }

// CheckResult converts a (code, error) pair into a CommandError, or nil on success.
func CheckResult(op, rendererID string, code int, err error) error {
	if err == nil && code == StatusOK {
		return nil
	}
	if err == nil {
		err = ErrUnexpectedStatus
	}
	return &CommandError{Op: op, RendererID: rendererID, Code: code, Err: err}
}
