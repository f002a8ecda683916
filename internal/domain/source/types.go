// Package source tracks the audio server's sinks and the playback streams attached to them.
package source

import (
	"context"
	"errors"
	"fmt"
)

// Sink is an audio output known to the audio server.
type Sink struct {
	Path    string `json:"path"` // sink name, stable across refreshes
	Index   int    `json:"index"`
	Label   string `json:"label"`
	Monitor string `json:"monitor"` // monitor source name
	Module  string `json:"module,omitempty"`
}

// Stream is a playback stream (sink input). Streams are ephemeral and replaced
// wholesale on every refresh.
type Stream struct {
	ID         string `json:"id"`
	SinkPath   string `json:"sinkPath"`
	ClientName string `json:"clientName"`
	ClientIcon string `json:"clientIcon,omitempty"`
	Binary     string `json:"binary,omitempty"`
}

// Backend is the audio server the bridge runs against.
type Backend interface {
	Sinks(ctx context.Context) ([]Sink, error)
	Streams(ctx context.Context) ([]Stream, error)
	DefaultSink(ctx context.Context) (string, error)
	// CreateNullSink loads a null sink and returns the owning module id.
	CreateNullSink(ctx context.Context, name, label string) (string, error)
	DestroyNullSink(ctx context.Context, module string) error
	MoveStream(ctx context.Context, streamID, sinkPath string) error
	SetDefaultSink(ctx context.Context, sinkPath string) error
}

// ErrBackendUnavailable is wrapped by BackendError when every attempt failed.
var ErrBackendUnavailable = errors.New("audio backend unavailable")

// BackendError reports a refresh that exhausted its retries.
type BackendError struct {
	Attempts int
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("audio backend query failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *BackendError) Unwrap() []error { return []error{ErrBackendUnavailable, e.Err} }
