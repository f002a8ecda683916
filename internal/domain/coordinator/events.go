package coordinator

import (
	"github.com/edumarques81/castbridge/internal/domain/bridge"
	"github.com/edumarques81/castbridge/internal/domain/renderer"
)

// EventKind identifies a coordinator event.
type EventKind int

const (
	EventStreamAdded EventKind = iota
	EventStreamRemoved
	EventSinkUpdated
	EventDeviceAdded
	EventDeviceRemoved
	EventFallbackSinkChanged
	// EventStreamClientLeft is posted by the streaming server when a renderer
	// closes its HTTP connection.
	EventStreamClientLeft
	// EventReevaluate asks for an immediate evaluation of one or all bridges.
	EventReevaluate

	// loop-internal
	eventEvaluationDue
	eventBridgeCreated
	eventBridgeFailed
	eventCommandFailed
	eventStateChanged
	eventBlock
)

var eventNames = map[EventKind]string{
	EventStreamAdded:         "stream_added",
	EventStreamRemoved:       "stream_removed",
	EventSinkUpdated:         "sink_updated",
	EventDeviceAdded:         "device_added",
	EventDeviceRemoved:       "device_removed",
	EventFallbackSinkChanged: "fallback_sink_changed",
	EventStreamClientLeft:    "stream_client_left",
	EventReevaluate:          "reevaluate",
	eventEvaluationDue:       "evaluation_due",
	eventBridgeCreated:       "bridge_created",
	eventBridgeFailed:        "bridge_failed",
	eventCommandFailed:       "command_failed",
	eventStateChanged:        "state_changed",
	eventBlock:               "block",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is a message for the coordinator loop.
type Event struct {
	Kind EventKind
	// SinkPath is the affected sink. Empty on topology events means "unknown",
	// which re-evaluates every bridge sink.
	SinkPath   string
	StreamID   string
	Renderer   renderer.Renderer
	RendererID string

	gen        uint64
	bridge     *bridge.Bridge
	err        error
	corrective bool
	paths      []string
}

// StreamAdded reports a new playback stream on sinkPath.
func StreamAdded(sinkPath, streamID string) Event {
	return Event{Kind: EventStreamAdded, SinkPath: sinkPath, StreamID: streamID}
}

// StreamRemoved reports a vanished playback stream. sinkPath may be empty.
func StreamRemoved(sinkPath, streamID string) Event {
	return Event{Kind: EventStreamRemoved, SinkPath: sinkPath, StreamID: streamID}
}

// SinkUpdated reports a change on a sink, or on a stream that may have moved.
func SinkUpdated(sinkPath string) Event {
	return Event{Kind: EventSinkUpdated, SinkPath: sinkPath}
}

// DeviceAdded reports a discovered renderer.
func DeviceAdded(r renderer.Renderer) Event {
	return Event{Kind: EventDeviceAdded, Renderer: r, RendererID: r.Descriptor().ID}
}

// DeviceRemoved reports a renderer that went away.
func DeviceRemoved(rendererID string) Event {
	return Event{Kind: EventDeviceRemoved, RendererID: rendererID}
}

// FallbackSinkChanged reports a new default output of the audio server.
func FallbackSinkChanged(sinkPath string) Event {
	return Event{Kind: EventFallbackSinkChanged, SinkPath: sinkPath}
}

// StreamClientLeft reports that the renderer on sinkPath stopped pulling its stream.
func StreamClientLeft(sinkPath string) Event {
	return Event{Kind: EventStreamClientLeft, SinkPath: sinkPath}
}

// Reevaluate requests an immediate evaluation. An empty id means every bridge.
func Reevaluate(rendererID string) Event {
	return Event{Kind: EventReevaluate, RendererID: rendererID}
}
