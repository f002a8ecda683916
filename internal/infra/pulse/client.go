// Package pulse talks to PulseAudio or PipeWire through pactl.
package pulse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/castbridge/internal/domain/source"
)

// Runner executes pactl and returns its stdout.
type Runner func(ctx context.Context, binary string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Client implements source.Backend with pactl.
type Client struct {
	binary string
	run    Runner
}

// Option configures a Client.
type Option func(*Client)

// WithBinary overrides the pactl path.
func WithBinary(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.binary = path
		}
	}
}

// WithRunner replaces process execution, used by tests.
func WithRunner(r Runner) Option {
	return func(c *Client) {
		c.run = r
	}
}

// NewClient creates a pactl client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		binary: "pactl",
		run:    execRunner,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) pactl(ctx context.Context, args ...string) ([]byte, error) {
	out, err := c.run(ctx, c.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("pactl %s: %w", args[0], err)
	}
	return out, nil
}

// id accepts both numeric and string JSON values; pactl versions differ.
type id string

func (i *id) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*i = id(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*i = id(n.String())
	return nil
}

type pactlSink struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	MonitorSource string `json:"monitor_source"`
	OwnerModule   id     `json:"owner_module"`
}

type pactlSinkInput struct {
	Index      int               `json:"index"`
	Sink       int               `json:"sink"`
	Corked     bool              `json:"corked"`
	Properties map[string]string `json:"properties"`
}

func (c *Client) listSinks(ctx context.Context) ([]pactlSink, error) {
	out, err := c.pactl(ctx, "--format=json", "list", "sinks")
	if err != nil {
		return nil, err
	}
	var sinks []pactlSink
	if err := json.Unmarshal(out, &sinks); err != nil {
		return nil, fmt.Errorf("decode sinks: %w", err)
	}
	return sinks, nil
}

func (c *Client) Sinks(ctx context.Context) ([]source.Sink, error) {
	raw, err := c.listSinks(ctx)
	if err != nil {
		return nil, err
	}
	sinks := make([]source.Sink, 0, len(raw))
	for _, s := range raw {
		sinks = append(sinks, source.Sink{
			Path:    s.Name,
			Index:   s.Index,
			Label:   s.Description,
			Monitor: s.MonitorSource,
			Module:  string(s.OwnerModule),
		})
	}
	return sinks, nil
}

func (c *Client) Streams(ctx context.Context) ([]source.Stream, error) {
	raw, err := c.listSinks(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int]string, len(raw))
	for _, s := range raw {
		names[s.Index] = s.Name
	}

	out, err := c.pactl(ctx, "--format=json", "list", "sink-inputs")
	if err != nil {
		return nil, err
	}
	var inputs []pactlSinkInput
	if err := json.Unmarshal(out, &inputs); err != nil {
		return nil, fmt.Errorf("decode sink inputs: %w", err)
	}

	streams := make([]source.Stream, 0, len(inputs))
	for _, in := range inputs {
		sink, ok := names[in.Sink]
		if !ok {
			continue
		}
		streams = append(streams, source.Stream{
			ID:         strconv.Itoa(in.Index),
			SinkPath:   sink,
			ClientName: clientName(in.Properties),
			ClientIcon: in.Properties["application.icon_name"],
			Binary:     in.Properties["application.process.binary"],
		})
	}
	return streams, nil
}

func clientName(props map[string]string) string {
	for _, key := range []string{"application.name", "media.name", "application.process.binary"} {
		if v := props[key]; v != "" {
			return v
		}
	}
	return ""
}

func (c *Client) DefaultSink(ctx context.Context) (string, error) {
	out, err := c.pactl(ctx, "get-default-sink")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Client) CreateNullSink(ctx context.Context, name, label string) (string, error) {
	label = strings.NewReplacer(`'`, "", `"`, "").Replace(label)
	out, err := c.pactl(ctx, "load-module", "module-null-sink",
		"sink_name="+name,
		"sink_properties=device.description='"+label+"'",
	)
	if err != nil {
		return "", err
	}
	module := strings.TrimSpace(string(out))
	log.Debug().Str("sink", name).Str("module", module).Msg("Loaded null sink")
	return module, nil
}

func (c *Client) DestroyNullSink(ctx context.Context, module string) error {
	if module == "" {
		return nil
	}
	_, err := c.pactl(ctx, "unload-module", module)
	return err
}

func (c *Client) MoveStream(ctx context.Context, streamID, sinkPath string) error {
	_, err := c.pactl(ctx, "move-sink-input", streamID, sinkPath)
	return err
}

func (c *Client) SetDefaultSink(ctx context.Context, sinkPath string) error {
	_, err := c.pactl(ctx, "set-default-sink", sinkPath)
	return err
}
