package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/edumarques81/castbridge/internal/audio"
)

// Source opens the encoded audio of a sink monitor.
type Source interface {
	Open(ctx context.Context, monitor string, codec audio.Codec) (io.ReadCloser, error)
}

// EncoderSource runs one encoder process per connection.
type EncoderSource struct {
	Encoder *audio.Encoder
}

// Open starts the encoder. Closing the reader kills the process.
func (e EncoderSource) Open(ctx context.Context, monitor string, codec audio.Codec) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := e.Encoder.Command(ctx, monitor, codec)
	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	return &process{ReadCloser: out, cmd: cmd, cancel: cancel}, nil
}

type process struct {
	io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

func (p *process) Close() error {
	p.cancel()
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// killed on purpose
		return nil
	}
	return err
}
