package audio

import (
	"context"
	"os/exec"
	"strconv"
)

// Encoder builds the capture+encode process for a sink monitor.
type Encoder struct {
	Binary  string // ffmpeg executable
	Format  Format
	Bitrate int // kbit/s for lossy codecs
}

// NewEncoder returns an encoder using ffmpeg from PATH.
func NewEncoder(bitrate int) *Encoder {
	return &Encoder{
		Binary:  "ffmpeg",
		Format:  DefaultFormat,
		Bitrate: bitrate,
	}
}

// Args returns the full ffmpeg argument list writing the encoded stream to stdout.
func (e *Encoder) Args(monitor string, codec Codec) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "pulse",
		"-sample_rate", strconv.Itoa(e.Format.SampleRate),
		"-channels", strconv.Itoa(e.Format.Channels),
		"-i", monitor,
	}
	args = append(args, codec.EncoderArgs(e.Bitrate)...)
	return append(args, "pipe:1")
}

// Command returns the encoder process bound to ctx.
func (e *Encoder) Command(ctx context.Context, monitor string, codec Codec) *exec.Cmd {
	return exec.CommandContext(ctx, e.Binary, e.Args(monitor, codec)...)
}
