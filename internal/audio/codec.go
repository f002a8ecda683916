// Package audio provides codec selection and encoder process construction for bridged sinks.
package audio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/castbridge/internal/domain/renderer"
)

// Format describes the PCM format captured from a sink monitor.
type Format struct {
	SampleRate int `json:"sampleRate"`
	BitDepth   int `json:"bitDepth"`
	Channels   int `json:"channels"`
}

// DefaultFormat is CD quality stereo.
var DefaultFormat = Format{SampleRate: 44100, BitDepth: 16, Channels: 2}

// String returns e.g. "44.1kHz/16-bit/2ch".
func (f Format) String() string {
	return FormatSampleRate(f.SampleRate) + "/" + FormatBitDepth(f.BitDepth) + "/" + strconv.Itoa(f.Channels) + "ch"
}

// Codec is an encoding a renderer can be fed with.
type Codec struct {
	Name      string   `json:"name"`
	MimeTypes []string `json:"mimeTypes"` // first entry is announced to the renderer
	Ext       string   `json:"ext"`
	Lossless  bool     `json:"lossless"`
	// ffmpeg output arguments, without the trailing output target
	args []string
}

// MimeType returns the primary MIME type.
func (c Codec) MimeType() string {
	if len(c.MimeTypes) == 0 {
		return "application/octet-stream"
	}
	return c.MimeTypes[0]
}

// Accepts reports whether mime (possibly with parameters) is one of the codec's MIME types.
func (c Codec) Accepts(mime string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	for _, m := range c.MimeTypes {
		if m == base {
			return true
		}
	}
	return false
}

// EncoderArgs returns the ffmpeg output arguments for the codec.
func (c Codec) EncoderArgs(bitrate int) []string {
	args := append([]string(nil), c.args...)
	if bitrate > 0 && !c.Lossless {
		args = append(args, "-b:a", strconv.Itoa(bitrate)+"k")
	}
	return args
}

var codecs = map[string]Codec{
	"mp3": {
		Name: "mp3", Ext: "mp3",
		MimeTypes: []string{"audio/mpeg", "audio/mp3"},
		args:      []string{"-c:a", "libmp3lame", "-f", "mp3"},
	},
	"flac": {
		Name: "flac", Ext: "flac", Lossless: true,
		MimeTypes: []string{"audio/flac", "audio/x-flac"},
		args:      []string{"-c:a", "flac", "-f", "flac"},
	},
	"wav": {
		Name: "wav", Ext: "wav", Lossless: true,
		MimeTypes: []string{"audio/wav", "audio/x-wav"},
		args:      []string{"-c:a", "pcm_s16le", "-f", "wav"},
	},
	"l16": {
		Name: "l16", Ext: "pcm", Lossless: true,
		MimeTypes: []string{"audio/l16"},
		args:      []string{"-c:a", "pcm_s16be", "-f", "s16be"},
	},
	"ogg": {
		Name: "ogg", Ext: "ogg",
		MimeTypes: []string{"audio/ogg", "application/ogg"},
		args:      []string{"-c:a", "libvorbis", "-f", "ogg"},
	},
	"opus": {
		Name: "opus", Ext: "opus",
		MimeTypes: []string{"audio/opus", "audio/x-opus"},
		args:      []string{"-c:a", "libopus", "-f", "opus"},
	},
	"aac": {
		Name: "aac", Ext: "aac",
		MimeTypes: []string{"audio/aac", "audio/x-aac", "audio/mp4"},
		args:      []string{"-c:a", "aac", "-f", "adts"},
	},
}

// DefaultPriority is the codec order used when nothing is configured.
var DefaultPriority = []string{"flac", "mp3", "wav", "ogg", "opus", "aac", "l16"}

// LookupCodec returns a codec by name.
func LookupCodec(name string) (Codec, bool) {
	c, ok := codecs[strings.ToLower(name)]
	return c, ok
}

// Selector picks a codec for a renderer from the enabled codecs in priority order.
type Selector struct {
	enabled []Codec
}

// NewSelector validates the configured priority list. Unknown names are an error.
func NewSelector(priority []string) (*Selector, error) {
	if len(priority) == 0 {
		priority = DefaultPriority
	}
	s := &Selector{}
	for _, name := range priority {
		c, ok := LookupCodec(name)
		if !ok {
			return nil, fmt.Errorf("unknown codec %q", name)
		}
		s.enabled = append(s.enabled, c)
	}
	return s, nil
}

// Enabled returns the enabled codecs in priority order.
func (s *Selector) Enabled() []Codec {
	return append([]Codec(nil), s.enabled...)
}

// Select picks the codec for d. A user codec override wins when it is enabled.
func (s *Selector) Select(d renderer.Descriptor) (Codec, error) {
	if d.Codec != "" {
		for _, c := range s.enabled {
			if c.Name == strings.ToLower(d.Codec) {
				return c, nil
			}
		}
		log.Warn().Str("renderer", d.ID).Str("codec", d.Codec).Msg("Codec override is not enabled, selecting automatically")
	}

	if d.Rules.Has(renderer.DisableMimetypeCheck) || len(d.MimeTypes) == 0 {
		if len(s.enabled) == 0 {
			return Codec{}, fmt.Errorf("no codecs enabled")
		}
		return s.enabled[0], nil
	}

	for _, c := range s.enabled {
		for _, mime := range d.MimeTypes {
			if c.Accepts(mime) {
				return c, nil
			}
		}
	}
	return Codec{}, fmt.Errorf("renderer %s supports none of the enabled codecs", d.ID)
}

// FormatSampleRate returns a human-readable sample rate string.
func FormatSampleRate(sampleRate int) string {
	if sampleRate >= 1000 {
		return strconv.FormatFloat(float64(sampleRate)/1000, 'f', -1, 64) + "kHz"
	}
	return strconv.Itoa(sampleRate) + "Hz"
}

// FormatBitDepth returns a human-readable bit depth string.
func FormatBitDepth(bitDepth int) string {
	return strconv.Itoa(bitDepth) + "-bit"
}
