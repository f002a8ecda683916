// Package cover builds the artist, title and thumbnail shown on a renderer
// while a bridge is playing.
package cover

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/edumarques81/castbridge/internal/domain/source"
)

// Mode selects where the thumbnail comes from.
type Mode string

const (
	ModeDisabled     Mode = "disabled"
	ModeDefault      Mode = "default"
	ModeDistribution Mode = "distribution"
	ModeApplication  Mode = "application"
)

// DefaultIcon is the application icon served in default mode.
const DefaultIcon = "castbridge"

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDisabled, ModeDefault, ModeDistribution, ModeApplication:
		return m, nil
	case "":
		return ModeDefault, nil
	}
	return "", fmt.Errorf("unknown cover mode %q", s)
}

// Metadata is what a renderer displays for a bridge.
type Metadata struct {
	Artist   string
	Title    string
	ThumbURL *string
}

// Thumb returns the thumbnail URL or "".
func (m Metadata) Thumb() string {
	if m.ThumbURL == nil {
		return ""
	}
	return *m.ThumbURL
}

// URLFunc maps an icon name to a URL served by the streaming server.
type URLFunc func(icon string) string

// Provider computes metadata. It holds no mutable state.
type Provider struct {
	mode       Mode
	hostname   string
	distroLogo string
	coverURL   URLFunc
}

// NewProvider creates a provider. distroLogo is only used in distribution mode.
func NewProvider(mode Mode, hostname, distroLogo string, coverURL URLFunc) *Provider {
	return &Provider{
		mode:       mode,
		hostname:   hostname,
		distroLogo: distroLogo,
		coverURL:   coverURL,
	}
}

// Mode returns the configured mode.
func (p *Provider) Mode() Mode { return p.mode }

// Metadata returns the metadata for the streams attached to a bridge's sink.
func (p *Provider) Metadata(streams []source.Stream) Metadata {
	md := Metadata{
		Artist: "Liveaudio on " + p.hostname,
		Title:  title(streams),
	}
	if icon := p.icon(streams); icon != "" && p.coverURL != nil {
		u := p.coverURL(icon)
		md.ThumbURL = &u
	}
	return md
}

func (p *Provider) icon(streams []source.Stream) string {
	switch p.mode {
	case ModeDefault:
		return DefaultIcon
	case ModeDistribution:
		if p.distroLogo != "" {
			return p.distroLogo
		}
		return DefaultIcon
	case ModeApplication:
		for _, s := range streams {
			if s.ClientIcon != "" {
				return s.ClientIcon
			}
		}
		return DefaultIcon
	}
	return ""
}

func title(streams []source.Stream) string {
	names := make([]string, 0, len(streams))
	for _, s := range streams {
		if s.ClientName != "" {
			names = append(names, s.ClientName)
		}
	}
	if len(names) == 0 {
		return "Audio"
	}
	return strings.Join(names, ", ")
}

// DistributionLogo reads the LOGO key of os-release. Missing file or key yields "".
func DistributionLogo(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	return parseLogo(f)
}

func parseLogo(r io.Reader) string {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if ok && key == "LOGO" {
			return strings.Trim(value, `"'`)
		}
	}
	return ""
}
