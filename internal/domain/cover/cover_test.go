package cover

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumarques81/castbridge/internal/domain/source"
)

func testURL(icon string) string { return "http://10.0.0.2:8088/covers/" + icon + ".png" }

func TestMetadata(t *testing.T) {
	streams := []source.Stream{
		{ID: "1", ClientName: "Firefox"},
		{ID: "2", ClientName: "Spotify", ClientIcon: "spotify-client"},
	}

	tests := []struct {
		name  string
		mode  Mode
		thumb string
	}{
		{"disabled", ModeDisabled, ""},
		{"default", ModeDefault, testURL(DefaultIcon)},
		{"distribution", ModeDistribution, testURL("fedora-logo-icon")},
		{"application", ModeApplication, testURL("spotify-client")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(tt.mode, "desk", "fedora-logo-icon", testURL)
			md := p.Metadata(streams)

			assert.Equal(t, "Liveaudio on desk", md.Artist)
			assert.Equal(t, "Firefox, Spotify", md.Title)
			if tt.thumb == "" {
				assert.Nil(t, md.ThumbURL)
			} else {
				require.NotNil(t, md.ThumbURL)
				assert.Equal(t, tt.thumb, *md.ThumbURL)
			}
			assert.Equal(t, tt.thumb, md.Thumb())
		})
	}
}

func TestMetadataFallbacks(t *testing.T) {
	p := NewProvider(ModeApplication, "desk", "", testURL)
	md := p.Metadata([]source.Stream{{ID: "1"}})
	assert.Equal(t, "Audio", md.Title)
	assert.Equal(t, testURL(DefaultIcon), md.Thumb())

	p = NewProvider(ModeDistribution, "desk", "", testURL)
	assert.Equal(t, testURL(DefaultIcon), p.Metadata(nil).Thumb())
}

func TestMetadataIsPure(t *testing.T) {
	p := NewProvider(ModeApplication, "desk", "", testURL)
	streams := []source.Stream{{ID: "1", ClientName: "mpv", ClientIcon: "mpv"}}
	assert.Equal(t, p.Metadata(streams), p.Metadata(streams))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Application")
	require.NoError(t, err)
	assert.Equal(t, ModeApplication, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDefault, m)

	_, err = ParseMode("album")
	assert.Error(t, err)
}

func TestParseLogo(t *testing.T) {
	osRelease := `NAME="Fedora Linux"
VERSION_ID=40
LOGO=fedora-logo-icon
`
	assert.Equal(t, "fedora-logo-icon", parseLogo(strings.NewReader(osRelease)))
	assert.Equal(t, "", parseLogo(strings.NewReader("NAME=Debian\n")))
	assert.Equal(t, "", DistributionLogo("/nonexistent/os-release"))
}
