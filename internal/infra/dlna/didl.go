package dlna

import (
	"fmt"
	"strings"

	"github.com/edumarques81/castbridge/internal/domain/renderer"
)

const dlnaFlags = "DLNA.ORG_OP=00;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01700000000000000000000000000000"

// protocolInfo is the res@protocolInfo value for a live stream.
func protocolInfo(mimeType string) string {
	return fmt.Sprintf("http-get:*:%s:%s", mimeType, dlnaFlags)
}

// didl builds the DIDL-Lite metadata sent with SetAVTransportURI.
func didl(req renderer.PlayRequest) string {
	var b strings.Builder
	b.WriteString(`<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"`)
	b.WriteString(` xmlns:dc="http://purl.org/dc/elements/1.1/"`)
	b.WriteString(` xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/"`)
	b.WriteString(` xmlns:dlna="urn:schemas-dlna-org:metadata-1-0/">`)
	b.WriteString(`<item id="0" parentID="-1" restricted="1">`)
	fmt.Fprintf(&b, "<dc:title>%s</dc:title>", escape(req.Title))
	if req.Artist != "" {
		fmt.Fprintf(&b, "<upnp:artist>%s</upnp:artist>", escape(req.Artist))
		fmt.Fprintf(&b, "<dc:creator>%s</dc:creator>", escape(req.Artist))
	}
	if req.ThumbURL != "" {
		fmt.Fprintf(&b, "<upnp:albumArtURI>%s</upnp:albumArtURI>", escape(req.ThumbURL))
	}
	b.WriteString("<upnp:class>object.item.audioItem.musicTrack</upnp:class>")
	fmt.Fprintf(&b, `<res protocolInfo="%s">%s</res>`, escape(protocolInfo(req.MimeType)), escape(req.URL))
	b.WriteString("</item></DIDL-Lite>")
	return b.String()
}

// parseSinkProtocolInfo extracts MIME types from a GetProtocolInfo Sink value.
func parseSinkProtocolInfo(sink string) []string {
	seen := make(map[string]bool)
	var mimes []string
	for _, entry := range strings.Split(sink, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 3 || parts[0] != "http-get" {
			continue
		}
		mime := strings.ToLower(strings.TrimSpace(parts[2]))
		if mime == "" || mime == "*" || seen[mime] {
			continue
		}
		seen[mime] = true
		mimes = append(mimes, mime)
	}
	return mimes
}
