// Package dlna implements UPnP/DLNA media renderers and their discovery.
package dlna

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	MediaRendererType  = "urn:schemas-upnp-org:device:MediaRenderer:1"
	AVTransportType    = "urn:schemas-upnp-org:service:AVTransport:1"
	ConnectionMgrType  = "urn:schemas-upnp-org:service:ConnectionManager:1"
	maxDescriptionSize = 1 << 20
)

// ErrNotRenderer is returned when a description holds no usable MediaRenderer.
var ErrNotRenderer = errors.New("no media renderer with AVTransport in description")

type xmlRoot struct {
	XMLName xml.Name  `xml:"root"`
	URLBase string    `xml:"URLBase"`
	Device  xmlDevice `xml:"device"`
}

type xmlDevice struct {
	DeviceType   string       `xml:"deviceType"`
	FriendlyName string       `xml:"friendlyName"`
	Manufacturer string       `xml:"manufacturer"`
	ModelName    string       `xml:"modelName"`
	UDN          string       `xml:"UDN"`
	Services     []xmlService `xml:"serviceList>service"`
	Devices      []xmlDevice  `xml:"deviceList>device"`
}

type xmlService struct {
	ServiceType string `xml:"serviceType"`
	ControlURL  string `xml:"controlURL"`
}

// Description is the part of a device description the bridge needs.
type Description struct {
	UDN          string
	FriendlyName string
	Manufacturer string
	Model        string
	Location     string
	AVTransport  string // absolute control URL
	ConnectionMg string // absolute control URL, may be empty
}

// ParseDescription decodes a device description fetched from location.
func ParseDescription(r io.Reader, location string) (Description, error) {
	var root xmlRoot
	if err := xml.NewDecoder(io.LimitReader(r, maxDescriptionSize)).Decode(&root); err != nil {
		return Description{}, fmt.Errorf("decode description: %w", err)
	}

	base := location
	if root.URLBase != "" {
		base = root.URLBase
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return Description{}, fmt.Errorf("parse base url: %w", err)
	}

	dev, ok := findRenderer(root.Device)
	if !ok {
		return Description{}, ErrNotRenderer
	}

	d := Description{
		UDN:          strings.TrimSpace(dev.UDN),
		FriendlyName: strings.TrimSpace(dev.FriendlyName),
		Manufacturer: strings.TrimSpace(dev.Manufacturer),
		Model:        strings.TrimSpace(dev.ModelName),
		Location:     location,
	}
	for _, s := range dev.Services {
		control, err := baseURL.Parse(strings.TrimSpace(s.ControlURL))
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(s.ServiceType, "urn:schemas-upnp-org:service:AVTransport:"):
			d.AVTransport = control.String()
		case strings.HasPrefix(s.ServiceType, "urn:schemas-upnp-org:service:ConnectionManager:"):
			d.ConnectionMg = control.String()
		}
	}
	if d.AVTransport == "" || d.UDN == "" {
		return Description{}, ErrNotRenderer
	}
	if d.FriendlyName == "" {
		d.FriendlyName = d.UDN
	}
	return d, nil
}

func findRenderer(dev xmlDevice) (xmlDevice, bool) {
	if strings.HasPrefix(dev.DeviceType, "urn:schemas-upnp-org:device:MediaRenderer:") {
		return dev, true
	}
	for _, child := range dev.Devices {
		if found, ok := findRenderer(child); ok {
			return found, true
		}
	}
	return xmlDevice{}, false
}

// FetchDescription downloads and parses the description at location.
func FetchDescription(ctx context.Context, client *http.Client, location string) (Description, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return Description{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Description{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Description{}, fmt.Errorf("description %s: unexpected status %d", location, resp.StatusCode)
	}
	return ParseDescription(resp.Body, location)
}
