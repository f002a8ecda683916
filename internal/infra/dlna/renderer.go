package dlna

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/castbridge/internal/domain/renderer"
	"github.com/edumarques81/castbridge/internal/version"
)

// DefaultTimeout bounds a single SOAP action unless REQUEST_TIMEOUT says otherwise.
const DefaultTimeout = 10 * time.Second

// Renderer drives a UPnP MediaRenderer through its AVTransport service.
type Renderer struct {
	desc       renderer.Descriptor
	avt        string
	cm         string
	httpClient *http.Client
	userAgent  string
}

// NewRenderer creates a renderer from its parsed description.
func NewRenderer(d Description, httpClient *http.Client) *Renderer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Renderer{
		desc: renderer.Descriptor{
			ID:           d.UDN,
			Name:         d.FriendlyName,
			Family:       renderer.FamilyDLNA,
			Manufacturer: d.Manufacturer,
			Model:        d.Model,
			Location:     d.Location,
		},
		avt:        d.AVTransport,
		cm:         d.ConnectionMg,
		httpClient: httpClient,
		userAgent:  version.UserAgent(),
	}
}

func (r *Renderer) Descriptor() renderer.Descriptor { return r.desc }

// SetMimeTypes records the advertised sink MIME types.
func (r *Renderer) SetMimeTypes(mimes []string) { r.desc.MimeTypes = mimes }

// Configure applies the user's display name, codec override and rules.
func (r *Renderer) Configure(name, codec string, rules renderer.RuleSet) {
	if name != "" {
		r.desc.Name = name
	}
	r.desc.Codec = codec
	r.desc.Rules = rules
}

func (r *Renderer) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.desc.Rules.Timeout(DefaultTimeout))
}

// Play points the renderer at req.URL and starts playback.
func (r *Renderer) Play(ctx context.Context, req renderer.PlayRequest) (int, error) {
	ctx, cancel := r.timeout(ctx)
	defer cancel()

	code, _, err := r.call(ctx, r.avt, AVTransportType, "SetAVTransportURI", []soapArg{
		{"InstanceID", "0"},
		{"CurrentURI", req.URL},
		{"CurrentURIMetaData", didl(req)},
	})
	if err != nil || code != renderer.StatusOK {
		return code, err
	}
	if r.desc.Rules.Has(renderer.DisablePlayCommand) {
		return code, nil
	}

	code, _, err = r.call(ctx, r.avt, AVTransportType, "Play", []soapArg{
		{"InstanceID", "0"},
		{"Speed", "1"},
	})
	log.Debug().Str("renderer", r.desc.ID).Int("code", code).Msg("DLNA play")
	return code, err
}

// Stop stops playback.
func (r *Renderer) Stop(ctx context.Context) (int, error) {
	ctx, cancel := r.timeout(ctx)
	defer cancel()

	code, _, err := r.call(ctx, r.avt, AVTransportType, "Stop", []soapArg{
		{"InstanceID", "0"},
	})
	log.Debug().Str("renderer", r.desc.ID).Int("code", code).Msg("DLNA stop")
	return code, err
}

// TransportState queries GetTransportInfo.
func (r *Renderer) TransportState(ctx context.Context) (renderer.State, bool) {
	ctx, cancel := r.timeout(ctx)
	defer cancel()

	code, body, err := r.call(ctx, r.avt, AVTransportType, "GetTransportInfo", []soapArg{
		{"InstanceID", "0"},
	})
	if err != nil || code != renderer.StatusOK {
		return renderer.StateStopped, false
	}
	value, ok := responseValue(body, "CurrentTransportState")
	if !ok {
		return renderer.StateStopped, false
	}
	return renderer.ParseState(value)
}

// ProtocolInfo returns the MIME types the renderer accepts. Renderers
// without a ConnectionManager report none.
func (r *Renderer) ProtocolInfo(ctx context.Context) ([]string, error) {
	if r.cm == "" {
		return nil, nil
	}
	ctx, cancel := r.timeout(ctx)
	defer cancel()

	code, body, err := r.call(ctx, r.cm, ConnectionMgrType, "GetProtocolInfo", nil)
	if err != nil {
		return nil, err
	}
	if code != renderer.StatusOK {
		return nil, renderer.CheckResult("GetProtocolInfo", r.desc.ID, code, nil)
	}
	sink, _ := responseValue(body, "Sink")
	return parseSinkProtocolInfo(sink), nil
}
