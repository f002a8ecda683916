package dlna

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/koron/go-ssdp"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/castbridge/internal/domain/coordinator"
)

const (
	// MissLimit is how many consecutive searches a device may miss before it is removed.
	MissLimit = 3

	DefaultInterval = 10 * time.Second
	defaultWait     = 2 * time.Second
)

// Poster receives device events.
type Poster interface {
	Post(ev coordinator.Event) bool
}

// Searcher returns the SSDP responses of one search round.
type Searcher func(ctx context.Context) ([]ssdp.Service, error)

// SSDPSearcher searches for MediaRenderers, waiting wait for responses.
// A cancelled ctx returns at once; the search itself ends after wait.
func SSDPSearcher(wait time.Duration) Searcher {
	return searchWith(wait, ssdp.Search)
}

type ssdpSearch func(searchType string, waitSec int, localAddr string) ([]ssdp.Service, error)

func searchWith(wait time.Duration, search ssdpSearch) Searcher {
	secs := int(wait / time.Second)
	if secs < 1 {
		secs = 1
	}
	type result struct {
		services []ssdp.Service
		err      error
	}

	return func(ctx context.Context) ([]ssdp.Service, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done := make(chan result, 1)
		go func() {
			services, err := search(MediaRendererType, secs, "")
			done <- result{services, err}
		}()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-done:
			return r.services, r.err
		}
	}
}

// Configurer applies user settings to a freshly discovered renderer.
type Configurer func(r *Renderer)

type tracked struct {
	renderer *Renderer
	missed   int
}

// Discovery turns SSDP search rounds into device_added/device_removed events.
type Discovery struct {
	search     Searcher
	poster     Poster
	configure  Configurer
	httpClient *http.Client
	interval   time.Duration

	mu    sync.RWMutex
	known map[string]*tracked
}

// DiscoveryOption configures Discovery.
type DiscoveryOption func(*Discovery)

// WithSearcher replaces the SSDP search, used by tests.
func WithSearcher(s Searcher) DiscoveryOption {
	return func(d *Discovery) {
		d.search = s
	}
}

// WithInterval sets the time between search rounds.
func WithInterval(interval time.Duration) DiscoveryOption {
	return func(d *Discovery) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithConfigurer sets the hook applying names, codecs and rules.
func WithConfigurer(c Configurer) DiscoveryOption {
	return func(d *Discovery) {
		d.configure = c
	}
}

// WithHTTPClient sets the client used for descriptions and SOAP.
func WithHTTPClient(c *http.Client) DiscoveryOption {
	return func(d *Discovery) {
		d.httpClient = c
	}
}

// NewDiscovery creates a discovery loop posting to poster.
func NewDiscovery(poster Poster, opts ...DiscoveryOption) *Discovery {
	d := &Discovery{
		search:     SSDPSearcher(defaultWait),
		poster:     poster,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		interval:   DefaultInterval,
		known:      make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run searches until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	log.Info().Dur("interval", d.interval).Msg("DLNA discovery started")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("DLNA discovery stopping")
			return
		case <-ticker.C:
			d.Scan(ctx)
		}
	}
}

// Scan runs one search round.
func (d *Discovery) Scan(ctx context.Context) {
	services, err := d.search(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		// a failed search says nothing about the devices
		log.Warn().Err(err).Msg("SSDP search failed")
		return
	}

	seen := make(map[string]bool)
	for _, svc := range services {
		udn := udnFromUSN(svc.USN)
		if udn == "" || seen[udn] {
			continue
		}
		if d.isKnown(udn) {
			seen[udn] = true
			continue
		}
		r, err := d.resolve(ctx, svc.Location)
		if err != nil {
			log.Debug().Err(err).Str("location", svc.Location).Msg("Ignoring SSDP response")
			continue
		}
		seen[r.Descriptor().ID] = true
		d.add(r)
	}

	d.sweep(seen)
}

func (d *Discovery) isKnown(udn string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.known[udn]
	return ok
}

func (d *Discovery) resolve(ctx context.Context, location string) (*Renderer, error) {
	desc, err := FetchDescription(ctx, d.httpClient, location)
	if err != nil {
		return nil, err
	}
	r := NewRenderer(desc, d.httpClient)
	if d.configure != nil {
		d.configure(r)
	}

	mimes, err := r.ProtocolInfo(ctx)
	if err != nil {
		log.Warn().Err(err).Str("renderer", desc.UDN).Msg("GetProtocolInfo failed, assuming any codec")
	}
	r.SetMimeTypes(mimes)
	return r, nil
}

func (d *Discovery) add(r *Renderer) {
	desc := r.Descriptor()

	d.mu.Lock()
	if _, ok := d.known[desc.ID]; ok {
		d.mu.Unlock()
		return
	}
	d.known[desc.ID] = &tracked{renderer: r}
	d.mu.Unlock()

	log.Info().
		Str("renderer", desc.ID).
		Str("name", desc.Name).
		Str("model", desc.Model).
		Strs("mimeTypes", desc.MimeTypes).
		Strs("rules", desc.Rules.Names()).
		Msg("Renderer discovered")
	d.poster.Post(coordinator.DeviceAdded(r))
}

func (d *Discovery) sweep(seen map[string]bool) {
	var gone []string

	d.mu.Lock()
	for udn, t := range d.known {
		if seen[udn] {
			t.missed = 0
			continue
		}
		t.missed++
		if t.missed >= MissLimit {
			delete(d.known, udn)
			gone = append(gone, udn)
		}
	}
	d.mu.Unlock()

	for _, udn := range gone {
		log.Info().Str("renderer", udn).Msg("Renderer no longer answers discovery")
		d.poster.Post(coordinator.DeviceRemoved(udn))
	}
}

// Renderers returns the currently known renderers.
func (d *Discovery) Renderers() []*Renderer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Renderer, 0, len(d.known))
	for _, t := range d.known {
		out = append(out, t.renderer)
	}
	return out
}

// Forget drops a device so the next search re-resolves it with fresh settings.
func (d *Discovery) Forget(udn string) {
	d.mu.Lock()
	_, ok := d.known[udn]
	delete(d.known, udn)
	d.mu.Unlock()

	if ok {
		d.poster.Post(coordinator.DeviceRemoved(udn))
	}
}

// udnFromUSN extracts "uuid:..." from a USN such as
// "uuid:abc::urn:schemas-upnp-org:device:MediaRenderer:1".
func udnFromUSN(usn string) string {
	udn, _, _ := strings.Cut(usn, "::")
	if !strings.HasPrefix(udn, "uuid:") {
		return ""
	}
	return udn
}
