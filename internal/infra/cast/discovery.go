package cast

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/castbridge/internal/domain/coordinator"
)

const (
	// ServiceType is the mDNS service Cast devices announce.
	ServiceType = "_googlecast._tcp"

	// MissLimit is how many consecutive browse rounds a device may miss before it is removed.
	MissLimit = 3

	DefaultInterval = 10 * time.Second
	defaultWait     = 2 * time.Second

	idPrefix = "cast:"
)

// Poster receives device events.
type Poster interface {
	Post(ev coordinator.Event) bool
}

// Browser returns the mDNS entries of one browse round.
type Browser func(ctx context.Context) ([]*zeroconf.ServiceEntry, error)

// ZeroconfBrowser browses for Cast devices, collecting answers for wait.
func ZeroconfBrowser(wait time.Duration) Browser {
	if wait <= 0 {
		wait = defaultWait
	}
	return func(ctx context.Context) ([]*zeroconf.ServiceEntry, error) {
		resolver, err := zeroconf.NewResolver()
		if err != nil {
			return nil, fmt.Errorf("mdns resolver: %w", err)
		}

		bctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()

		entries := make(chan *zeroconf.ServiceEntry, 32)
		if err := resolver.Browse(bctx, ServiceType, "local.", entries); err != nil {
			return nil, fmt.Errorf("mdns browse: %w", err)
		}

		var out []*zeroconf.ServiceEntry
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return out, ctx.Err()
				}
				if entry != nil {
					out = append(out, entry)
				}
			case <-bctx.Done():
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return out, nil
			}
		}
	}
}

// Configurer applies user settings to a freshly discovered renderer.
type Configurer func(r *Renderer)

type tracked struct {
	renderer *Renderer
	missed   int
}

// Discovery turns mDNS browse rounds into device_added/device_removed events.
type Discovery struct {
	browse    Browser
	poster    Poster
	configure Configurer
	dial      Dialer
	interval  time.Duration

	mu    sync.RWMutex
	known map[string]*tracked
}

// DiscoveryOption configures Discovery.
type DiscoveryOption func(*Discovery)

// WithBrowser replaces the mDNS browse, used by tests.
func WithBrowser(b Browser) DiscoveryOption {
	return func(d *Discovery) {
		d.browse = b
	}
}

// WithInterval sets the time between browse rounds.
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

// WithDialer sets how renderers reach their device.
func WithDialer(dial Dialer) DiscoveryOption {
	return func(d *Discovery) {
		d.dial = dial
	}
}

// NewDiscovery creates a discovery loop posting to poster.
func NewDiscovery(poster Poster, opts ...DiscoveryOption) *Discovery {
	d := &Discovery{
		browse:   ZeroconfBrowser(defaultWait),
		poster:   poster,
		dial:     TLSDialer,
		interval: DefaultInterval,
		known:    make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run browses until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	log.Info().Dur("interval", d.interval).Msg("Cast discovery started")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Cast discovery stopping")
			return
		case <-ticker.C:
			d.Scan(ctx)
		}
	}
}

// Scan runs one browse round.
func (d *Discovery) Scan(ctx context.Context) {
	entries, err := d.browse(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("mDNS browse failed")
		return
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		dev, ok := parseEntry(entry)
		if !ok || seen[dev.id] {
			continue
		}
		seen[dev.id] = true
		if d.isKnown(dev.id) {
			continue
		}

		r := NewRenderer(dev.id, dev.name, dev.model, dev.addr, d.dial)
		if d.configure != nil {
			d.configure(r)
		}
		d.add(r)
	}

	d.sweep(seen)
}

func (d *Discovery) isKnown(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.known[id]
	return ok
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
		Str("addr", r.Addr()).
		Strs("rules", desc.Rules.Names()).
		Msg("Cast device discovered")
	d.poster.Post(coordinator.DeviceAdded(r))
}

func (d *Discovery) sweep(seen map[string]bool) {
	var gone []string

	d.mu.Lock()
	for id, t := range d.known {
		if seen[id] {
			t.missed = 0
			continue
		}
		t.missed++
		if t.missed >= MissLimit {
			delete(d.known, id)
			gone = append(gone, id)
		}
	}
	d.mu.Unlock()

	for _, id := range gone {
		log.Info().Str("renderer", id).Msg("Cast device no longer announced")
		d.poster.Post(coordinator.DeviceRemoved(id))
	}
}

// Renderers returns the currently known devices.
func (d *Discovery) Renderers() []*Renderer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Renderer, 0, len(d.known))
	for _, t := range d.known {
		out = append(out, t.renderer)
	}
	return out
}

// Forget drops a device so the next round rebuilds it with fresh settings.
func (d *Discovery) Forget(id string) {
	d.mu.Lock()
	_, ok := d.known[id]
	delete(d.known, id)
	d.mu.Unlock()

	if ok {
		d.poster.Post(coordinator.DeviceRemoved(id))
	}
}

type device struct {
	id    string
	name  string
	model string
	addr  string
}

// parseEntry reads the TXT record (id, fn, md) and address of an announcement.
func parseEntry(entry *zeroconf.ServiceEntry) (device, bool) {
	if entry == nil {
		return device{}, false
	}
	txt := make(map[string]string, len(entry.Text))
	for _, kv := range entry.Text {
		k, v, _ := strings.Cut(kv, "=")
		txt[strings.ToLower(k)] = v
	}

	id := strings.ToLower(strings.ReplaceAll(txt["id"], "-", ""))
	if id == "" {
		return device{}, false
	}

	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return device{}, false
	}
	if entry.Port <= 0 {
		return device{}, false
	}

	name := txt["fn"]
	if name == "" {
		name = entry.Instance
	}
	return device{
		id:    idPrefix + id,
		name:  name,
		model: txt["md"],
		addr:  net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)),
	}, true
}
