package main

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/castbridge/internal/config"
	"github.com/edumarques81/castbridge/internal/domain/coordinator"
	"github.com/edumarques81/castbridge/internal/domain/renderer"
	"github.com/edumarques81/castbridge/internal/infra/cast"
	"github.com/edumarques81/castbridge/internal/infra/dlna"
	"github.com/edumarques81/castbridge/internal/infra/store"
	"github.com/edumarques81/castbridge/internal/transport/socketio"
)

// relay forwards events to the coordinator once it exists.
type relay struct {
	target atomic.Pointer[coordinator.Coordinator]
}

func (r *relay) attach(c *coordinator.Coordinator) { r.target.Store(c) }

func (r *relay) Post(ev coordinator.Event) bool {
	c := r.target.Load()
	if c == nil {
		return false
	}
	return c.Post(ev)
}

type overrideGetter interface {
	Get(rendererID string) (store.Override, bool, error)
}

// configurable is a discovered renderer that accepts user settings.
type configurable interface {
	Descriptor() renderer.Descriptor
	Configure(name, codec string, rules renderer.RuleSet)
}

// applySettings applies the static config and then the stored overrides.
func applySettings(cfg *config.Config, overrides overrideGetter, r configurable) {
	d := r.Descriptor()
	name, codec, rules := resolveSettings(cfg, overrides, d.ID, d.Name)
	r.Configure(name, codec, rules)
}

// deviceConfigurer configures each renderer SSDP discovery resolves.
func deviceConfigurer(cfg *config.Config, overrides overrideGetter) dlna.Configurer {
	return func(r *dlna.Renderer) { applySettings(cfg, overrides, r) }
}

// castConfigurer configures each Cast device mDNS discovery finds.
func castConfigurer(cfg *config.Config, overrides overrideGetter) cast.Configurer {
	return func(r *cast.Renderer) { applySettings(cfg, overrides, r) }
}

// forgetters fans a Forget out to every discovery; each ignores unknown ids.
type forgetters []socketio.Forgetter

func (f forgetters) Forget(id string) {
	for _, fg := range f {
		fg.Forget(id)
	}
}

func resolveSettings(cfg *config.Config, overrides overrideGetter, id, name string) (string, string, renderer.RuleSet) {
	dc, _ := cfg.Device(id, name)
	rules := cfg.DeviceRules(id, name)
	displayName, codec := dc.Name, dc.Codec

	o, ok, err := overrides.Get(id)
	if err != nil {
		log.Warn().Err(err).Str("renderer", id).Msg("Failed to read device override")
		return displayName, codec, rules
	}
	if !ok {
		return displayName, codec, rules
	}
	if o.Name != "" {
		displayName = o.Name
	}
	if o.Codec != "" {
		codec = o.Codec
	}
	stored, err := renderer.ParseRules(o.Rules)
	if err != nil {
		log.Warn().Err(err).Str("renderer", id).Msg("Ignoring invalid stored rules")
		return displayName, codec, rules
	}
	return displayName, codec, rules.Merge(stored)
}
