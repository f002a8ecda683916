package main

import (
	"errors"
	"testing"
	"time"

	"github.com/edumarques81/castbridge/internal/config"
	"github.com/edumarques81/castbridge/internal/domain/coordinator"
	"github.com/edumarques81/castbridge/internal/domain/renderer"
	"github.com/edumarques81/castbridge/internal/infra/cast"
	"github.com/edumarques81/castbridge/internal/infra/store"
)

type overrides map[string]store.Override

func (o overrides) Get(id string) (store.Override, bool, error) {
	v, ok := o[id]
	return v, ok, nil
}

type brokenOverrides struct{}

func (brokenOverrides) Get(string) (store.Override, bool, error) {
	return store.Override{}, false, errors.New("disk I/O error")
}

func testConfig() *config.Config {
	return &config.Config{
		Devices: map[string]config.DeviceConfig{
			"uuid:tv": {Name: "TV", Codec: "flac", Rules: []string{"DISABLE_DEVICE_STOP", "REQUEST_TIMEOUT=2"}},
		},
	}
}

func TestResolveSettingsConfigOnly(t *testing.T) {
	name, codec, rules := resolveSettings(testConfig(), overrides{}, "uuid:tv", "Samsung")

	if name != "TV" || codec != "flac" {
		t.Errorf("got name=%q codec=%q", name, codec)
	}
	if !rules.Has(renderer.DisableDeviceStop) || rules.Timeout(time.Second) != 2*time.Second {
		t.Errorf("unexpected rules %v", rules.Names())
	}
}

func TestResolveSettingsOverrideWins(t *testing.T) {
	o := overrides{"uuid:tv": {RendererID: "uuid:tv", Name: "Lounge", Codec: "mp3", Rules: []string{"REQUEST_TIMEOUT=6"}}}

	name, codec, rules := resolveSettings(testConfig(), o, "uuid:tv", "Samsung")

	if name != "Lounge" || codec != "mp3" {
		t.Errorf("got name=%q codec=%q", name, codec)
	}
	if !rules.Has(renderer.DisableDeviceStop) {
		t.Error("config rules should be kept")
	}
	if got := rules.Timeout(time.Second); got != 6*time.Second {
		t.Errorf("stored timeout should replace configured one, got %v", got)
	}
}

func TestResolveSettingsStoreError(t *testing.T) {
	name, _, rules := resolveSettings(testConfig(), brokenOverrides{}, "uuid:tv", "Samsung")
	if name != "TV" || !rules.Has(renderer.DisableDeviceStop) {
		t.Errorf("config settings expected on store error, got %q %v", name, rules.Names())
	}
}

func TestRelayBeforeAttach(t *testing.T) {
	r := &relay{}
	if r.Post(coordinator.Reevaluate("")) {
		t.Error("Post should fail before a coordinator is attached")
	}
}

func TestCastConfigurerAppliesSettings(t *testing.T) {
	cfg := &config.Config{
		Devices: map[string]config.DeviceConfig{
			"kitchen speaker": {Codec: "mp3", Rules: []string{"REQUEST_TIMEOUT=4"}},
		},
	}
	r := cast.NewRenderer("cast:beef", "Kitchen speaker", "Google Home", "192.0.2.10:8009", nil)

	castConfigurer(cfg, overrides{"cast:beef": {RendererID: "cast:beef", Name: "Kitchen"}})(r)

	d := r.Descriptor()
	if d.Name != "Kitchen" || d.Codec != "mp3" {
		t.Errorf("got name=%q codec=%q", d.Name, d.Codec)
	}
	if got := d.Rules.Timeout(time.Second); got != 4*time.Second {
		t.Errorf("timeout = %v, want 4s", got)
	}
}

type recordingForgetter struct{ ids []string }

func (f *recordingForgetter) Forget(id string) { f.ids = append(f.ids, id) }

func TestForgettersFanOut(t *testing.T) {
	a, b := &recordingForgetter{}, &recordingForgetter{}
	forgetters{a, b}.Forget("cast:beef")

	if len(a.ids) != 1 || len(b.ids) != 1 || b.ids[0] != "cast:beef" {
		t.Errorf("got %v and %v", a.ids, b.ids)
	}
}
