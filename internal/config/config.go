// Package config loads the bridge configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/edumarques81/castbridge/internal/audio"
	"github.com/edumarques81/castbridge/internal/domain/coordinator"
	"github.com/edumarques81/castbridge/internal/domain/cover"
	"github.com/edumarques81/castbridge/internal/domain/renderer"
)

const (
	// FileName is the config file name without extension.
	FileName  = "castbridge"
	envPrefix = "CASTBRIDGE"
)

// Config is the complete bridge configuration.
type Config struct {
	Debug     bool                    `mapstructure:"debug"`
	Log       LogConfig               `mapstructure:"log"`
	Server    ServerConfig            `mapstructure:"server"`
	Audio     AudioConfig             `mapstructure:"audio"`
	Bridge    BridgeConfig            `mapstructure:"bridge"`
	Cover     CoverConfig             `mapstructure:"cover"`
	Discovery DiscoveryConfig         `mapstructure:"discovery"`
	Notify    NotifyConfig            `mapstructure:"notify"`
	Data      DataConfig              `mapstructure:"data"`
	Devices   map[string]DeviceConfig `mapstructure:"devices"` // keyed by renderer id or name

	file string
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ServerConfig holds the HTTP listeners.
type ServerConfig struct {
	// Host is the address renderers use to reach this machine. Empty picks
	// the outbound interface address.
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`       // status UI, API, metrics
	StreamPort       int    `mapstructure:"streamport"` // audio streams and covers
	MaxRemoteClients int    `mapstructure:"maxremoteclients"`
}

type AudioConfig struct {
	Codecs  []string `mapstructure:"codecs"`
	Bitrate int      `mapstructure:"bitrate"`
	Ffmpeg  string   `mapstructure:"ffmpeg"`
	Pactl   string   `mapstructure:"pactl"`
}

type BridgeConfig struct {
	SwitchBack     bool          `mapstructure:"switchback"`
	AutoReconnect  bool          `mapstructure:"autoreconnect"`
	FallbackSink   string        `mapstructure:"fallbacksink"`
	Debounce       time.Duration `mapstructure:"debounce"`
	BlockWindow    time.Duration `mapstructure:"blockwindow"`
	CommandTimeout time.Duration `mapstructure:"commandtimeout"`
}

type CoverConfig struct {
	Mode string `mapstructure:"mode"`
}

type DiscoveryConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Wait     int           `mapstructure:"wait"` // SSDP and mDNS response window in seconds
	Cast     bool          `mapstructure:"cast"` // browse mDNS for Cast devices
}

type NotifyConfig struct {
	Desktop bool          `mapstructure:"desktop"`
	URLs    []string      `mapstructure:"urls"` // shoutrrr service URLs
	Timeout time.Duration `mapstructure:"timeout"`
}

type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// DeviceConfig is the static per-renderer configuration.
type DeviceConfig struct {
	Name  string   `mapstructure:"name"`
	Codec string   `mapstructure:"codec"`
	Rules []string `mapstructure:"rules"` // NAME or NAME=value
}

// ConfigError reports an invalid setting. Loading fails on the first one.
type ConfigError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8764)
	v.SetDefault("server.streamport", 8765)
	v.SetDefault("server.maxremoteclients", 4)

	v.SetDefault("audio.codecs", audio.DefaultPriority)
	v.SetDefault("audio.bitrate", 320)
	v.SetDefault("audio.ffmpeg", "ffmpeg")
	v.SetDefault("audio.pactl", "pactl")

	v.SetDefault("bridge.switchback", true)
	v.SetDefault("bridge.autoreconnect", false)
	v.SetDefault("bridge.fallbacksink", "")
	v.SetDefault("bridge.debounce", coordinator.DefaultDebounce)
	v.SetDefault("bridge.blockwindow", coordinator.DefaultBlockWindow)
	v.SetDefault("bridge.commandtimeout", coordinator.DefaultCommandTimeout)

	v.SetDefault("cover.mode", string(cover.ModeDefault))

	v.SetDefault("discovery.interval", 10*time.Second)
	v.SetDefault("discovery.wait", 2)
	v.SetDefault("discovery.cast", true)

	v.SetDefault("notify.desktop", true)
	v.SetDefault("notify.urls", []string{})
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("data.dir", "")
}

// DefaultConfigPaths returns the directories searched for castbridge.yaml.
func DefaultConfigPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "castbridge"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "castbridge"))
	}
	return append(paths, "/etc/castbridge")
}

// Load reads the config file (explicit path or the default locations), applies
// CASTBRIDGE_* environment overrides and validates the result. A missing file
// in the default locations is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.file = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// File returns the config file that was read, or "".
func (c *Config) File() string { return c.file }

// Validate checks every setting that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return &ConfigError{Key: "log.level", Reason: "unknown level", Err: err}
	}
	for key, port := range map[string]int{"server.port": c.Server.Port, "server.streamport": c.Server.StreamPort} {
		if port <= 0 || port > 65535 {
			return &ConfigError{Key: key, Reason: fmt.Sprintf("port %d out of range", port)}
		}
	}
	if c.Server.Port == c.Server.StreamPort {
		return &ConfigError{Key: "server.streamport", Reason: "must differ from server.port"}
	}
	if _, err := audio.NewSelector(c.Audio.Codecs); err != nil {
		return &ConfigError{Key: "audio.codecs", Reason: "invalid codec list", Err: err}
	}
	if err := c.CoordinatorConfig().Validate(); err != nil {
		return &ConfigError{Key: "bridge", Reason: "invalid recovery policy", Err: err}
	}
	if _, err := cover.ParseMode(c.Cover.Mode); err != nil {
		return &ConfigError{Key: "cover.mode", Reason: "invalid mode", Err: err}
	}
	for key, d := range c.Devices {
		if _, err := renderer.ParseRules(d.Rules); err != nil {
			return &ConfigError{Key: "devices." + key + ".rules", Reason: "invalid rule", Err: err}
		}
		if d.Codec != "" {
			if _, ok := audio.LookupCodec(d.Codec); !ok {
				return &ConfigError{Key: "devices." + key + ".codec", Reason: fmt.Sprintf("unknown codec %q", d.Codec)}
			}
		}
	}
	return nil
}

// Level returns the configured log level; debug wins.
func (c *Config) Level() zerolog.Level {
	if c.Debug {
		return zerolog.DebugLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// CoordinatorConfig returns the coordinator policy.
func (c *Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		Debounce:       c.Bridge.Debounce,
		BlockWindow:    c.Bridge.BlockWindow,
		CommandTimeout: c.Bridge.CommandTimeout,
		SwitchBack:     c.Bridge.SwitchBack,
		AutoReconnect:  c.Bridge.AutoReconnect,
		FallbackSink:   c.Bridge.FallbackSink,
	}
}

// Device returns the static settings for a renderer, matched by id first,
// then by friendly name. Keys are case-insensitive.
func (c *Config) Device(id, name string) (DeviceConfig, bool) {
	for _, want := range []string{id, name} {
		if want == "" {
			continue
		}
		for key, d := range c.Devices {
			if strings.EqualFold(key, want) {
				return d, true
			}
		}
	}
	return DeviceConfig{}, false
}

// DeviceRules returns the parsed rules for a renderer. Rules were validated at load.
func (c *Config) DeviceRules(id, name string) renderer.RuleSet {
	d, ok := c.Device(id, name)
	if !ok {
		return nil
	}
	rs, _ := renderer.ParseRules(d.Rules)
	return rs
}

// DataDir returns the directory for the database and identity file.
func (c *Config) DataDir() string {
	if c.Data.Dir != "" {
		return c.Data.Dir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "castbridge")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "castbridge")
	}
	return "data"
}
