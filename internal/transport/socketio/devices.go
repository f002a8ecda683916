package socketio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"

	"github.com/edumarques81/castbridge/internal/audio"
	"github.com/edumarques81/castbridge/internal/domain/renderer"
	"github.com/edumarques81/castbridge/internal/infra/store"
)

var (
	errMissingID  = errors.New("renderer id is required")
	errNotRunning = errors.New("bridge is shutting down")
	errNoStore    = errors.New("device configuration is not available")
)

// registerDeviceHandlers registers per-renderer configuration events.
func (s *Server) registerDeviceHandlers(client *socket.Socket, clientID string) {
	client.On("getDeviceConfig", func(args ...any) {
		id := stringField(payload(args), "id")
		log.Debug().Str("id", clientID).Str("renderer", id).Msg("getDeviceConfig")

		if id == "" {
			list, err := s.deviceConfigs()
			if err != nil {
				toast(client, "error", err.Error())
				return
			}
			client.Emit("pushDeviceConfigs", list)
			return
		}
		o, err := s.deviceConfig(id)
		if err != nil {
			toast(client, "error", err.Error())
			return
		}
		client.Emit("pushDeviceConfig", o)
	})

	client.On("saveDeviceConfig", func(args ...any) {
		m := payload(args)
		o := store.Override{
			RendererID: stringField(m, "id"),
			Name:       stringField(m, "name"),
			Codec:      stringField(m, "codec"),
			Rules:      stringsField(m, "rules"),
		}
		log.Debug().Str("id", clientID).Str("renderer", o.RendererID).Msg("saveDeviceConfig")

		if err := s.saveDeviceConfig(o); err != nil {
			toast(client, "error", err.Error())
			return
		}
		toast(client, "success", "Settings saved for "+o.RendererID)
	})

	client.On("deleteDeviceConfig", func(args ...any) {
		id := stringField(payload(args), "id")
		log.Debug().Str("id", clientID).Str("renderer", id).Msg("deleteDeviceConfig")

		if err := s.deleteDeviceConfig(id); err != nil {
			toast(client, "error", err.Error())
			return
		}
		toast(client, "success", "Settings reset for "+id)
	})
}

func (s *Server) deviceConfigs() ([]store.Override, error) {
	if s.overrides == nil {
		return nil, errNoStore
	}
	return s.overrides.List()
}

func (s *Server) deviceConfig(id string) (store.Override, error) {
	if s.overrides == nil {
		return store.Override{}, errNoStore
	}
	o, ok, err := s.overrides.Get(id)
	if err != nil {
		return store.Override{}, err
	}
	if !ok {
		return store.Override{RendererID: id}, nil
	}
	return o, nil
}

// saveDeviceConfig validates and stores an override, then makes discovery
// resolve the renderer again so the new settings take effect.
func (s *Server) saveDeviceConfig(o store.Override) error {
	if s.overrides == nil {
		return errNoStore
	}
	if o.RendererID == "" {
		return errMissingID
	}
	o.Name = strings.TrimSpace(o.Name)
	o.Codec = strings.ToLower(strings.TrimSpace(o.Codec))
	if o.Codec != "" {
		if _, ok := audio.LookupCodec(o.Codec); !ok {
			return fmt.Errorf("unknown codec %q", o.Codec)
		}
	}
	if _, err := renderer.ParseRules(o.Rules); err != nil {
		return err
	}

	if err := s.overrides.Save(o); err != nil {
		return fmt.Errorf("failed to save device config: %w", err)
	}
	log.Info().Str("renderer", o.RendererID).Str("codec", o.Codec).Strs("rules", o.Rules).Msg("Device config saved")

	if s.forgetter != nil {
		s.forgetter.Forget(o.RendererID)
	}
	return nil
}

func (s *Server) deleteDeviceConfig(id string) error {
	if s.overrides == nil {
		return errNoStore
	}
	if id == "" {
		return errMissingID
	}
	if err := s.overrides.Delete(id); err != nil {
		return fmt.Errorf("failed to delete device config: %w", err)
	}
	if s.forgetter != nil {
		s.forgetter.Forget(id)
	}
	return nil
}
