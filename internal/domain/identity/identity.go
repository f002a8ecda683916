// Package identity keeps the persistent id and display name of this bridge instance.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Info is the identity shown to clients and renderers.
type Info struct {
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
}

type persisted struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// Service loads and stores the instance identity.
type Service struct {
	mu   sync.RWMutex
	path string
	info Info
}

// NewService loads the identity at path, creating a new one when none exists.
func NewService(path string) (*Service, error) {
	host := hostname()
	s := &Service{
		path: path,
		info: Info{Hostname: host},
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}

	if err := s.load(); err != nil {
		log.Debug().Err(err).Msg("No existing identity, generating a new one")
		s.info.UUID = uuid.New().String()
		s.info.Name = defaultName(host)
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("failed to save identity: %w", err)
		}
	}

	log.Info().
		Str("uuid", s.info.UUID).
		Str("name", s.info.Name).
		Msg("Bridge identity initialized")
	return s, nil
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("invalid identity format: %w", err)
	}
	if _, err := uuid.Parse(p.UUID); err != nil {
		return fmt.Errorf("identity has no valid uuid: %w", err)
	}
	s.info.UUID = p.UUID
	s.info.Name = p.Name
	if s.info.Name == "" {
		s.info.Name = defaultName(s.info.Hostname)
	}
	return nil
}

func (s *Service) save() error {
	data, err := json.MarshalIndent(persisted{UUID: s.info.UUID, Name: s.info.Name}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// Info returns the current identity.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// SetName renames the instance and persists it.
func (s *Service) SetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Name = name
	return s.save()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}

func defaultName(host string) string {
	return "CastBridge on " + host
}
