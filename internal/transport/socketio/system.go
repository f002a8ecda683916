package socketio

import (
	"runtime"

	"github.com/edumarques81/castbridge/internal/version"
)

// SystemInfo is the payload of pushSystemInfo.
type SystemInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Host      string `json:"host"`
	Version   string `json:"version"`
	BuildDate string `json:"builddate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
	Bridges   int    `json:"bridges"`
	Clients   int    `json:"clients"`
}

func (s *Server) systemInfo() SystemInfo {
	id := s.identity.Info()
	v := version.GetInfo()

	s.mu.RLock()
	bridges := len(s.views)
	s.mu.RUnlock()

	return SystemInfo{
		ID:        id.UUID,
		Name:      id.Name,
		Host:      id.Hostname,
		Version:   v.Version,
		BuildDate: v.BuildTime,
		GoVersion: v.GoVersion,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Bridges:   bridges,
		Clients:   s.limiter.Len(),
	}
}
