package version_test

import (
	"strings"
	"testing"

	"github.com/edumarques81/castbridge/internal/version"
)

func TestVersionInfo(t *testing.T) {
	t.Run("Version should not be empty", func(t *testing.T) {
		if version.Version == "" {
			t.Error("Version should not be empty")
		}
	})

	t.Run("Name should be CastBridge", func(t *testing.T) {
		if version.Name != "CastBridge" {
			t.Errorf("Expected name 'CastBridge', got '%s'", version.Name)
		}
	})
}

func TestGetInfo(t *testing.T) {
	info := version.GetInfo()

	if info.Name != version.Name {
		t.Errorf("Expected name '%s', got '%s'", version.Name, info.Name)
	}
	if info.Version != version.Version {
		t.Errorf("Expected version '%s', got '%s'", version.Version, info.Version)
	}
	if info.GoVersion == "" {
		t.Error("GoVersion should be set")
	}
}

func TestString(t *testing.T) {
	info := version.Info{Name: "CastBridge", Version: "1.2.3", GitCommit: "abcdef1234567"}
	if got, want := info.String(), "CastBridge v1.2.3 (abcdef1)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	info.BuildTime = "2026-01-02"
	if !strings.HasSuffix(info.String(), " built 2026-01-02") {
		t.Errorf("String() = %q", info.String())
	}
}

func TestUserAgent(t *testing.T) {
	ua := version.UserAgent()
	if !strings.Contains(ua, "UPnP/1.0") || !strings.Contains(ua, version.Name+"/"+version.Version) {
		t.Errorf("UserAgent() = %q", ua)
	}
}
