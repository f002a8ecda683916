package renderer

import (
	"errors"
	"testing"
	"time"
)

func TestParseRule(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    Rule
		wantErr bool
	}{
		{name: "DISABLE_DEVICE_STOP", want: Rule{Kind: DisableDeviceStop}},
		{name: "disable_mimetype_check", want: Rule{Kind: DisableMimetypeCheck}},
		{name: " FAKE_HTTP_CONTENT_LENGTH ", want: Rule{Kind: FakeHTTPContentLength}},
		{name: "REQUEST_TIMEOUT", value: "2.5", want: Rule{Kind: RequestTimeout, Timeout: 2500 * time.Millisecond}},
		{name: "REQUEST_TIMEOUT", value: "0", wantErr: true},
		{name: "REQUEST_TIMEOUT", value: "soon", wantErr: true},
		{name: "REQUEST_TIMEOUT", value: "-3", wantErr: true},
		{name: "REQUEST_TIMEOUT", value: "NaN", wantErr: true},
		{name: "REQUEST_TIMEOUT", value: "Inf", wantErr: true},
		{name: "REQUEST_TIMEOUT", value: "-Inf", wantErr: true},
		{name: "REQUEST_TIMEOUT", value: "1e11", wantErr: true},
		{name: "REQUEST_TIMEOUT", value: "3601", wantErr: true},
		{name: "REQUEST_TIMEOUT", value: "1e-12", wantErr: true},
		{name: "REQUEST_TIMEOUT", value: "3600", want: Rule{Kind: RequestTimeout, Timeout: time.Hour}},
		{name: "DISABLE_EVERYTHING", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.value, func(t *testing.T) {
			got, err := ParseRule(tt.name, tt.value)
			if tt.wantErr {
				var cfgErr *ConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("expected ConfigError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseRule() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRuleSetHelpers(t *testing.T) {
	rs := RuleSet{{Kind: DisableDeviceStop}, {Kind: RequestTimeout, Timeout: 3 * time.Second}}

	if !rs.Has(DisableDeviceStop) {
		t.Error("expected DisableDeviceStop to be present")
	}
	if rs.Has(DisablePlayCommand) {
		t.Error("DisablePlayCommand should not be present")
	}
	if got := rs.Timeout(10 * time.Second); got != 3*time.Second {
		t.Errorf("Timeout() = %v, want 3s", got)
	}
	if got := (RuleSet{}).Timeout(10 * time.Second); got != 10*time.Second {
		t.Errorf("Timeout() fallback = %v, want 10s", got)
	}

	merged := rs.Merge(RuleSet{{Kind: RequestTimeout, Timeout: time.Second}})
	if len(merged) != 2 || merged.Timeout(0) != time.Second {
		t.Errorf("Merge() = %v, want timeout replaced", merged.Names())
	}
}

func TestCheckResult(t *testing.T) {
	if err := CheckResult("play", "uuid:1", StatusOK, nil); err != nil {
		t.Errorf("expected nil for 200, got %v", err)
	}

	err := CheckResult("stop", "uuid:1", 500, nil)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.Code != 500 || !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("unexpected command error: %v", err)
	}
}

func TestParseState(t *testing.T) {
	if s, ok := ParseState("PAUSED_PLAYBACK"); !ok || s != StatePaused {
		t.Errorf("PAUSED_PLAYBACK -> %v, %v", s, ok)
	}
	if _, ok := ParseState("TRANSITIONING"); ok {
		t.Error("TRANSITIONING should be unknown")
	}
}

func TestParseRules(t *testing.T) {
	rs, err := ParseRules([]string{"DISABLE_PLAY_COMMAND", "REQUEST_TIMEOUT=3", "REQUEST_TIMEOUT=5"})
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("expected 2 rules, got %v", rs.Names())
	}
	if !rs.Has(DisablePlayCommand) {
		t.Error("DISABLE_PLAY_COMMAND missing")
	}
	if got := rs.Timeout(time.Second); got != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", got)
	}

	if _, err := ParseRules([]string{"DISABLE_DEVICE_STOP", "BOGUS"}); err == nil {
		t.Error("expected error for unknown rule")
	}
}
