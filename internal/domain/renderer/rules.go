package renderer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxRequestTimeout is the largest REQUEST_TIMEOUT accepted.
const MaxRequestTimeout = time.Hour

// RuleKind enumerates the per-device behaviour switches.
type RuleKind int

const (
	// DisableDeviceStop keeps the renderer playing when its sink goes silent.
	DisableDeviceStop RuleKind = iota + 1
	// DisableMimetypeCheck skips matching codecs against the advertised MIME types.
	DisableMimetypeCheck
	// DisablePlayCommand only sets the transport URI; the device starts on its own.
	DisablePlayCommand
	// FakeHTTPContentLength sends a huge Content-Length for devices that refuse chunked streams.
	FakeHTTPContentLength
	// RequestTimeout bounds every remote command.
	RequestTimeout
)

var ruleNames = map[RuleKind]string{
	DisableDeviceStop:     "DISABLE_DEVICE_STOP",
	DisableMimetypeCheck:  "DISABLE_MIMETYPE_CHECK",
	DisablePlayCommand:    "DISABLE_PLAY_COMMAND",
	FakeHTTPContentLength: "FAKE_HTTP_CONTENT_LENGTH",
	RequestTimeout:        "REQUEST_TIMEOUT",
}

func (k RuleKind) String() string {
	if n, ok := ruleNames[k]; ok {
		return n
	}
	return "UNKNOWN_RULE(" + strconv.Itoa(int(k)) + ")"
}

// Rule is a single rule. Timeout is only meaningful for RequestTimeout.
type Rule struct {
	Kind    RuleKind
	Timeout time.Duration
}

func (r Rule) String() string {
	if r.Kind == RequestTimeout {
		return fmt.Sprintf("%s(%gs)", r.Kind, r.Timeout.Seconds())
	}
	return r.Kind.String()
}

// ConfigError reports an invalid rule definition. It is fatal at load time.
type ConfigError struct {
	Rule   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid rule %q: %s", e.Rule, e.Reason)
}

// ParseRule builds a Rule from its configuration name. value is only read for
// REQUEST_TIMEOUT and holds the timeout in seconds.
func ParseRule(name, value string) (Rule, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	for kind, n := range ruleNames {
		if n != normalized {
			continue
		}
		if kind != RequestTimeout {
			return Rule{Kind: kind}, nil
		}
		timeout, err := parseTimeout(value)
		if err != nil {
			return Rule{}, &ConfigError{Rule: name, Reason: err.Error()}
		}
		return Rule{Kind: kind, Timeout: timeout}, nil
	}
	return Rule{}, &ConfigError{Rule: name, Reason: "unknown rule"}
}

func parseTimeout(value string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, errors.New("timeout must be a positive number of seconds")
	}
	if secs > MaxRequestTimeout.Seconds() {
		return 0, fmt.Errorf("timeout must not exceed %s", MaxRequestTimeout)
	}
	d := time.Duration(secs * float64(time.Second))
	if d < time.Millisecond {
		return 0, errors.New("timeout must be at least 1ms")
	}
	return d, nil
}

// RuleSet is the ordered set of rules attached to one device.
type RuleSet []Rule

// Has reports whether a rule of the given kind is present.
func (rs RuleSet) Has(kind RuleKind) bool {
	for _, r := range rs {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

// Timeout returns the RequestTimeout value, or fallback when none is set.
func (rs RuleSet) Timeout(fallback time.Duration) time.Duration {
	for _, r := range rs {
		if r.Kind == RequestTimeout {
			return r.Timeout
		}
	}
	return fallback
}

// Names returns the rule names for display.
func (rs RuleSet) Names() []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.String())
	}
	return out
}

// Merge returns a copy of rs with every rule of other added, replacing rules of the same kind.
func (rs RuleSet) Merge(other RuleSet) RuleSet {
	out := make(RuleSet, 0, len(rs)+len(other))
	for _, r := range rs {
		if !other.Has(r.Kind) {
			out = append(out, r)
		}
	}
	return append(out, other...)
}

// ParseRules parses entries of the form NAME or NAME=value. A later rule of
// the same kind replaces an earlier one.
func ParseRules(entries []string) (RuleSet, error) {
	rs := make(RuleSet, 0, len(entries))
	for _, entry := range entries {
		name, value, _ := strings.Cut(entry, "=")
		r, err := ParseRule(name, value)
		if err != nil {
			return nil, err
		}
		rs = rs.Merge(RuleSet{r})
	}
	return rs, nil
}
