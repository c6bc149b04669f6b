package endpoint

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hostbridge/mcp-endpoint-go/pkg/capability"
)

// ProtocolVersion is the protocol revision offered and accepted by both
// endpoint roles.
const ProtocolVersion = "2025-03-26"

const (
	defaultTimeout = 30 * time.Second
	defaultVersion = "1.0.0"
)

// RootsCapability controls whether an endpoint exposes filesystem roots and
// whether it emits change notifications for them.
type RootsCapability struct {
	Enabled     bool
	ListChanged bool
}

// Capabilities is the feature-flag set exchanged during negotiation. The
// zero value advertises nothing. Flags written after a connection is
// established take effect on the next negotiation, never retroactively.
type Capabilities struct {
	Experimental map[string]any
	Sampling     bool
	Logging      bool
	Roots        RootsCapability
}

// MarshalJSON renders the presence-based wire shape: enabled features appear
// as (possibly empty) objects, disabled ones are absent.
func (c Capabilities) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if len(c.Experimental) > 0 {
		out["experimental"] = c.Experimental
	}
	if c.Sampling {
		out["sampling"] = struct{}{}
	}
	if c.Logging {
		out["logging"] = struct{}{}
	}
	if c.Roots.Enabled || c.Roots.ListChanged {
		roots := map[string]any{}
		if c.Roots.ListChanged {
			roots["listChanged"] = true
		}
		out["roots"] = roots
	}
	return json.Marshal(out)
}

// UnmarshalJSON inverts MarshalJSON: presence of a key enables the feature.
func (c *Capabilities) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Capabilities{}
	if exp, ok := raw["experimental"]; ok {
		if err := json.Unmarshal(exp, &c.Experimental); err != nil {
			return err
		}
	}
	_, c.Sampling = raw["sampling"]
	_, c.Logging = raw["logging"]
	if roots, ok := raw["roots"]; ok {
		c.Roots.Enabled = true
		var body struct {
			ListChanged bool `json:"listChanged"`
		}
		if err := json.Unmarshal(roots, &body); err != nil {
			return err
		}
		c.Roots.ListChanged = body.ListChanged
	}
	return nil
}

// Backoff selects how retry delays grow between attempts.
type Backoff string

const (
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy governs re-issue of calls that fail by timeout. Other failure
// kinds are never retried. Each attempt is a fresh request with a fresh
// correlation id.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	Backoff    Backoff
	Interval   time.Duration
}

// delay returns the wait before retry attempt (0-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Interval <= 0 {
		return 0
	}
	switch p.Backoff {
	case BackoffExponential:
		return p.Interval << uint(attempt)
	default:
		return p.Interval * time.Duration(attempt+1)
	}
}

// FeatureConfig carries per-kind discovery settings.
type FeatureConfig struct {
	// Discover lists directories scanned for capability manifests.
	Discover []string
	// AutoRegister runs discovery at start and keeps watching the
	// directories for manifest changes while the endpoint runs.
	AutoRegister bool
}

// CompleteArgument names the argument being completed and its partial value.
type CompleteArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CompleteFunc produces argument completion suggestions for a server
// endpoint. ref is the prompt or resource reference from the request.
type CompleteFunc func(ref map[string]any, arg CompleteArgument) ([]string, error)

// Config configures either endpoint role.
type Config struct {
	// Name identifies the endpoint; managers also key instances by it.
	Name    string
	Version string

	Capabilities Capabilities

	// Timeout bounds each individual call attempt. Zero means 30s.
	Timeout time.Duration
	Retry   RetryPolicy

	Tools     FeatureConfig
	Resources FeatureConfig
	Prompts   FeatureConfig

	// Handlers resolves manifest handler keys during discovery.
	Handlers capability.HandlerFactory

	// Complete, when set on a server endpoint, answers completion requests.
	Complete CompleteFunc

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = defaultVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// discoverDirs collects every directory named across the feature configs
// that requested auto registration.
func (c Config) discoverDirs() []string {
	var dirs []string
	for _, fc := range []FeatureConfig{c.Tools, c.Resources, c.Prompts} {
		if fc.AutoRegister {
			dirs = append(dirs, fc.Discover...)
		}
	}
	return dirs
}
