package endpoint

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	t.Parallel()

	linear := RetryPolicy{Backoff: BackoffLinear, Interval: 10 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, linear.delay(0))
	assert.Equal(t, 20*time.Millisecond, linear.delay(1))
	assert.Equal(t, 30*time.Millisecond, linear.delay(2))

	expo := RetryPolicy{Backoff: BackoffExponential, Interval: 10 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, expo.delay(0))
	assert.Equal(t, 20*time.Millisecond, expo.delay(1))
	assert.Equal(t, 40*time.Millisecond, expo.delay(2))

	assert.Equal(t, time.Duration(0), RetryPolicy{}.delay(3))
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Name: "x"}.withDefaults()
	assert.Equal(t, defaultTimeout, cfg.Timeout)
	assert.Equal(t, defaultVersion, cfg.Version)
	assert.NotNil(t, cfg.Logger)
}

func TestCapabilitiesWireShape(t *testing.T) {
	t.Parallel()

	caps := Capabilities{
		Sampling: true,
		Roots:    RootsCapability{Enabled: true, ListChanged: true},
	}
	raw, err := json.Marshal(caps)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sampling":{},"roots":{"listChanged":true}}`, string(raw))

	var back Capabilities
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, caps, back)
}

func TestCapabilitiesZeroValueAdvertisesNothing(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(Capabilities{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))

	var back Capabilities
	require.NoError(t, json.Unmarshal([]byte(`{"logging":{},"experimental":{"tracing":true}}`), &back))
	assert.True(t, back.Logging)
	assert.False(t, back.Sampling)
	assert.Equal(t, map[string]any{"tracing": true}, back.Experimental)
}
