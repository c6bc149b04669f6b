package mcperr

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatchingWithErrorsIs(t *testing.T) {
	t.Parallel()

	err := New(KindTimeout, "tools/call timed out").WithEndpoint("docs")
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrConnectionClosed))
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("pipe broke")
	err := Wrap(KindConnectionClosed, cause, "send failed")

	assert.True(t, errors.Is(err, ErrConnectionClosed))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "send failed")
	assert.Contains(t, err.Error(), "pipe broke")
}

func TestKindSurvivesFurtherWrapping(t *testing.T) {
	t.Parallel()

	inner := New(KindEndpointNotFound, "client %q not found", "ghost")
	outer := errors.Wrap(inner, "manager lookup")

	assert.Equal(t, KindEndpointNotFound, KindOf(outer))
	assert.True(t, errors.Is(outer, ErrEndpointNotFound))
}

func TestKindOfForeignError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestEndpointAppearsInMessage(t *testing.T) {
	t.Parallel()

	err := New(KindClientNotConnected, "connection is degraded").WithEndpoint("search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search")
}
