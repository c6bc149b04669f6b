package capability

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbridge/mcp-endpoint-go/pkg/mcperr"
)

func echoHandler(tag string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		return tag, nil
	}
}

func TestAddListPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	names := []string{"zeta", "alpha", "mid"}
	for _, name := range names {
		require.NoError(t, reg.Add(Entry{Kind: KindTool, Name: name, Handler: echoHandler(name)}))
	}

	listed := reg.List(KindTool)
	require.Len(t, listed, len(names))
	for i, e := range listed {
		assert.Equal(t, names[i], e.Name)
	}
}

func TestDuplicateAddLeavesPriorEntryUnchanged(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Add(Entry{Kind: KindTool, Name: "search", Description: "first", Handler: echoHandler("first")}))

	err := reg.Add(Entry{Kind: KindTool, Name: "search", Description: "second", Handler: echoHandler("second")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperr.ErrDuplicateCapability))

	entry, ok := reg.Get(KindTool, "search")
	require.True(t, ok)
	assert.Equal(t, "first", entry.Description)
	out, err := entry.Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "first", out)
	assert.Equal(t, 1, reg.Len(KindTool))
}

func TestSameNameAllowedAcrossKinds(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Add(Entry{Kind: KindTool, Name: "docs", Handler: echoHandler("tool")}))
	require.NoError(t, reg.Add(Entry{Kind: KindPrompt, Name: "docs", Handler: echoHandler("prompt")}))

	assert.Equal(t, 1, reg.Len(KindTool))
	assert.Equal(t, 1, reg.Len(KindPrompt))
}

func TestRemoveAbsentIsNoOp(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	assert.False(t, reg.Remove(KindTool, "ghost"))

	require.NoError(t, reg.Add(Entry{Kind: KindTool, Name: "real", Handler: echoHandler("real")}))
	assert.True(t, reg.Remove(KindTool, "real"))
	assert.False(t, reg.Remove(KindTool, "real"))
	assert.Equal(t, 0, reg.Len(KindTool))
}

func TestAddListRemoveScenario(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Add(Entry{Kind: KindTool, Name: "docs/search", Handler: echoHandler("s")}))

	listed := reg.List(KindTool)
	require.Len(t, listed, 1)
	assert.Equal(t, "docs/search", listed[0].Name)

	assert.True(t, reg.Remove(KindTool, "docs/search"))
	assert.Empty(t, reg.List(KindTool))
}

func TestRegisterBatchReportsPerItemOutcomes(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Add(Entry{Kind: KindTool, Name: "taken", Handler: echoHandler("x")}))

	outcomes := reg.RegisterBatch([]Entry{
		{Kind: KindTool, Name: "a", Handler: echoHandler("a")},
		{Kind: KindTool, Name: "taken", Handler: echoHandler("dup")},
		{Kind: KindTool, Name: "b", Handler: echoHandler("b")},
	})
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.True(t, errors.Is(outcomes[1].Err, mcperr.ErrDuplicateCapability))
	assert.NoError(t, outcomes[2].Err)

	listed := reg.List(KindTool)
	require.Len(t, listed, 3)
	assert.Equal(t, []string{"taken", "a", "b"}, []string{listed[0].Name, listed[1].Name, listed[2].Name})
}

func TestListSnapshotIsStable(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	for i := 0; i < 3; i++ {
		require.NoError(t, reg.Add(Entry{Kind: KindResource, Name: fmt.Sprintf("res://%d", i), Handler: echoHandler("r")}))
	}
	snapshot := reg.List(KindResource)
	require.NoError(t, reg.Add(Entry{Kind: KindResource, Name: "res://late", Handler: echoHandler("late")}))
	assert.Len(t, snapshot, 3)
}

func TestOnChangeObservesMutations(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	type change struct {
		kind  Kind
		name  string
		added bool
	}
	var seen []change
	reg.OnChange(func(kind Kind, name string, added bool) {
		seen = append(seen, change{kind, name, added})
	})

	require.NoError(t, reg.Add(Entry{Kind: KindTool, Name: "t", Handler: echoHandler("t")}))
	reg.Remove(KindTool, "t")

	require.Len(t, seen, 2)
	assert.Equal(t, change{KindTool, "t", true}, seen[0])
	assert.Equal(t, change{KindTool, "t", false}, seen[1])
}
