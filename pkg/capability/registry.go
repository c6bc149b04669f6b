// Package capability implements the per-endpoint registry of tools,
// resources, and prompts, together with manifest-driven discovery and the
// client-side root store. The registry never inspects handler internals: a
// handler is an opaque invocable that receives a validated argument bag and
// returns a result or an error.
package capability

import (
	"context"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hostbridge/mcp-endpoint-go/pkg/mcperr"
)

// Kind distinguishes the three capability families.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// Kinds lists the capability families in advertisement order.
var Kinds = []Kind{KindTool, KindResource, KindPrompt}

// Handler executes one capability invocation. Results are interpreted by the
// serving endpoint: tool handlers may return *mcp.CallToolResult or a plain
// string, resource handlers *mcp.ReadResourceResult or a string body, prompt
// handlers *mcp.GetPromptResult or a prompt text.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Entry is one registered capability. For resources, Name is the resource
// URI. The handler reference held by an in-flight invocation stays valid
// after Remove; removal only affects future lookups.
type Entry struct {
	Kind        Kind
	Name        string
	Title       string
	Description string
	// MIMEType applies to resources only.
	MIMEType string
	Schema   *jsonschema.Schema
	Handler  Handler
	AddedAt  time.Time
}

// BatchOutcome reports one item of a RegisterBatch call.
type BatchOutcome struct {
	Kind Kind
	Name string
	Err  error
}

// ChangeFunc observes registry mutations; mutated reports whether the entry
// was added (true) or removed (false).
type ChangeFunc func(kind Kind, name string, added bool)

type kindSet struct {
	entries map[string]Entry
	order   []string
}

// Registry holds the capability entries of a single endpoint. All methods
// are linearizable: list snapshots never expose a partially applied entry.
type Registry struct {
	mu       *sync.Mutex
	kinds    map[Kind]*kindSet
	onChange ChangeFunc
}

// NewRegistry constructs a registry with its own lock.
func NewRegistry() *Registry {
	return NewRegistryWithLock(&sync.Mutex{})
}

// NewRegistryWithLock constructs a registry sharing the owning endpoint's
// mutual-exclusion domain, so capability mutations serialize against the
// endpoint's connection-state transitions.
func NewRegistryWithLock(mu *sync.Mutex) *Registry {
	kinds := make(map[Kind]*kindSet, len(Kinds))
	for _, k := range Kinds {
		kinds[k] = &kindSet{entries: make(map[string]Entry)}
	}
	return &Registry{mu: mu, kinds: kinds}
}

// OnChange registers the mutation observer. The serving endpoint uses it to
// emit list-changed notifications and capability events.
func (r *Registry) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Add registers a new entry. Re-adding a registered name fails with a
// duplicate-capability error and leaves the prior entry unchanged; callers
// wanting replace semantics must Remove first.
func (r *Registry) Add(e Entry) error {
	if e.Name == "" {
		return mcperr.New(mcperr.KindProtocol, "capability name is required")
	}
	set, ok := r.kinds[e.Kind]
	if !ok {
		return mcperr.New(mcperr.KindProtocol, "unknown capability kind %q", e.Kind)
	}
	r.mu.Lock()
	if _, exists := set.entries[e.Name]; exists {
		r.mu.Unlock()
		return mcperr.New(mcperr.KindDuplicateCapability, "%s %q already registered", e.Kind, e.Name)
	}
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now()
	}
	set.entries[e.Name] = e
	set.order = append(set.order, e.Name)
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange(e.Kind, e.Name, true)
	}
	return nil
}

// Remove deletes an entry. Removing an absent name is a no-op, not an error;
// the return value reports whether anything was removed.
func (r *Registry) Remove(kind Kind, name string) bool {
	set, ok := r.kinds[kind]
	if !ok {
		return false
	}
	r.mu.Lock()
	if _, exists := set.entries[name]; !exists {
		r.mu.Unlock()
		return false
	}
	delete(set.entries, name)
	for i, n := range set.order {
		if n == name {
			set.order = append(set.order[:i], set.order[i+1:]...)
			break
		}
	}
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange(kind, name, false)
	}
	return true
}

// Get returns a copy of the named entry.
func (r *Registry) Get(kind Kind, name string) (Entry, bool) {
	set, ok := r.kinds[kind]
	if !ok {
		return Entry{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := set.entries[name]
	return e, exists
}

// List returns an insertion-ordered snapshot of one kind. The snapshot is a
// copy; mutating it never affects the registry.
func (r *Registry) List(kind Kind) []Entry {
	set, ok := r.kinds[kind]
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(set.order))
	for _, name := range set.order {
		out = append(out, set.entries[name])
	}
	return out
}

// Len reports how many entries of one kind are registered.
func (r *Registry) Len(kind Kind) int {
	set, ok := r.kinds[kind]
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(set.order)
}

// RegisterBatch applies each add independently: one item failing (typically a
// duplicate) never blocks the rest. Outcomes are returned in input order.
func (r *Registry) RegisterBatch(entries []Entry) []BatchOutcome {
	outcomes := make([]BatchOutcome, 0, len(entries))
	for _, e := range entries {
		outcomes = append(outcomes, BatchOutcome{
			Kind: e.Kind,
			Name: e.Name,
			Err:  r.Add(e),
		})
	}
	return outcomes
}
