package capability

import (
	"sync"
	"time"
)

// Root is one workspace root advertised by a client endpoint.
type Root struct {
	URI     string         `json:"uri"`
	Name    string         `json:"name,omitempty"`
	Meta    map[string]any `json:"_meta,omitempty"`
	AddedAt time.Time      `json:"-"`
}

// RootStore keeps roots in insertion order, keyed by URI. Unlike the
// capability registry, adding an existing URI replaces the prior entry in
// place: roots carry no in-flight invocations, so replacement is safe.
type RootStore struct {
	mu    sync.RWMutex
	roots map[string]Root
	order []string
}

// NewRootStore constructs an empty root store.
func NewRootStore() *RootStore {
	return &RootStore{roots: make(map[string]Root)}
}

// Add inserts or fully replaces the root for uri. It reports whether the uri
// was new.
func (s *RootStore) Add(root Root) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if root.AddedAt.IsZero() {
		root.AddedAt = time.Now()
	}
	_, exists := s.roots[root.URI]
	s.roots[root.URI] = root
	if !exists {
		s.order = append(s.order, root.URI)
	}
	return !exists
}

// Remove deletes the root for uri, reporting whether it existed.
func (s *RootStore) Remove(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roots[uri]; !exists {
		return false
	}
	delete(s.roots, uri)
	for i, u := range s.order {
		if u == uri {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the root for uri.
func (s *RootStore) Get(uri string) (Root, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roots[uri]
	return r, ok
}

// List returns an insertion-ordered snapshot.
func (s *RootStore) List() []Root {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Root, 0, len(s.order))
	for _, uri := range s.order {
		out = append(out, s.roots[uri])
	}
	return out
}

// Len reports the number of stored roots.
func (s *RootStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
