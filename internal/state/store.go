// Package state holds the canonical state tree: nested maps addressed by
// slash-separated paths such as player/<uid>/AVTransport/transport_state.
package state

import (
	"strings"
	"sync"
	"time"
)

// Change describes one mutation of the tree.
type Change struct {
	Path      string
	Overwrite bool
	At        time.Time
}

// Store is the canonical state tree. Writers go through Ingest or Merge;
// readers get deep copies.
type Store struct {
	mu   sync.RWMutex
	root map[string]any

	subMu       sync.Mutex
	subscribers map[int]chan Change
	nextSub     int

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		root:        make(map[string]any),
		subscribers: make(map[int]chan Change),
		now:         time.Now,
	}
}

// SplitPath returns the non-empty segments of a slash path.
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// Ingest writes value at path. With overwrite the node at path is replaced
// wholesale; otherwise map values are deep-merged into what is there and
// any other value replaces it.
func (s *Store) Ingest(path string, value any, overwrite bool) Change {
	segments := SplitPath(path)
	value = Copy(value)

	s.mu.Lock()
	if len(segments) == 0 {
		incoming, ok := value.(map[string]any)
		if !ok {
			s.mu.Unlock()
			return Change{}
		}
		if overwrite {
			s.root = incoming
		} else {
			mergeInto(s.root, incoming)
		}
	} else {
		parent := s.root
		for _, segment := range segments[:len(segments)-1] {
			child, ok := parent[segment].(map[string]any)
			if !ok {
				child = make(map[string]any)
				parent[segment] = child
			}
			parent = child
		}
		leaf := segments[len(segments)-1]
		existing, isMap := parent[leaf].(map[string]any)
		incoming, incomingMap := value.(map[string]any)
		if !overwrite && isMap && incomingMap {
			mergeInto(existing, incoming)
		} else {
			parent[leaf] = value
		}
	}
	s.mu.Unlock()

	change := Change{Path: strings.Join(segments, "/"), Overwrite: overwrite, At: s.now()}
	s.notify(change)
	return change
}

// Merge deep-merges tree into the root.
func (s *Store) Merge(tree map[string]any) Change {
	return s.Ingest("", tree, false)
}

func mergeInto(dst, src map[string]any) {
	for key, value := range src {
		incoming, incomingMap := value.(map[string]any)
		existing, existingMap := dst[key].(map[string]any)
		if incomingMap && existingMap {
			mergeInto(existing, incoming)
			continue
		}
		dst[key] = value
	}
}

// Get returns a copy of the value at path.
func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var node any = s.root
	for _, segment := range SplitPath(path) {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return Copy(node), true
}

// Has reports whether path exists.
func (s *Store) Has(path string) bool {
	_, ok := s.Get(path)
	return ok
}

// Snapshot returns a copy of the whole tree.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Copy(s.root).(map[string]any)
}

// Reset clears the tree.
func (s *Store) Reset() {
	s.mu.Lock()
	s.root = make(map[string]any)
	s.mu.Unlock()
	s.notify(Change{Overwrite: true, At: s.now()})
}

// Subscribe returns a channel of changes and a function that cancels the
// subscription. Slow subscribers miss changes rather than blocking writers.
func (s *Store) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notify(change Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- change:
		default:
		}
	}
}

// Copy returns a deep copy of maps and slices inside value.
func Copy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = Copy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Copy(item)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = item
		}
		return out
	default:
		return v
	}
}
