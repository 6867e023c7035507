// Package memory is an in-process implementation of the remote state
// store, useful for demos and tests. It keeps a nested JSON-like tree and
// fans out changes to path subscribers the same way the Redis
// implementation does.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"escape-room-service/internal/store"
)

type Store struct {
	mu   sync.RWMutex
	root map[string]any
	subs map[string]*store.Subscription
}

func New() *Store {
	return &Store{
		root: make(map[string]any),
		subs: make(map[string]*store.Subscription),
	}
}

func (s *Store) Get(_ context.Context, path string) (store.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valueAtLocked(path)
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

// Update applies every write, then notifies each affected subscriber once
// with its path's post-batch value, so the pair of writes in an answer
// submission is observed as a unit by in-process listeners.
func (s *Store) Update(_ context.Context, values map[string]any) error {
	normalized := make(map[string]any, len(values))
	for path, v := range values {
		nv, err := normalize(v)
		if err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
		normalized[path] = nv
	}

	s.mu.Lock()
	for path, v := range normalized {
		s.setAtLocked(path, v)
	}
	affected := make([]*store.Subscription, 0)
	seen := make(map[string]bool)
	for _, sub := range s.subs {
		if seen[sub.ID()] {
			continue
		}
		for path := range normalized {
			if store.Related(sub.Path(), path) {
				affected = append(affected, sub)
				seen[sub.ID()] = true
				break
			}
		}
	}
	deliveries := make([]store.Value, len(affected))
	for i, sub := range affected {
		v, _ := s.valueAtLocked(sub.Path())
		deliveries[i] = v
	}
	s.mu.Unlock()

	for i, sub := range affected {
		sub.Deliver(deliveries[i])
	}
	return nil
}

func (s *Store) Subscribe(_ context.Context, path string) (*store.Subscription, error) {
	var sub *store.Subscription
	sub = store.NewSubscription(path, 8, func() {
		s.mu.Lock()
		delete(s.subs, sub.ID())
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.subs[sub.ID()] = sub
	initial, _ := s.valueAtLocked(path)
	s.mu.Unlock()

	sub.Deliver(initial)
	return sub, nil
}

func (s *Store) valueAtLocked(path string) (store.Value, error) {
	node := any(s.root)
	for _, seg := range strings.Split(path, "/") {
		m, ok := node.(map[string]any)
		if !ok {
			return store.Value{}, nil
		}
		node, ok = m[seg]
		if !ok {
			return store.Value{}, nil
		}
	}
	return store.NewValue(node)
}

func (s *Store) setAtLocked(path string, value any) {
	segs := strings.Split(path, "/")
	node := s.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = value
}

// normalize round-trips through JSON so the tree only ever holds plain
// maps, slices, and scalars regardless of what callers pass in.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
