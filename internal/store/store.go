// Package store abstracts the path-addressed realtime state store shared
// by all teams. Paths are slash-separated (`users/alpha/points`); values
// are JSON. Subscriptions deliver the current value immediately and then
// again on every change at or below the subscribed path. Writes on a
// single path are observed in order; no ordering holds across paths.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Store is the remote state client contract. Update applies the batch as
// a unit on a best-effort basis; no cross-path atomicity is guaranteed by
// the backing store.
type Store interface {
	Get(ctx context.Context, path string) (Value, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, values map[string]any) error
	Subscribe(ctx context.Context, path string) (*Subscription, error)
}

// Value is a snapshot of the data at a path. The zero Value is absent.
type Value struct {
	raw json.RawMessage
}

// NewValue wraps an arbitrary JSON-marshalable value.
func NewValue(v any) (Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("encode value: %w", err)
	}
	return Value{raw: raw}, nil
}

// RawValue wraps already-encoded JSON.
func RawValue(raw json.RawMessage) Value {
	return Value{raw: raw}
}

// Exists reports whether any data is present at the path.
func (v Value) Exists() bool {
	return len(v.raw) > 0 && string(v.raw) != "null"
}

// Raw returns the underlying JSON, or nil when absent.
func (v Value) Raw() json.RawMessage {
	if !v.Exists() {
		return nil
	}
	return v.raw
}

// Decode unmarshals the value into dst. Absent values leave dst untouched.
func (v Value) Decode(dst any) error {
	if !v.Exists() {
		return nil
	}
	return json.Unmarshal(v.raw, dst)
}

// Int reads the value as an integer, defaulting to zero.
func (v Value) Int() int {
	var n int
	if err := v.Decode(&n); err != nil {
		return 0
	}
	return n
}

// Bool reads the value as a boolean, defaulting to false.
func (v Value) Bool() bool {
	var b bool
	if err := v.Decode(&b); err != nil {
		return false
	}
	return b
}

// Related reports whether a write at wrote is visible from a subscription
// at sub: one path must be a segment-wise prefix of the other.
func Related(sub, wrote string) bool {
	if sub == wrote {
		return true
	}
	return strings.HasPrefix(wrote, sub+"/") || strings.HasPrefix(sub, wrote+"/")
}

// Ancestors lists path plus every ancestor, nearest first.
// "a/b/c" yields ["a/b/c", "a/b", "a"].
func Ancestors(path string) []string {
	out := []string{path}
	for {
		i := strings.LastIndexByte(path, '/')
		if i < 0 {
			return out
		}
		path = path[:i]
		out = append(out, path)
	}
}
