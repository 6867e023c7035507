// Package redis backs the remote state store with Redis. Every logical
// path is a key holding a JSON-encoded leaf; tree reads compose leaves
// back into objects. Each write publishes on per-path channels so
// subscribers re-read and receive the latest value, mirroring a
// value-listener realtime store.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"escape-room-service/internal/store"
)

const (
	keyPrefix     = "state:"
	channelPrefix = "change:"
)

type Store struct {
	client *goredis.Client
}

func New(client *goredis.Client) *Store {
	return &Store{client: client}
}

// Probe reports store reachability; wired into the availability gate.
func (s *Store) Probe(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Get(ctx context.Context, path string) (store.Value, error) {
	raw, err := s.client.Get(ctx, keyPrefix+path).Result()
	if err == nil {
		return store.RawValue(json.RawMessage(raw)), nil
	}
	if err != goredis.Nil {
		return store.Value{}, fmt.Errorf("get %s: %w", path, err)
	}
	return s.composeTree(ctx, path)
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	leaves := make(map[string]json.RawMessage)
	if err := flatten(path, value, leaves); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if err := s.deleteTree(ctx, path); err != nil {
		return err
	}
	return s.writeLeaves(ctx, leaves)
}

// Update writes the whole batch through one pipeline. The backing store
// offers no cross-key atomicity guarantee; the pipeline keeps the batch
// contiguous, which is the same best-effort unit the design relies on for
// the progress+points pair.
func (s *Store) Update(ctx context.Context, values map[string]any) error {
	leaves := make(map[string]json.RawMessage)
	for path, v := range values {
		if err := flatten(path, v, leaves); err != nil {
			return fmt.Errorf("update %s: %w", path, err)
		}
	}
	return s.writeLeaves(ctx, leaves)
}

func (s *Store) Subscribe(ctx context.Context, path string) (*store.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channelPrefix+path)
	// Force the SUBSCRIBE round trip so no change slips between the
	// initial read and the listener attaching.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	sub := store.NewSubscription(path, 8, func() {
		_ = pubsub.Close()
	})

	initial, err := s.Get(ctx, path)
	if err != nil {
		sub.Cancel()
		return nil, err
	}
	sub.Deliver(initial)

	go func() {
		for range pubsub.Channel() {
			v, err := s.Get(context.Background(), path)
			if err != nil {
				continue
			}
			sub.Deliver(v)
		}
	}()
	return sub, nil
}

func (s *Store) writeLeaves(ctx context.Context, leaves map[string]json.RawMessage) error {
	pipe := s.client.TxPipeline()
	channels := make(map[string]struct{})
	for path, raw := range leaves {
		pipe.Set(ctx, keyPrefix+path, string(raw), 0)
		for _, p := range store.Ancestors(path) {
			channels[p] = struct{}{}
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	for path := range channels {
		_ = s.client.Publish(ctx, channelPrefix+path, "1").Err()
	}
	return nil
}

func (s *Store) deleteTree(ctx context.Context, path string) error {
	keys, err := s.scanKeys(ctx, keyPrefix+path+"/*")
	if err != nil {
		return err
	}
	keys = append(keys, keyPrefix+path)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// composeTree rebuilds an object value from the leaf keys below path.
func (s *Store) composeTree(ctx context.Context, path string) (store.Value, error) {
	keys, err := s.scanKeys(ctx, keyPrefix+path+"/*")
	if err != nil {
		return store.Value{}, err
	}
	if len(keys) == 0 {
		return store.Value{}, nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return store.Value{}, fmt.Errorf("read %s: %w", path, err)
	}

	root := make(map[string]any)
	for i, key := range keys {
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		rel := strings.TrimPrefix(key, keyPrefix+path+"/")
		node := root
		segs := strings.Split(rel, "/")
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		node[segs[len(segs)-1]] = json.RawMessage(raw)
	}
	return store.NewValue(root)
}

func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return keys, nil
}

// flatten explodes value into JSON leaves keyed by path. Objects recurse;
// scalars and arrays are stored whole.
func flatten(path string, value any, out map[string]json.RawMessage) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return flattenDecoded(path, decoded, out)
}

func flattenDecoded(path string, value any, out map[string]json.RawMessage) error {
	if m, ok := value.(map[string]any); ok && len(m) > 0 {
		for key, child := range m {
			if err := flattenDecoded(path+"/"+key, child, out); err != nil {
				return err
			}
		}
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	out[path] = raw
	return nil
}
