// Package redisfeed implements feed.Backend on Redis. Subfeeds are Redis
// Streams whose entry order defines message positions, stored objects are
// plain string keys addressed by their sha1, and feed ids live in a hash.
package redisfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/labbox-api/internal/feed"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis feed backend
type Config struct {
	// Client is the Redis client to use
	Client redis.UniversalClient

	// KeyPrefix is prepended to every key. Defaults to "labbox:"
	KeyPrefix string
}

// Backend implements feed.Backend using Redis
type Backend struct {
	client    redis.UniversalClient
	keyPrefix string
}

// New creates a new Redis-based feed backend.
func New(config Config) (*Backend, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "labbox:"
	}

	return &Backend{
		client:    config.Client,
		keyPrefix: keyPrefix,
	}, nil
}

// --- Key helpers ---

func (b *Backend) objectKey(sha1 string) string { return b.keyPrefix + "store:sha1:" + sha1 }
func (b *Backend) feedsKey() string             { return b.keyPrefix + "feeds" }
func (b *Backend) streamKey(feedID, subfeedHash string) string {
	return b.keyPrefix + "subfeed:" + feedID + ":" + subfeedHash
}

// StoreJSON implements feed.Store.StoreJSON
func (b *Backend) StoreJSON(ctx context.Context, canonical []byte) (string, error) {
	hash := feed.SHA1Hex(canonical)
	if err := b.client.Set(ctx, b.objectKey(hash), canonical, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to store object %s: %w", hash, err)
	}
	return feed.HashURI(hash), nil
}

// LoadJSON implements feed.Store.LoadJSON
func (b *Backend) LoadJSON(ctx context.Context, sha1 string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.objectKey(sha1)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: sha1 %s", feed.ErrNotFound, sha1)
		}
		return nil, fmt.Errorf("failed to load object %s: %w", sha1, err)
	}
	return data, nil
}

// FeedID implements feed.Feeds.FeedID
func (b *Backend) FeedID(ctx context.Context, name string, create bool) (string, error) {
	if create {
		candidate := feed.SHA1Hex([]byte(uuid.NewString()))
		if err := b.client.HSetNX(ctx, b.feedsKey(), name, candidate).Err(); err != nil {
			return "", fmt.Errorf("failed to create feed %q: %w", name, err)
		}
	}

	id, err := b.client.HGet(ctx, b.feedsKey(), name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: feed %q", feed.ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to get feed %q: %w", name, err)
	}
	return id, nil
}

// AppendMessages implements feed.Feeds.AppendMessages
func (b *Backend) AppendMessages(ctx context.Context, feedID, subfeedHash string, messages []json.RawMessage) error {
	if len(messages) == 0 {
		return nil
	}

	key := b.streamKey(feedID, subfeedHash)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range messages {
			pipe.XAdd(ctx, &redis.XAddArgs{Stream: key, Values: map[string]any{"m": []byte(m)}})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", key, err)
	}
	return nil
}

// GetMessages implements feed.Feeds.GetMessages
func (b *Backend) GetMessages(ctx context.Context, feedID, subfeedHash string, position int) ([]json.RawMessage, error) {
	key := b.streamKey(feedID, subfeedHash)
	entries, err := b.client.XRange(ctx, key, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", key, err)
	}

	if position < 0 {
		position = 0
	}
	out := []json.RawMessage{}
	for i := position; i < len(entries); i++ {
		// Robust payload decoding: accept string or []byte
		switch v := entries[i].Values["m"].(type) {
		case string:
			out = append(out, json.RawMessage(v))
		case []byte:
			out = append(out, json.RawMessage(v))
		}
	}
	return out, nil
}

// Watch implements feed.Watcher.Watch. Counts come from XLEN; when nothing is
// available it blocks on XREAD for the remaining wait and counts again.
func (b *Backend) Watch(ctx context.Context, watches map[string]feed.SubfeedWatch, wait time.Duration) (map[string]int, error) {
	if len(watches) == 0 {
		return map[string]int{}, nil
	}
	deadline := time.Now().Add(wait)

	for {
		counts, found, err := b.count(ctx, watches)
		if err != nil || found {
			return counts, err
		}

		remaining := time.Until(deadline)
		if remaining < time.Millisecond {
			return counts, nil
		}

		keys := make([]string, 0, len(watches))
		seen := make(map[string]struct{}, len(watches))
		for _, w := range watches {
			key := b.streamKey(w.FeedID, w.SubfeedHash)
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
		streams := append([]string{}, keys...)
		for range keys {
			streams = append(streams, "$")
		}

		err = b.client.XRead(ctx, &redis.XReadArgs{
			Streams: streams,
			Count:   1,
			Block:   remaining,
		}).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to block on subfeeds: %w", err)
		}
		if errors.Is(err, redis.Nil) {
			// Timed out; one last count catches appends that raced the XREAD.
			counts, _, err = b.count(ctx, watches)
			return counts, err
		}
	}
}

func (b *Backend) count(ctx context.Context, watches map[string]feed.SubfeedWatch) (map[string]int, bool, error) {
	names := make([]string, 0, len(watches))
	cmds := make([]*redis.IntCmd, 0, len(watches))

	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for name, w := range watches {
			names = append(names, name)
			cmds = append(cmds, pipe.XLen(ctx, b.streamKey(w.FeedID, w.SubfeedHash)))
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to count subfeed messages: %w", err)
	}

	counts := make(map[string]int, len(watches))
	found := false
	for i, name := range names {
		n := int(cmds[i].Val()) - watches[name].Position
		if n < 0 {
			n = 0
		}
		if n > 0 {
			found = true
		}
		counts[name] = n
	}
	return counts, found, nil
}

// Close closes the Redis connection.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Compile-time interface check
var _ feed.Backend = (*Backend)(nil)
