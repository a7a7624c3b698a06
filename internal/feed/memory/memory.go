// Package memory provides an in-process implementation of feed.Backend.
// Subfeeds are append-only slices and waiters are woken through a broadcast
// channel that is closed and replaced on every append. State is local to the
// process, so it suits single-node deployments and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/labbox-api/internal/feed"
	"github.com/google/uuid"
)

// Backend implements feed.Backend in memory
type Backend struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	feedIDs  map[string]string
	subfeeds map[string][]json.RawMessage
	changed  chan struct{}
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		objects:  make(map[string][]byte),
		feedIDs:  make(map[string]string),
		subfeeds: make(map[string][]json.RawMessage),
		changed:  make(chan struct{}),
	}
}

func subfeedKey(feedID, subfeedHash string) string {
	return feedID + "/" + subfeedHash
}

// StoreJSON implements feed.Store.StoreJSON
func (b *Backend) StoreJSON(ctx context.Context, canonical []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	hash := feed.SHA1Hex(canonical)
	data := make([]byte, len(canonical))
	copy(data, canonical)

	b.mu.Lock()
	b.objects[hash] = data
	b.mu.Unlock()

	return feed.HashURI(hash), nil
}

// LoadJSON implements feed.Store.LoadJSON
func (b *Backend) LoadJSON(ctx context.Context, sha1 string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.objects[sha1]
	if !ok {
		return nil, fmt.Errorf("%w: sha1 %s", feed.ErrNotFound, sha1)
	}
	return data, nil
}

// FeedID implements feed.Feeds.FeedID
func (b *Backend) FeedID(ctx context.Context, name string, create bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.feedIDs[name]; ok {
		return id, nil
	}
	if !create {
		return "", fmt.Errorf("%w: feed %q", feed.ErrNotFound, name)
	}

	id := feed.SHA1Hex([]byte(uuid.NewString()))
	b.feedIDs[name] = id
	return id, nil
}

// AppendMessages implements feed.Feeds.AppendMessages
func (b *Backend) AppendMessages(ctx context.Context, feedID, subfeedHash string, messages []json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	key := subfeedKey(feedID, subfeedHash)

	b.mu.Lock()
	b.subfeeds[key] = append(b.subfeeds[key], messages...)
	close(b.changed)
	b.changed = make(chan struct{})
	b.mu.Unlock()

	return nil
}

// GetMessages implements feed.Feeds.GetMessages
func (b *Backend) GetMessages(ctx context.Context, feedID, subfeedHash string, position int) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	msgs := b.subfeeds[subfeedKey(feedID, subfeedHash)]
	if position < 0 {
		position = 0
	}
	if position >= len(msgs) {
		return []json.RawMessage{}, nil
	}

	out := make([]json.RawMessage, len(msgs)-position)
	copy(out, msgs[position:])
	return out, nil
}

// Watch implements feed.Watcher.Watch
func (b *Backend) Watch(ctx context.Context, watches map[string]feed.SubfeedWatch, wait time.Duration) (map[string]int, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		counts, changed, found := b.count(watches)
		if found {
			return counts, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return counts, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// count snapshots the counts and the broadcast channel under one read lock
// so an append between the two cannot be missed.
func (b *Backend) count(watches map[string]feed.SubfeedWatch) (map[string]int, <-chan struct{}, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[string]int, len(watches))
	found := false
	for name, w := range watches {
		n := len(b.subfeeds[subfeedKey(w.FeedID, w.SubfeedHash)]) - w.Position
		if n < 0 {
			n = 0
		}
		if n > 0 {
			found = true
		}
		counts[name] = n
	}
	return counts, b.changed, found
}

// Close implements feed.Backend.Close
func (b *Backend) Close() error {
	return nil
}

// Compile-time interface check
var _ feed.Backend = (*Backend)(nil)
