// Package feed defines the content-addressed store and the subfeed messaging
// contract used by the worker session. Implementations live in subpackages.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a stored object or feed does not exist
	ErrNotFound = errors.New("feed: not found")

	// ErrUnsupportedHash is returned when a hash URI uses an algorithm other than sha1
	ErrUnsupportedHash = errors.New("feed: unsupported hash algorithm")

	// ErrInvalidURI is returned for malformed feed:// or sha1:// URIs
	ErrInvalidURI = errors.New("feed: invalid uri")
)

// SubfeedWatch identifies a position in a subfeed to watch from
type SubfeedWatch struct {
	FeedID      string
	SubfeedHash string
	Position    int
}

// Store persists canonical JSON under its content hash.
type Store interface {
	// StoreJSON stores canonical JSON and returns a hash URI (sha1://<hash>/object.json)
	StoreJSON(ctx context.Context, canonical []byte) (string, error)

	// LoadJSON returns the bytes previously stored under sha1
	LoadJSON(ctx context.Context, sha1 string) ([]byte, error)
}

// Watcher reports new subfeed messages for a batch of watches.
type Watcher interface {
	// Watch returns, for every watch name, the number of messages at or after
	// the watch position. It returns as soon as at least one count is positive
	// or wait has elapsed; it never blocks longer than wait.
	Watch(ctx context.Context, watches map[string]SubfeedWatch, wait time.Duration) (map[string]int, error)
}

// Feeds manages feed identities and subfeed contents.
type Feeds interface {
	FeedID(ctx context.Context, name string, create bool) (string, error)
	AppendMessages(ctx context.Context, feedID, subfeedHash string, messages []json.RawMessage) error
	GetMessages(ctx context.Context, feedID, subfeedHash string, position int) ([]json.RawMessage, error)
}

// Backend is the full feed/store surface.
type Backend interface {
	Store
	Watcher
	Feeds
	Close() error
}
