package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
)

func unixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// LevelBackend persists entries in a local leveldb database. This is the
// default backend: the dashboard restarts with whatever (possibly stale)
// entries the previous run left behind, mirroring how the page survives
// upstream outages.
type LevelBackend struct {
	db *leveldb.DB
}

// levelEntry is the gob wire form of an Entry.
type levelEntry struct {
	Payload   []byte
	FetchedAt int64 // unix nanoseconds, UTC
}

// NewLevelBackend opens (creating if needed) a leveldb database at path.
func NewLevelBackend(path string) (*LevelBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	return &LevelBackend{db: db}, nil
}

// Load returns the stored entry for a fingerprint.
func (l *LevelBackend) Load(fingerprint string) (Entry, bool, error) {
	raw, err := l.db.Get([]byte(fingerprint), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var le levelEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&le); err != nil {
		// A corrupt record is dropped rather than surfaced; the loader
		// path will replace it.
		_ = l.db.Delete([]byte(fingerprint), nil)
		return Entry{}, false, nil
	}

	return Entry{
		Fingerprint: fingerprint,
		Payload:     le.Payload,
		FetchedAt:   unixNano(le.FetchedAt),
	}, true, nil
}

// Store persists an entry, replacing any existing one.
func (l *LevelBackend) Store(entry Entry) error {
	var buf bytes.Buffer
	le := levelEntry{
		Payload:   entry.Payload,
		FetchedAt: entry.FetchedAt.UTC().UnixNano(),
	}
	if err := gob.NewEncoder(&buf).Encode(le); err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := l.db.Put([]byte(entry.Fingerprint), buf.Bytes(), nil); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (l *LevelBackend) Close() error {
	return l.db.Close()
}
