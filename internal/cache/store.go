// Package cache persists conversion results across runs. Entries are keyed
// by (document hash, format, options digest) and expire after a TTL. A small
// in-memory LRU sits in front of the SQLite store so repeated conversions in
// one process never touch disk.
package cache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	corecache "github.com/xats-org/convert/core/cache"
	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/errors"
	"github.com/xats-org/convert/core/sqlite"
	"github.com/xats-org/convert/core/xats"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversions (
	key        TEXT PRIMARY KEY,
	format     TEXT NOT NULL,
	content    TEXT NOT NULL,
	encoding   TEXT NOT NULL,
	fidelity   REAL NOT NULL,
	word_count INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversions_created_at ON conversions(created_at);
`

// Entry is one cached conversion result.
type Entry struct {
	Key       string
	Format    string
	Content   string
	Encoding  string
	Fidelity  float64
	WordCount int
	CreatedAt time.Time
}

// Key derives the cache key for a conversion: the BLAKE3 digest of the
// document hash, the target format, and the option set in sorted order.
// Any option change produces a new key.
func Key(docHash, format string, options map[string]string) string {
	var sb strings.Builder
	sb.WriteString(docHash)
	sb.WriteByte(0)
	sb.WriteString(format)

	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteByte(0)
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(options[name])
	}
	return xats.HashBytes([]byte(sb.String()))
}

// Store is a persistent conversion cache.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	mem corecache.Cache[string, *Entry]
}

// Open opens (creating if needed) the cache database at path. A zero TTL
// disables expiry.
func Open(path string, ttl time.Duration) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.NewIO("mkdir", dir, err)
		}
	}

	db, err := sqlite.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing cache schema")
	}

	return &Store{
		db:  db,
		ttl: ttl,
		mem: corecache.NewLRUCache[string, *Entry](corecache.Config{MaxSize: 256, TTL: ttl}),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves a cached entry. A stale row is deleted on read and treated
// as a miss.
func (s *Store) Get(ctx context.Context, key string) (*Entry, bool, error) {
	if e, ok := s.mem.Get(key); ok {
		return e, true, nil
	}

	e := &Entry{Key: key}
	var created int64
	row := s.db.QueryRowContext(ctx,
		`SELECT format, content, encoding, fidelity, word_count, created_at
		 FROM conversions WHERE key = ?`, key)
	err := row.Scan(&e.Format, &e.Content, &e.Encoding, &e.Fidelity, &e.WordCount, &created)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "reading cache entry")
	}
	e.CreatedAt = time.Unix(created, 0)

	if s.expired(e.CreatedAt) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE key = ?`, key); err != nil {
			return nil, false, errors.Wrap(err, "deleting stale cache entry")
		}
		return nil, false, nil
	}

	s.mem.Put(key, e)
	return e, true, nil
}

// Put stores an entry, replacing any previous result under the same key.
func (s *Store) Put(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO conversions (key, format, content, encoding, fidelity, word_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Format, e.Content, e.Encoding, e.Fidelity, e.WordCount, e.CreatedAt.Unix())
	if err != nil {
		return errors.Wrap(err, "writing cache entry")
	}
	s.mem.Put(e.Key, e)
	return nil
}

// Prune deletes every expired row and reports how many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.ttl == 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.ttl).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE created_at <= ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "pruning cache")
	}
	return res.RowsAffected()
}

// Len reports the number of rows currently stored, expired or not.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversions`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "counting cache entries")
	}
	return n, nil
}

func (s *Store) expired(created time.Time) bool {
	return s.ttl > 0 && time.Since(created) >= s.ttl
}

// Render renders doc with c, consulting the cache first. The returned bool
// reports whether the result came from the cache. Only successful renders
// are stored; a cached entry is rehydrated into a RenderResult without
// re-running the converter.
func (s *Store) Render(ctx context.Context, c converter.Interface, doc *xats.Document, options map[string]string) (*converter.RenderResult, bool, error) {
	docHash, err := doc.Hash()
	if err != nil {
		return nil, false, errors.Wrap(err, "hashing document")
	}
	key := Key(docHash, c.Format(), options)

	if e, ok, err := s.Get(ctx, key); err != nil {
		return nil, false, err
	} else if ok {
		return &converter.RenderResult{
			Content: e.Content,
			Metadata: converter.RenderMetadata{
				Format:    e.Format,
				Encoding:  converter.Encoding(e.Encoding),
				WordCount: e.WordCount,
			},
		}, true, nil
	}

	result := c.Render(doc)
	if result.OK() {
		err := s.Put(ctx, &Entry{
			Key:       key,
			Format:    result.Metadata.Format,
			Content:   result.Content,
			Encoding:  string(result.Metadata.Encoding),
			WordCount: result.Metadata.WordCount,
		})
		if err != nil {
			return nil, false, err
		}
	}
	return result, false, nil
}
