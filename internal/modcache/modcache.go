// Package modcache persists compiled chunks across CLI invocations, keyed
// by a module's canonical path and a content hash of its source. A module
// whose source hasn't changed since the last run is loaded straight from
// the cache instead of being re-lexed, re-parsed, and re-compiled.
package modcache

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"fmt"

	"golang.org/x/crypto/blake2b"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"regis/internal/bytecode"
)

// Hash is a content hash of a module's source, used as the cache key
// alongside its canonical path.
type Hash [blake2b.Size256]byte

// HashSource hashes src with blake2b-256.
func HashSource(src []byte) Hash {
	return blake2b.Sum256(src)
}

// Cache looks up and stores compiled chunks. Backends that can't reach
// their storage (no cache configured, a transient DB error) should fail
// lookups as misses rather than erroring — a cache is an optimization, not
// a correctness dependency, so Lookup's error return is for "storage is
// broken enough that the caller should know," not "not found."
type Cache interface {
	Lookup(ctx context.Context, canonicalPath string, hash Hash) (*bytecode.Function, bool, error)
	Store(ctx context.Context, canonicalPath string, hash Hash, fn *bytecode.Function) error
	Close() error
}

// NullCache never hits. It's what -cache=none wires up: the loader's code
// path through the cache stays uniform whether or not caching is enabled.
type NullCache struct{}

func (NullCache) Lookup(context.Context, string, Hash) (*bytecode.Function, bool, error) {
	return nil, false, nil
}
func (NullCache) Store(context.Context, string, Hash, *bytecode.Function) error { return nil }
func (NullCache) Close() error                                                  { return nil }

// sqlCache is a database/sql-backed Cache shared by the sqlite and
// postgres backends; they differ only in driver name, DSN, the chunk
// column's type in the schema (BYTEA or BLOB), and their queries'
// placeholder syntax.
type sqlCache struct {
	db        *sql.DB
	placeholder func(n int) string
}

// Open constructs a Cache for backend ("sqlite" or "postgres") against dsn.
// Schema creation is idempotent, so repeated Opens against the same DSN
// are safe.
func Open(backend, dsn string) (Cache, error) {
	switch backend {
	case "", "none":
		return NullCache{}, nil
	case "sqlite":
		return openSQL("sqlite", dsn, func(n int) string { return "?" })
	case "postgres":
		return openSQL("postgres", dsn, func(n int) string { return fmt.Sprintf("$%d", n) })
	default:
		return nil, fmt.Errorf("modcache: unknown backend %q", backend)
	}
}

func openSQL(driver, dsn string, ph func(int) string) (Cache, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("modcache: open %s: %w", driver, err)
	}
	schema := `CREATE TABLE IF NOT EXISTS module_cache (
		canonical_path TEXT NOT NULL,
		content_hash   TEXT NOT NULL,
		chunk          BYTEA NOT NULL,
		PRIMARY KEY (canonical_path, content_hash)
	)`
	if driver == "sqlite" {
		schema = `CREATE TABLE IF NOT EXISTS module_cache (
			canonical_path TEXT NOT NULL,
			content_hash   TEXT NOT NULL,
			chunk          BLOB NOT NULL,
			PRIMARY KEY (canonical_path, content_hash)
		)`
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("modcache: schema setup: %w", err)
	}
	return &sqlCache{db: db, placeholder: ph}, nil
}

func (c *sqlCache) Lookup(ctx context.Context, canonicalPath string, hash Hash) (*bytecode.Function, bool, error) {
	query := fmt.Sprintf(
		"SELECT chunk FROM module_cache WHERE canonical_path = %s AND content_hash = %s",
		c.placeholder(1), c.placeholder(2))
	var blob []byte
	err := c.db.QueryRowContext(ctx, query, canonicalPath, hashHex(hash)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("modcache: lookup: %w", err)
	}
	fn, err := decode(blob)
	if err != nil {
		// A corrupt cache entry is treated as a miss, not an error — the
		// caller just recompiles and Store overwrites it.
		return nil, false, nil
	}
	return fn, true, nil
}

func (c *sqlCache) Store(ctx context.Context, canonicalPath string, hash Hash, fn *bytecode.Function) error {
	blob, err := encode(fn)
	if err != nil {
		return fmt.Errorf("modcache: encode: %w", err)
	}
	var query string
	if c.placeholder(1) == "?" {
		query = `INSERT INTO module_cache (canonical_path, content_hash, chunk) VALUES (?, ?, ?)
			ON CONFLICT (canonical_path, content_hash) DO UPDATE SET chunk = excluded.chunk`
	} else {
		query = `INSERT INTO module_cache (canonical_path, content_hash, chunk) VALUES ($1, $2, $3)
			ON CONFLICT (canonical_path, content_hash) DO UPDATE SET chunk = excluded.chunk`
	}
	if _, err := c.db.ExecContext(ctx, query, canonicalPath, hashHex(hash), blob); err != nil {
		return fmt.Errorf("modcache: store: %w", err)
	}
	return nil
}

func (c *sqlCache) Close() error { return c.db.Close() }

func hashHex(h Hash) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(h)*2)
	for i, b := range h {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xf]
	}
	return string(out)
}

func encode(fn *bytecode.Function) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(fn); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(blob []byte) (*bytecode.Function, error) {
	var fn bytecode.Function
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&fn); err != nil {
		return nil, err
	}
	return &fn, nil
}
