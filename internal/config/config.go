// Package config assembles one interpreter run's settings: the entry
// script, the module-cache backend, and the execution limits the CLI's
// flags (and their environment-variable overrides) select, mirroring the
// teacher's flag-based cmd/avenir CLI.
package config

import (
	"flag"
	"fmt"
	"os"
)

// Default call-stack depth. The teacher has no such limit (its resolver
// rejects unbounded recursion only by running out of memory); this
// interpreter bounds it explicitly so a runaway recursive script fails
// with a clean diagnostic instead of an OOM kill.
const DefaultMaxCallDepth = 4096

// Config is one fully-resolved run configuration.
type Config struct {
	EntryPath    string
	CacheBackend string // "none", "sqlite", "postgres"
	CacheDSN     string
	MaxCallDepth int
}

// Parse builds a Config from CLI args, with REGIS_CACHE/REGIS_CACHE_DSN
// environment variables as fallbacks for any flag the caller didn't pass —
// flags win when both are set.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("regis", flag.ContinueOnError)

	backend := fs.String("cache", envOr("REGIS_CACHE", "none"), "module cache backend: none|sqlite|postgres")
	dsn := fs.String("cache-dsn", os.Getenv("REGIS_CACHE_DSN"), "data source name for the cache backend")
	maxDepth := fs.Int("max-call-depth", DefaultMaxCallDepth, "maximum call-stack depth; a call beyond it fails the run")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one script path, got %d", fs.NArg())
	}

	switch *backend {
	case "none", "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unknown -cache %q (want none, sqlite, or postgres)", *backend)
	}
	if *backend != "none" && *dsn == "" {
		return nil, fmt.Errorf("-cache=%s requires -cache-dsn", *backend)
	}

	return &Config{
		EntryPath:    fs.Arg(0),
		CacheBackend: *backend,
		CacheDSN:     *dsn,
		MaxCallDepth: *maxDepth,
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
