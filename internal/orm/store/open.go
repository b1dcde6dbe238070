package store

import (
	"context"
	"fmt"
	"strings"
)

// Open creates a store for a driver name: memory, bolt, sqlite or postgres
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "bolt", "bbolt":
		return OpenBolt(dsn)
	}

	dialect, err := DialectByName(strings.ToLower(driver))
	if err != nil {
		return nil, err
	}
	return OpenSQL(ctx, dialect, dsn)
}

// OpenURL opens a store from a tenant database url. postgres:// urls use
// the postgres dialect, sqlite:// and bolt:// urls name a local file and
// memory:// creates an isolated in-process store.
func OpenURL(ctx context.Context, url string) (Store, error) {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return nil, fmt.Errorf("database url %q has no scheme", url)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return Open(ctx, "postgres", url)
	case "sqlite", "sqlite3", "file":
		return Open(ctx, "sqlite", rest)
	case "bolt":
		return Open(ctx, "bolt", rest)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported database url scheme %q", scheme)
}
