package tenant

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/conduit-lang/docengine/internal/orm/store"
)

// Opener opens the store behind a database url
type Opener func(ctx context.Context, url string) (store.Store, error)

// Connections hands out the store a space keeps its collections in. Spaces
// without a database url share one store; isolated spaces get a store per
// url, opened once and reused.
type Connections struct {
	shared store.Store
	open   Opener
	logger *zap.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	stores map[string]store.Store
}

// NewConnections creates the connection table. A nil opener uses store.OpenURL.
func NewConnections(shared store.Store, open Opener, logger *zap.Logger) *Connections {
	if open == nil {
		open = store.OpenURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connections{
		shared: shared,
		open:   open,
		logger: logger,
		stores: make(map[string]store.Store),
	}
}

// Shared returns the common store
func (c *Connections) Shared() store.Store {
	return c.shared
}

// Store returns the store for a space, the shared store for nil
func (c *Connections) Store(ctx context.Context, space *Space) (store.Store, error) {
	if space == nil || !space.Isolated() {
		return c.shared, nil
	}
	url := space.DatabaseURL

	c.mu.RLock()
	s, ok := c.stores[url]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := c.group.Do(url, func() (interface{}, error) {
		c.mu.RLock()
		s, ok := c.stores[url]
		c.mu.RUnlock()
		if ok {
			return s, nil
		}

		s, err := c.open(ctx, url)
		if err != nil {
			return nil, err
		}
		c.logger.Info("opened space database", zap.String("space", space.ID))

		c.mu.Lock()
		c.stores[url] = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(store.Store), nil
}

// Close closes every opened space store and the shared store
func (c *Connections) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for url, s := range c.stores {
		err = multierr.Append(err, s.Close())
		delete(c.stores, url)
	}
	if c.shared != nil {
		err = multierr.Append(err, c.shared.Close())
	}
	return err
}
