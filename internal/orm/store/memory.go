package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/util/values"
)

type memCollection struct {
	docs    map[string]Document
	indexes []Index
}

// MemoryStore keeps every collection in process memory. Documents are copied
// on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	closed      bool
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) collection(name string, create bool) *memCollection {
	c, ok := s.collections[name]
	if !ok && create {
		c = &memCollection{docs: make(map[string]Document)}
		s.collections[name] = c
	}
	return c
}

func (s *MemoryStore) check(op string) error {
	if s.closed {
		return &ormerrors.StoreUnavailableError{Op: op, Err: errClosed}
	}
	return nil
}

// ensureID assigns a new id to documents inserted without one
func ensureID(doc Document) string {
	id := ID(doc)
	if id == "" {
		id = uuid.NewString()
		doc[IDField] = id
	}
	return id
}

// Insert adds a document
func (s *MemoryStore) Insert(ctx context.Context, coll string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("insert"); err != nil {
		return err
	}

	c := s.collection(coll, true)
	id := ensureID(doc)
	if _, exists := c.docs[id]; exists {
		return &ormerrors.StoreConflictError{Collection: coll, Index: IDField}
	}
	if err := checkUnique(coll, c.indexes, c.list(), doc); err != nil {
		return err
	}
	c.docs[id] = values.CopyDocument(doc)
	return nil
}

func (c *memCollection) list() []Document {
	docs := make([]Document, 0, len(c.docs))
	for _, d := range c.docs {
		docs = append(docs, d)
	}
	sortByID(docs)
	return docs
}

func (c *memCollection) match(filter Filter) []Document {
	var out []Document
	for _, d := range c.list() {
		if Match(d, filter) {
			out = append(out, d)
		}
	}
	return out
}

// FindOne returns the first matching document
func (s *MemoryStore) FindOne(ctx context.Context, coll string, filter Filter) (Document, error) {
	docs, err := s.Find(ctx, coll, filter, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ormerrors.ErrNotFound
	}
	return docs[0], nil
}

// Find returns matching documents
func (s *MemoryStore) Find(ctx context.Context, coll string, filter Filter, opts FindOptions) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("find"); err != nil {
		return nil, err
	}

	c := s.collection(coll, false)
	if c == nil {
		return []Document{}, nil
	}
	matched := page(c.match(filter), opts)
	out := make([]Document, len(matched))
	for i, d := range matched {
		out[i] = values.CopyDocument(d)
	}
	return out, nil
}

// UpdateOne replaces the first matching document. The replacement keeps the
// matched document's id.
func (s *MemoryStore) UpdateOne(ctx context.Context, coll string, filter Filter, doc Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("update"); err != nil {
		return false, err
	}

	c := s.collection(coll, false)
	if c == nil {
		return false, nil
	}
	matched := c.match(filter)
	if len(matched) == 0 {
		return false, nil
	}

	id := ID(matched[0])
	replacement := values.CopyDocument(doc)
	replacement[IDField] = id
	if err := checkUnique(coll, c.indexes, c.list(), replacement); err != nil {
		return false, err
	}
	c.docs[id] = replacement
	return true, nil
}

// DeleteOne removes the first matching document
func (s *MemoryStore) DeleteOne(ctx context.Context, coll string, filter Filter) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("delete"); err != nil {
		return false, err
	}

	c := s.collection(coll, false)
	if c == nil {
		return false, nil
	}
	matched := c.match(filter)
	if len(matched) == 0 {
		return false, nil
	}
	delete(c.docs, ID(matched[0]))
	return true, nil
}

// DeleteMany removes every matching document
func (s *MemoryStore) DeleteMany(ctx context.Context, coll string, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("delete"); err != nil {
		return 0, err
	}

	c := s.collection(coll, false)
	if c == nil {
		return 0, nil
	}
	matched := c.match(filter)
	for _, d := range matched {
		delete(c.docs, ID(d))
	}
	return len(matched), nil
}

// Count returns the number of matching documents
func (s *MemoryStore) Count(ctx context.Context, coll string, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("count"); err != nil {
		return 0, err
	}

	c := s.collection(coll, false)
	if c == nil {
		return 0, nil
	}
	return len(c.match(filter)), nil
}

// CreateIndex registers an index. Creating a unique index over existing
// duplicates fails with a conflict. Recreating an index by name is a no-op.
func (s *MemoryStore) CreateIndex(ctx context.Context, coll string, idx Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("createIndex"); err != nil {
		return err
	}

	c := s.collection(coll, true)
	for _, existing := range c.indexes {
		if existing.Name == idx.Name {
			return nil
		}
	}
	if idx.Unique {
		seen := make(map[string]bool)
		for _, d := range c.list() {
			key, ok := uniqueKey(d, idx.Keys)
			if !ok {
				continue
			}
			if seen[key] {
				return &ormerrors.StoreConflictError{Collection: coll, Index: idx.Name}
			}
			seen[key] = true
		}
	}
	c.indexes = append(c.indexes, idx)
	return nil
}

// Collections lists collection names
func (s *MemoryStore) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("collections"); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Drop removes a collection
func (s *MemoryStore) Drop(ctx context.Context, coll string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("drop"); err != nil {
		return err
	}
	delete(s.collections, coll)
	return nil
}

// Close marks the store unavailable
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
