package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
)

const (
	internalPrefix = "__"
	indexesBucket  = "__indexes__"
)

// BoltStore keeps one bucket per collection keyed by document id. Each unique
// index has its own bucket mapping the encoded key to the owning id, so
// collisions are detected inside the write transaction.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates a bolt database file
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, &ormerrors.StoreUnavailableError{Op: "open", Err: err}
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(indexesBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize bolt store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func indexBucketName(coll, index string) []byte {
	return []byte(internalPrefix + "idx__" + coll + "__" + index)
}

func indexMetaPrefix(coll string) []byte {
	return []byte(coll + "\x00")
}

func (s *BoltStore) indexes(tx *bolt.Tx, coll string) ([]Index, error) {
	meta := tx.Bucket([]byte(indexesBucket))
	if meta == nil {
		return nil, nil
	}
	prefix := indexMetaPrefix(coll)
	var out []Index
	c := meta.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var idx Index
		if err := json.Unmarshal(v, &idx); err != nil {
			return nil, fmt.Errorf("corrupt index metadata %q: %w", k, err)
		}
		out = append(out, idx)
	}
	return out, nil
}

func (s *BoltStore) putIndexKeys(tx *bolt.Tx, coll string, indexes []Index, doc Document) error {
	id := []byte(ID(doc))
	for _, idx := range indexes {
		if !idx.Unique {
			continue
		}
		key, ok := uniqueKey(doc, idx.Keys)
		if !ok {
			continue
		}
		b, err := tx.CreateBucketIfNotExists(indexBucketName(coll, idx.Name))
		if err != nil {
			return err
		}
		if owner := b.Get([]byte(key)); owner != nil && !bytes.Equal(owner, id) {
			return &ormerrors.StoreConflictError{Collection: coll, Index: idx.Name}
		}
		if err := b.Put([]byte(key), id); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) removeIndexKeys(tx *bolt.Tx, coll string, indexes []Index, doc Document) error {
	id := []byte(ID(doc))
	for _, idx := range indexes {
		if !idx.Unique {
			continue
		}
		key, ok := uniqueKey(doc, idx.Keys)
		if !ok {
			continue
		}
		b := tx.Bucket(indexBucketName(coll, idx.Name))
		if b == nil {
			continue
		}
		if owner := b.Get([]byte(key)); bytes.Equal(owner, id) {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *BoltStore) scan(tx *bolt.Tx, coll string, filter Filter) ([]Document, error) {
	b := tx.Bucket([]byte(coll))
	if b == nil {
		return nil, nil
	}

	var out []Document
	visit := func(v []byte) error {
		doc, err := decode(v)
		if err != nil {
			return fmt.Errorf("failed to decode document in %s: %w", coll, err)
		}
		if Match(doc, filter) {
			out = append(out, doc)
		}
		return nil
	}

	if id, ok := filter[IDField].(string); ok {
		if v := b.Get([]byte(id)); v != nil {
			if err := visit(v); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	err := b.ForEach(func(_, v []byte) error { return visit(v) })
	return out, err
}

// Insert adds a document
func (s *BoltStore) Insert(ctx context.Context, coll string, doc Document) error {
	if strings.HasPrefix(coll, internalPrefix) {
		return ormerrors.NewValidationError("", "collection", "reserved collection name %q", coll)
	}
	id := ensureID(doc)
	data, err := encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(coll))
		if err != nil {
			return err
		}
		if b.Get([]byte(id)) != nil {
			return &ormerrors.StoreConflictError{Collection: coll, Index: IDField}
		}
		indexes, err := s.indexes(tx, coll)
		if err != nil {
			return err
		}
		if err := s.putIndexKeys(tx, coll, indexes, doc); err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	return ConvertStoreError("insert", coll, err)
}

// FindOne returns the first matching document
func (s *BoltStore) FindOne(ctx context.Context, coll string, filter Filter) (Document, error) {
	docs, err := s.Find(ctx, coll, filter, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ormerrors.ErrNotFound
	}
	return docs[0], nil
}

// Find returns matching documents in id order
func (s *BoltStore) Find(ctx context.Context, coll string, filter Filter, opts FindOptions) ([]Document, error) {
	var docs []Document
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		docs, err = s.scan(tx, coll, filter)
		return err
	})
	if err != nil {
		return nil, ConvertStoreError("find", coll, err)
	}
	if docs == nil {
		docs = []Document{}
	}
	return page(docs, opts), nil
}

// UpdateOne replaces the first matching document in a single transaction
func (s *BoltStore) UpdateOne(ctx context.Context, coll string, filter Filter, doc Document) (bool, error) {
	matched := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		docs, err := s.scan(tx, coll, filter)
		if err != nil || len(docs) == 0 {
			return err
		}
		old := docs[0]
		replacement := make(Document, len(doc)+1)
		for k, v := range doc {
			replacement[k] = v
		}
		replacement[IDField] = ID(old)

		indexes, err := s.indexes(tx, coll)
		if err != nil {
			return err
		}
		if err := s.removeIndexKeys(tx, coll, indexes, old); err != nil {
			return err
		}
		if err := s.putIndexKeys(tx, coll, indexes, replacement); err != nil {
			return err
		}
		data, err := encode(replacement)
		if err != nil {
			return err
		}
		matched = true
		return tx.Bucket([]byte(coll)).Put([]byte(ID(old)), data)
	})
	if err != nil {
		return false, ConvertStoreError("update", coll, err)
	}
	return matched, nil
}

func (s *BoltStore) delete(coll string, filter Filter, limit int) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		docs, err := s.scan(tx, coll, filter)
		if err != nil || len(docs) == 0 {
			return err
		}
		if limit > 0 && len(docs) > limit {
			docs = docs[:limit]
		}
		indexes, err := s.indexes(tx, coll)
		if err != nil {
			return err
		}
		b := tx.Bucket([]byte(coll))
		for _, doc := range docs {
			if err := s.removeIndexKeys(tx, coll, indexes, doc); err != nil {
				return err
			}
			if err := b.Delete([]byte(ID(doc))); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, ConvertStoreError("delete", coll, err)
	}
	return deleted, nil
}

// DeleteOne removes the first matching document
func (s *BoltStore) DeleteOne(ctx context.Context, coll string, filter Filter) (bool, error) {
	n, err := s.delete(coll, filter, 1)
	return n > 0, err
}

// DeleteMany removes every matching document
func (s *BoltStore) DeleteMany(ctx context.Context, coll string, filter Filter) (int, error) {
	return s.delete(coll, filter, 0)
}

// Count returns the number of matching documents
func (s *BoltStore) Count(ctx context.Context, coll string, filter Filter) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		if len(filter) == 0 {
			if b := tx.Bucket([]byte(coll)); b != nil {
				n = b.Stats().KeyN
			}
			return nil
		}
		docs, err := s.scan(tx, coll, filter)
		n = len(docs)
		return err
	})
	return n, ConvertStoreError("count", coll, err)
}

// CreateIndex records the index and, for unique indexes, builds its key bucket
func (s *BoltStore) CreateIndex(ctx context.Context, coll string, idx Index) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(indexesBucket))
		metaKey := append(indexMetaPrefix(coll), idx.Name...)
		if meta.Get(metaKey) != nil {
			return nil
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(coll)); err != nil {
			return err
		}

		if idx.Unique {
			docs, err := s.scan(tx, coll, nil)
			if err != nil {
				return err
			}
			for _, doc := range docs {
				if err := s.putIndexKeys(tx, coll, []Index{idx}, doc); err != nil {
					return err
				}
			}
		}

		data, err := json.Marshal(idx)
		if err != nil {
			return err
		}
		return meta.Put(metaKey, data)
	})
	return ConvertStoreError("createIndex", coll, err)
}

// Collections lists collection buckets
func (s *BoltStore) Collections(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if !bytes.HasPrefix(name, []byte(internalPrefix)) {
				names = append(names, string(name))
			}
			return nil
		})
	})
	return names, ConvertStoreError("collections", "", err)
}

// Drop removes the collection bucket, its index buckets and index metadata
func (s *BoltStore) Drop(ctx context.Context, coll string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		indexes, err := s.indexes(tx, coll)
		if err != nil {
			return err
		}
		meta := tx.Bucket([]byte(indexesBucket))
		for _, idx := range indexes {
			if err := tx.DeleteBucket(indexBucketName(coll, idx.Name)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			if err := meta.Delete(append(indexMetaPrefix(coll), idx.Name...)); err != nil {
				return err
			}
		}
		if err := tx.DeleteBucket([]byte(coll)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		return nil
	})
	return ConvertStoreError("drop", coll, err)
}

// Close closes the database file
func (s *BoltStore) Close() error {
	return s.db.Close()
}
