// Package store defines the document store the engine persists models into
// and its memory, SQL and bolt implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/util/values"
)

// IDField is the primary key of every stored document
const IDField = "_id"

// Document is a stored document
type Document = map[string]interface{}

// Filter selects documents by field equality. A nil value matches documents
// where the field is missing or null.
type Filter map[string]interface{}

// Contains matches documents whose array field holds Value
type Contains struct {
	Value interface{}
}

// In matches documents whose field equals one of Values
type In struct {
	Values []interface{}
}

// Index describes a secondary index on a collection
type Index struct {
	Name   string
	Keys   []string
	Unique bool
}

// FindOptions limits a Find
type FindOptions struct {
	Skip  int
	Limit int
}

// Store is the document store contract. Every call is an independent
// operation: there are no multi-document transactions.
type Store interface {
	// Insert adds a document; a duplicate _id or unique key is a StoreConflictError
	Insert(ctx context.Context, coll string, doc Document) error
	// FindOne returns the first match or ErrNotFound
	FindOne(ctx context.Context, coll string, filter Filter) (Document, error)
	// Find returns matches ordered by _id
	Find(ctx context.Context, coll string, filter Filter, opts FindOptions) ([]Document, error)
	// UpdateOne replaces the first match and reports whether one was found
	UpdateOne(ctx context.Context, coll string, filter Filter, doc Document) (bool, error)
	// DeleteOne removes the first match and reports whether one was found
	DeleteOne(ctx context.Context, coll string, filter Filter) (bool, error)
	// DeleteMany removes every match and returns the number removed
	DeleteMany(ctx context.Context, coll string, filter Filter) (int, error)
	Count(ctx context.Context, coll string, filter Filter) (int, error)
	CreateIndex(ctx context.Context, coll string, idx Index) error
	// Collections lists the collection names present in the store
	Collections(ctx context.Context) ([]string, error)
	// Drop removes a collection and its indexes; dropping a missing collection is not an error
	Drop(ctx context.Context, coll string) error
	Close() error
}

// Match reports whether doc satisfies every clause of filter
func Match(doc Document, filter Filter) bool {
	for key, want := range filter {
		got, present := doc[key]
		switch w := want.(type) {
		case nil:
			if present && got != nil {
				return false
			}
		case Contains:
			if !values.Contains(got, w.Value) {
				return false
			}
		case In:
			found := false
			for _, v := range w.Values {
				if values.Equal(got, v) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if !present || !values.Equal(got, want) {
				return false
			}
		}
	}
	return true
}

// ID returns the document id as a string
func ID(doc Document) string {
	if doc == nil {
		return ""
	}
	switch id := doc[IDField].(type) {
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// uniqueKey encodes the index key of doc. Documents missing any key field are
// not indexed.
func uniqueKey(doc Document, keys []string) (string, bool) {
	parts := make([]interface{}, len(keys))
	for i, k := range keys {
		v, ok := doc[k]
		if !ok || v == nil {
			return "", false
		}
		if f, isNum := values.ToFloat64(v); isNum {
			v = f
		}
		parts[i] = v
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// checkUnique fails if doc collides with another document on a unique index
func checkUnique(coll string, indexes []Index, docs []Document, doc Document) error {
	self := ID(doc)
	for _, idx := range indexes {
		if !idx.Unique {
			continue
		}
		key, ok := uniqueKey(doc, idx.Keys)
		if !ok {
			continue
		}
		for _, other := range docs {
			if ID(other) == self {
				continue
			}
			if otherKey, ok := uniqueKey(other, idx.Keys); ok && otherKey == key {
				return &ormerrors.StoreConflictError{Collection: coll, Index: idx.Name}
			}
		}
	}
	return nil
}

func page(docs []Document, opts FindOptions) []Document {
	if opts.Skip > 0 {
		if opts.Skip >= len(docs) {
			return []Document{}
		}
		docs = docs[opts.Skip:]
	}
	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs
}

func sortByID(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool { return ID(docs[i]) < ID(docs[j]) })
}

// encode and decode move documents through JSON. Decoded numbers are float64.
func encode(doc Document) ([]byte, error) {
	return json.Marshal(doc)
}

func decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
