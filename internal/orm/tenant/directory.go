// Package tenant resolves spaces, the tenant isolation boundary, and the
// store each space keeps its collections in.
package tenant

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/store"
)

// SpacesCollection is the shared collection space records are kept in
const SpacesCollection = "spaces"

// Space is a tenant. A space with a DatabaseURL owns an isolated database;
// otherwise its collections share the common store, qualified by DBKey.
type Space struct {
	ID          string `json:"_id"`
	AccountID   string `json:"accountId,omitempty"`
	DatabaseURL string `json:"databaseUrl,omitempty"`
	DBKey       string `json:"dbKey,omitempty"`
}

// Isolated returns true if the space has its own database
func (s *Space) Isolated() bool {
	return s.DatabaseURL != ""
}

// dbKeyPattern excludes "_", the separator of qualified collection names
var dbKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// ValidateDBKey checks that key can qualify collection names in the shared
// database
func ValidateDBKey(key string) error {
	if !dbKeyPattern.MatchString(key) {
		return ormerrors.NewValidationError(SpacesCollection, "dbKey", "invalid dbKey %q: must match %s", key, dbKeyPattern.String())
	}
	return nil
}

// Validate checks a space before it is stored. A space sharing the common
// database needs a DBKey.
func (s *Space) Validate() error {
	if s.ID == "" {
		return ormerrors.NewValidationError(SpacesCollection, "_id", "is required")
	}
	if s.DBKey == "" {
		if s.Isolated() {
			return nil
		}
		return ormerrors.NewValidationError(SpacesCollection, "dbKey", "space %s shares the common database and needs a dbKey", s.ID)
	}
	return ValidateDBKey(s.DBKey)
}

// Ref identifies a space by id or by the fields of a query
type Ref struct {
	ID        string
	AccountID string
	DBKey     string
}

// ByID returns a Ref selecting a space by id
func ByID(id string) Ref {
	return Ref{ID: id}
}

func (r Ref) empty() bool {
	return r.ID == "" && r.AccountID == "" && r.DBKey == ""
}

func (r Ref) matches(s *Space) bool {
	return (r.ID == "" || r.ID == s.ID) &&
		(r.AccountID == "" || r.AccountID == s.AccountID) &&
		(r.DBKey == "" || r.DBKey == s.DBKey)
}

func (r Ref) String() string {
	if r.ID != "" {
		return r.ID
	}
	return fmt.Sprintf("account=%s dbKey=%s", r.AccountID, r.DBKey)
}

// Directory looks spaces up. Get returns ErrNotFound when no space matches.
type Directory interface {
	Get(ctx context.Context, ref Ref) (*Space, error)
}

func missing(ref Ref) error {
	return fmt.Errorf("space %s: %w", ref, ormerrors.ErrNotFound)
}

// MemoryDirectory is a Directory over an in-process set of spaces
type MemoryDirectory struct {
	mu     sync.RWMutex
	spaces map[string]*Space
}

// NewMemoryDirectory creates a directory holding spaces. It panics if a
// space is invalid.
func NewMemoryDirectory(spaces ...*Space) *MemoryDirectory {
	d := &MemoryDirectory{spaces: make(map[string]*Space)}
	for _, s := range spaces {
		if err := d.Put(s); err != nil {
			panic(err)
		}
	}
	return d
}

// Put adds or replaces a space
func (d *MemoryDirectory) Put(s *Space) error {
	if err := s.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *s
	d.spaces[s.ID] = &cp
	return nil
}

// Get returns the first space matching ref in id order
func (d *MemoryDirectory) Get(ctx context.Context, ref Ref) (*Space, error) {
	if ref.empty() {
		return nil, missing(ref)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.spaces))
	for id := range d.spaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if s := d.spaces[id]; ref.matches(s) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, missing(ref)
}

// StoreDirectory keeps spaces as documents of the shared store
type StoreDirectory struct {
	store store.Store
}

// NewStoreDirectory creates a directory over the spaces collection of st
func NewStoreDirectory(st store.Store) *StoreDirectory {
	return &StoreDirectory{store: st}
}

// Put inserts or replaces a space record
func (d *StoreDirectory) Put(ctx context.Context, s *Space) error {
	if err := s.Validate(); err != nil {
		return err
	}
	doc := spaceDocument(s)
	ok, err := d.store.UpdateOne(ctx, SpacesCollection, store.Filter{store.IDField: s.ID}, doc)
	if err != nil || ok {
		return err
	}
	return d.store.Insert(ctx, SpacesCollection, doc)
}

// Get looks a space up by ref
func (d *StoreDirectory) Get(ctx context.Context, ref Ref) (*Space, error) {
	if ref.empty() {
		return nil, missing(ref)
	}

	filter := store.Filter{}
	if ref.ID != "" {
		filter[store.IDField] = ref.ID
	}
	if ref.AccountID != "" {
		filter["accountId"] = ref.AccountID
	}
	if ref.DBKey != "" {
		filter["dbKey"] = ref.DBKey
	}

	doc, err := d.store.FindOne(ctx, SpacesCollection, filter)
	if ormerrors.IsNotFound(err) {
		return nil, missing(ref)
	}
	if err != nil {
		return nil, err
	}
	return spaceFromDocument(doc), nil
}

func spaceDocument(s *Space) store.Document {
	doc := store.Document{store.IDField: s.ID}
	if s.AccountID != "" {
		doc["accountId"] = s.AccountID
	}
	if s.DatabaseURL != "" {
		doc["databaseUrl"] = s.DatabaseURL
	}
	if s.DBKey != "" {
		doc["dbKey"] = s.DBKey
	}
	return doc
}

func spaceFromDocument(doc store.Document) *Space {
	str := func(key string) string {
		s, _ := doc[key].(string)
		return s
	}
	return &Space{
		ID:          store.ID(doc),
		AccountID:   str("accountId"),
		DatabaseURL: str("databaseUrl"),
		DBKey:       str("dbKey"),
	}
}
