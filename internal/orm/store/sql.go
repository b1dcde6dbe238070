package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	// postgres driver registered as "pgx"
	_ "github.com/jackc/pgx/v5/stdlib"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
)

// Dialect holds the SQL differences between the supported databases
type Dialect struct {
	Name       string
	DriverName string
	DocType    string
	ListTables string
	HasTable   string
	// Placeholder returns the bind parameter for position n (1-based)
	Placeholder func(n int) string
	// FieldExpr returns the expression extracting a top-level field of doc
	FieldExpr func(field string) string
	// TypedFields is set when FieldExpr keeps the JSON type, so a string
	// parameter never equals a number or a boolean
	TypedFields bool
}

// SQLite stores documents as JSON text and indexes them with json_extract
var SQLite = Dialect{
	Name:        "sqlite",
	DriverName:  "sqlite3",
	DocType:     "TEXT",
	ListTables:  "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name",
	HasTable:    "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
	Placeholder: func(int) string { return "?" },
	FieldExpr: func(field string) string {
		return fmt.Sprintf("json_extract(doc, '$.%s')", escapeLiteral(field))
	},
	TypedFields: true,
}

// Postgres stores documents as JSONB
var Postgres = Dialect{
	Name:        "postgres",
	DriverName:  "pgx",
	DocType:     "JSONB",
	ListTables:  "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name",
	HasTable:    "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	FieldExpr: func(field string) string {
		return fmt.Sprintf("(doc->>'%s')", escapeLiteral(field))
	},
}

// DialectByName returns the dialect registered under name
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unsupported SQL dialect %q", name)
}

// SQLStore keeps one table per collection with the document serialized in a
// single column. Unique indexes are expression indexes so the database
// enforces them. String equality filters run in SQL; the rest are evaluated
// in Go.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect

	mu     sync.RWMutex
	tables map[string]bool
}

// OpenSQL opens and pings a database
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", dialect.Name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ormerrors.StoreUnavailableError{Op: "open", Err: err}
	}
	return NewSQLStore(db, dialect), nil
}

// NewSQLStore wraps an open database
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, tables: make(map[string]bool)}
}

func quoteIdent(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "\"\x00") {
		return "", ormerrors.NewValidationError("", "collection", "invalid collection name %q", name)
	}
	return `"` + name + `"`, nil
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func (s *SQLStore) ensureTable(ctx context.Context, coll string) (string, error) {
	table, err := quoteIdent(coll)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	known := s.tables[coll]
	s.mu.RUnlock()
	if known {
		return table, nil
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (_id TEXT PRIMARY KEY, doc %s NOT NULL)", table, s.dialect.DocType)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return "", ConvertStoreError("createCollection", coll, err)
	}

	s.mu.Lock()
	s.tables[coll] = true
	s.mu.Unlock()
	return table, nil
}

func (s *SQLStore) hasTable(ctx context.Context, coll string) (bool, error) {
	s.mu.RLock()
	known := s.tables[coll]
	s.mu.RUnlock()
	if known {
		return true, nil
	}

	var n int
	if err := s.db.QueryRowContext(ctx, s.dialect.HasTable, coll).Scan(&n); err != nil {
		return false, ConvertStoreError("find", coll, err)
	}
	if n > 0 {
		s.mu.Lock()
		s.tables[coll] = true
		s.mu.Unlock()
	}
	return n > 0, nil
}

type sqlRow struct {
	raw string
	doc Document
}

// pushdownField matches keys that are safe inside a JSON path
var pushdownField = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// where translates the string equality clauses of filter into a WHERE
// clause. complete reports whether SQL alone decides the match.
func (s *SQLStore) where(filter Filter) (clause string, args []interface{}, complete bool) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	complete = true
	var conds []string
	for _, key := range keys {
		v, ok := filter[key].(string)
		if !ok || !pushdownField.MatchString(key) {
			complete = false
			continue
		}
		expr := "_id"
		if key != IDField {
			expr = s.dialect.FieldExpr(key)
			complete = complete && s.dialect.TypedFields
		}
		args = append(args, v)
		conds = append(conds, expr+" = "+s.dialect.Placeholder(len(args)))
	}
	if len(conds) == 0 {
		return "", nil, complete
	}
	return " WHERE " + strings.Join(conds, " AND "), args, complete
}

// scan loads the documents of coll matching filter in id order
func (s *SQLStore) scan(ctx context.Context, coll string, filter Filter) ([]sqlRow, error) {
	ok, err := s.hasTable(ctx, coll)
	if err != nil || !ok {
		return nil, err
	}
	table, err := quoteIdent(coll)
	if err != nil {
		return nil, err
	}

	clause, args, _ := s.where(filter)
	query := "SELECT doc FROM " + table + clause + " ORDER BY _id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ConvertStoreError("find", coll, err)
	}
	defer rows.Close()

	var out []sqlRow
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, ConvertStoreError("find", coll, err)
		}
		doc, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode document in %s: %w", coll, err)
		}
		if Match(doc, filter) {
			out = append(out, sqlRow{raw: string(raw), doc: doc})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, ConvertStoreError("find", coll, err)
	}
	return out, nil
}

// Insert adds a document
func (s *SQLStore) Insert(ctx context.Context, coll string, doc Document) error {
	table, err := s.ensureTable(ctx, coll)
	if err != nil {
		return err
	}
	id := ensureID(doc)
	data, err := encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO %s (_id, doc) VALUES (%s, %s)", table, s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	if _, err := s.db.ExecContext(ctx, query, id, string(data)); err != nil {
		return ConvertStoreError("insert", coll, err)
	}
	return nil
}

// FindOne returns the first matching document
func (s *SQLStore) FindOne(ctx context.Context, coll string, filter Filter) (Document, error) {
	rows, err := s.scan(ctx, coll, filter)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ormerrors.ErrNotFound
	}
	return rows[0].doc, nil
}

// Find returns matching documents
func (s *SQLStore) Find(ctx context.Context, coll string, filter Filter, opts FindOptions) ([]Document, error) {
	rows, err := s.scan(ctx, coll, filter)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	return page(docs, opts), nil
}

// UpdateOne replaces the first matching document. The write is conditional
// on the stored document being unchanged since it was read.
func (s *SQLStore) UpdateOne(ctx context.Context, coll string, filter Filter, doc Document) (bool, error) {
	rows, err := s.scan(ctx, coll, filter)
	if err != nil || len(rows) == 0 {
		return false, err
	}
	table, err := quoteIdent(coll)
	if err != nil {
		return false, err
	}

	id := ID(rows[0].doc)
	replacement := make(Document, len(doc)+1)
	for k, v := range doc {
		replacement[k] = v
	}
	replacement[IDField] = id
	data, err := encode(replacement)
	if err != nil {
		return false, fmt.Errorf("failed to encode document: %w", err)
	}

	p := s.dialect.Placeholder
	query := fmt.Sprintf("UPDATE %s SET doc = %s WHERE _id = %s AND doc = %s", table, p(1), p(2), p(3))
	res, err := s.db.ExecContext(ctx, query, string(data), id, rows[0].raw)
	if err != nil {
		return false, ConvertStoreError("update", coll, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, ConvertStoreError("update", coll, err)
	}
	return n > 0, nil
}

func (s *SQLStore) deleteIDs(ctx context.Context, coll string, ids []string) (int, error) {
	table, err := quoteIdent(coll)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE _id = %s", table, s.dialect.Placeholder(1))

	deleted := 0
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, query, id)
		if err != nil {
			return deleted, ConvertStoreError("delete", coll, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, ConvertStoreError("delete", coll, err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// DeleteOne removes the first matching document
func (s *SQLStore) DeleteOne(ctx context.Context, coll string, filter Filter) (bool, error) {
	rows, err := s.scan(ctx, coll, filter)
	if err != nil || len(rows) == 0 {
		return false, err
	}
	n, err := s.deleteIDs(ctx, coll, []string{ID(rows[0].doc)})
	return n > 0, err
}

// DeleteMany removes every matching document
func (s *SQLStore) DeleteMany(ctx context.Context, coll string, filter Filter) (int, error) {
	rows, err := s.scan(ctx, coll, filter)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = ID(r.doc)
	}
	return s.deleteIDs(ctx, coll, ids)
}

// Count returns the number of matching documents
func (s *SQLStore) Count(ctx context.Context, coll string, filter Filter) (int, error) {
	clause, args, complete := s.where(filter)
	if !complete {
		rows, err := s.scan(ctx, coll, filter)
		return len(rows), err
	}

	ok, err := s.hasTable(ctx, coll)
	if err != nil || !ok {
		return 0, err
	}
	table, err := quoteIdent(coll)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+clause, args...).Scan(&n); err != nil {
		return 0, ConvertStoreError("count", coll, err)
	}
	return n, nil
}

// CreateIndex creates an expression index over the document fields
func (s *SQLStore) CreateIndex(ctx context.Context, coll string, idx Index) error {
	table, err := s.ensureTable(ctx, coll)
	if err != nil {
		return err
	}
	name, err := quoteIdent(coll + "__" + idx.Name)
	if err != nil {
		return err
	}

	exprs := make([]string, len(idx.Keys))
	for i, key := range idx.Keys {
		if key == IDField {
			exprs[i] = "_id"
			continue
		}
		exprs[i] = s.dialect.FieldExpr(key)
	}

	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	ddl := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)", unique, name, table, strings.Join(exprs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return ConvertStoreError("createIndex", coll, err)
	}
	return nil
}

// Collections lists the tables of the database
func (s *SQLStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.ListTables)
	if err != nil {
		return nil, ConvertStoreError("collections", "", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ConvertStoreError("collections", "", err)
		}
		names = append(names, name)
	}
	return names, ConvertStoreError("collections", "", rows.Err())
}

// Drop removes the collection table and its indexes
func (s *SQLStore) Drop(ctx context.Context, coll string) error {
	table, err := quoteIdent(coll)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return ConvertStoreError("drop", coll, err)
	}

	s.mu.Lock()
	delete(s.tables, coll)
	s.mu.Unlock()
	return nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}
