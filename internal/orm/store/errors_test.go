package store

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
)

func TestConvertStoreError(t *testing.T) {
	assert.NoError(t, ConvertStoreError("find", "notes", nil))
	assert.Equal(t, ormerrors.ErrNotFound, ConvertStoreError("find", "notes", sql.ErrNoRows))

	err := ConvertStoreError("insert", "notes", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})
	assert.True(t, ormerrors.IsConflict(err))

	err = ConvertStoreError("insert", "notes", &pgconn.PgError{Code: "23505", ConstraintName: "notes__email_unique"})
	var conflict *ormerrors.StoreConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "notes__email_unique", conflict.Index)
	assert.Equal(t, "notes", conflict.Collection)

	err = ConvertStoreError("find", "notes", &net.OpError{Op: "dial", Err: errors.New("connection refused")})
	assert.True(t, ormerrors.IsUnavailable(err))

	err = ConvertStoreError("find", "notes", errors.New("boom"))
	assert.False(t, ormerrors.IsUnavailable(err))
	assert.False(t, ormerrors.IsConflict(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestSQLStore_UnavailableDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db, SQLite)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM sqlite_master")).
		WithArgs("notes").
		WillReturnError(&net.OpError{Op: "read", Err: errors.New("connection reset")})

	_, err = s.Find(context.Background(), "notes", nil, FindOptions{})
	assert.True(t, ormerrors.IsUnavailable(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PostgresUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db, Postgres)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "users" (_id TEXT PRIMARY KEY, doc JSONB NOT NULL)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "users" (_id, doc) VALUES ($1, $2)`)).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users__email_unique"})

	err = s.Insert(context.Background(), "users", Document{"_id": "u1", "email": "a@example.com"})
	var conflict *ormerrors.StoreConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "users__email_unique", conflict.Index)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PostgresIndexDDL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db, Postgres)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "users"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE UNIQUE INDEX IF NOT EXISTS "users__name_email_unique" ON "users" ((doc->>'name'), (doc->>'email'))`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.CreateIndex(context.Background(), "users", Index{Name: "name_email_unique", Keys: []string{"name", "email"}, Unique: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_RejectsUnsafeNames(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db, SQLite)
	err = s.Insert(context.Background(), `bad"name`, Document{})
	assert.True(t, ormerrors.IsValidation(err))
}

func TestSQLStore_FiltersInQuery(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db, SQLite)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM sqlite_master")).
		WithArgs("tasks").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM "tasks" WHERE _id = ? AND json_extract(doc, '$.project') = ? ORDER BY _id`)).
		WithArgs("t1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(`{"_id":"t1","project":"p1","tags":["x"]}`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "tasks" WHERE json_extract(doc, '$.project') = ?`)).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(3))

	docs, err := s.Find(ctx, "tasks", Filter{"project": "p1", "_id": "t1", "tags": Contains{Value: "x"}}, FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "t1", ID(docs[0]))

	n, err := s.Count(ctx, "tasks", Filter{"project": "p1"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PostgresCountChecksTypesInGo(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db, Postgres)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM information_schema.tables")).
		WithArgs("tasks").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM "tasks" WHERE (doc->>'code') = $1 ORDER BY _id`)).
		WithArgs("5").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).
			AddRow(`{"_id":"a","code":"5"}`).
			AddRow(`{"_id":"b","code":5}`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "tasks" WHERE _id = $1`)).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	n, err := s.Count(ctx, "tasks", Filter{"code": "5"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Count(ctx, "tasks", Filter{"_id": "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
