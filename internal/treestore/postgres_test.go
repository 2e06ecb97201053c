package treestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewPostgres(db)
	store.nowFn = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return store, mock
}

func TestPostgresWriteUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tree_nodes")).
		WithArgs("categories/sports", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Write(context.Background(), "/categories/sports/",
		map[string]any{"name": "Sports", "createdAt": ServerTimestamp})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReadOnce(t *testing.T) {
	store, mock := newMockStore(t)

	payload, _ := json.Marshal(map[string]any{"name": "Sports", "creatorId": "uidA"})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM tree_nodes WHERE path = $1")).
		WithArgs("categories/sports").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(payload))

	value, ok, err := store.ReadOnce(context.Background(), "categories/sports")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Sports", value["name"])

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM tree_nodes WHERE path = $1")).
		WithArgs("categories/missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, ok, err = store.ReadOnce(context.Background(), "categories/missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteRemovesSubtree(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tree_nodes WHERE path = $1 OR path LIKE $1 || '/%'")).
		WithArgs("categories/sports").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, store.Delete(context.Background(), "categories/sports"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresChildren(t *testing.T) {
	store, mock := newMockStore(t)

	payload := func(fields map[string]any) []byte {
		raw, _ := json.Marshal(fields)
		return raw
	}

	rows := sqlmock.NewRows([]string{"path", "value"})
	rows.AddRow("categories/c1", payload(map[string]any{"name": "Sports"}))
	rows.AddRow("categories/c2", payload(map[string]any{"name": "Books"}))
	rows.AddRow("categories/c1/items/i1", payload(map[string]any{"name": "Bike"}))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT path, value FROM tree_nodes WHERE path LIKE $1 || '/%'")).
		WithArgs("categories").
		WillReturnRows(rows)

	nodes, err := store.Children(context.Background(), "categories", "name")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	// "Books" before "Sports"; the deeper item only makes c1 a branch, it
	// does not become a direct child.
	require.Equal(t, "c2", nodes[0].Key)
	require.Equal(t, "c1", nodes[1].Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreErrorWrapsCause(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM tree_nodes")).
		WithArgs("categories/sports").
		WillReturnError(sql.ErrConnDone)

	_, _, err := store.ReadOnce(context.Background(), "categories/sports")
	require.Error(t, err)
	require.True(t, IsStoreError(err))
	require.ErrorIs(t, err, sql.ErrConnDone)
}

func TestPostgresIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db)
	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))

	base := "it/" + store.PushID("")
	defer store.Delete(ctx, base)

	require.NoError(t, store.Write(ctx, base+"/categories/c1", map[string]any{"name": "Sports"}))
	require.NoError(t, store.Update(ctx, base+"/categories/c1", map[string]any{"name": "Outdoors"}))

	value, ok, err := store.ReadOnce(ctx, base+"/categories/c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Outdoors", value["name"])

	require.NoError(t, store.Write(ctx, base+"/categories/c1/items/i1", map[string]any{"name": "Bike", "postedAt": int64(1)}))
	nodes, err := store.Children(ctx, base+"/categories/c1/items", "postedAt")
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	require.NoError(t, store.Delete(ctx, base+"/categories/c1"))
	_, ok, err = store.ReadOnce(ctx, base+"/categories/c1/items/i1")
	require.NoError(t, err)
	require.False(t, ok)
}
