package treestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Postgres is a Store backed by PostgreSQL. Every node lives in one
// path-keyed table with its fields as JSONB, which keeps subtree deletes
// and child queries simple prefix operations.
//
// Postgres does not deliver live queries; Subscribe returns
// ErrSubscribeUnsupported and callers fall back to snapshot reads.
type Postgres struct {
	db    *sql.DB
	nowFn func() time.Time
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Store using the provided database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, nowFn: time.Now}
}

// EnsureSchema creates the backing table when it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tree_nodes (
			path       TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return &StoreError{Op: "ensure schema", Path: "tree_nodes", Err: err}
	}
	return nil
}

// Write stores value at path, replacing any existing value.
func (s *Postgres) Write(ctx context.Context, path string, value map[string]any) error {
	path = normalizePath(path)
	payload, err := json.Marshal(resolveTimestamps(value, s.nowFn))
	if err != nil {
		return &StoreError{Op: "write", Path: path, Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tree_nodes (path, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (path) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, path, payload, s.nowFn().UTC())
	if err != nil {
		return &StoreError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Update merges fields into the value at path, creating it if absent.
func (s *Postgres) Update(ctx context.Context, path string, fields map[string]any) error {
	path = normalizePath(path)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "update", Path: path, Err: err}
	}
	defer tx.Rollback()

	merged := make(map[string]any)
	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM tree_nodes WHERE path = $1 FOR UPDATE`, path,
	).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		// Fresh node.
	case err != nil:
		return &StoreError{Op: "update", Path: path, Err: err}
	default:
		if err := json.Unmarshal(raw, &merged); err != nil {
			return &StoreError{Op: "update", Path: path, Err: err}
		}
	}

	for k, v := range resolveTimestamps(fields, s.nowFn) {
		merged[k] = v
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		return &StoreError{Op: "update", Path: path, Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tree_nodes (path, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (path) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, path, payload, s.nowFn().UTC())
	if err != nil {
		return &StoreError{Op: "update", Path: path, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "update", Path: path, Err: err}
	}
	return nil
}

// Delete removes the value at path and every descendant.
func (s *Postgres) Delete(ctx context.Context, path string) error {
	path = normalizePath(path)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tree_nodes WHERE path = $1 OR path LIKE $1 || '/%'`, path)
	if err != nil {
		return &StoreError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

// PushID allocates a new unique child key.
func (s *Postgres) PushID(string) string {
	return uuid.NewString()
}

// ReadOnce returns the value at path.
func (s *Postgres) ReadOnce(ctx context.Context, path string) (map[string]any, bool, error) {
	path = normalizePath(path)

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM tree_nodes WHERE path = $1`, path).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StoreError{Op: "read", Path: path, Err: err}
	}

	value := make(map[string]any)
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, &StoreError{Op: "read", Path: path, Err: err}
	}
	return value, true, nil
}

// Children returns the direct children of path ordered by orderBy.
// Branch-only children (records deeper down, no value of their own)
// appear with a nil Value.
func (s *Postgres) Children(ctx context.Context, path, orderBy string) ([]Node, error) {
	path = normalizePath(path)

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, value FROM tree_nodes WHERE path LIKE $1 || '/%'`, path)
	if err != nil {
		return nil, &StoreError{Op: "children", Path: path, Err: err}
	}
	defer rows.Close()

	prefix := path + "/"
	byKey := make(map[string]map[string]any)
	for rows.Next() {
		var nodePath string
		var raw []byte
		if err := rows.Scan(&nodePath, &raw); err != nil {
			return nil, &StoreError{Op: "children", Path: path, Err: err}
		}

		rest := strings.TrimPrefix(nodePath, prefix)
		seg, _, deeper := strings.Cut(rest, "/")
		if deeper {
			if _, ok := byKey[seg]; !ok {
				byKey[seg] = nil
			}
			continue
		}

		value := make(map[string]any)
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, &StoreError{Op: "children", Path: nodePath, Err: err}
		}
		byKey[seg] = value
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "children", Path: path, Err: err}
	}

	nodes := make([]Node, 0, len(byKey))
	for key, value := range byKey {
		nodes = append(nodes, Node{Key: key, Value: value})
	}
	sortNodes(nodes, orderBy)
	return nodes, nil
}

// Subscribe is not supported by the Postgres backend.
func (s *Postgres) Subscribe(context.Context, string, string) (*Subscription, error) {
	return nil, ErrSubscribeUnsupported
}
