package state

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	nodetree "github.com/goliatone/go-nodetree"
	"github.com/goliatone/go-nodetree/pkg/serializer"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultTable is the table SQLStore keeps snapshots in.
const DefaultTable = "nodetree_snapshots"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore keeps document snapshots in a database/sql table, one row per Ref.
// Documents are stored as JSON text. The SQL targets SQLite.
type SQLStore struct {
	db    *sql.DB
	table string
	codec *serializer.JSONCodec
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithTable stores snapshots in table instead of DefaultTable.
func WithTable(table string) SQLOption {
	return func(s *SQLStore) {
		s.table = table
	}
}

// NewSQLStore wraps db and creates the snapshot table when missing.
func NewSQLStore(ctx context.Context, db *sql.DB, opts ...SQLOption) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("state: db is required")
	}
	s := &SQLStore{db: db, table: DefaultTable, codec: serializer.NewJSONCodec()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if !tableNamePattern.MatchString(s.table) {
		return nil, fmt.Errorf("state: invalid table name %q", s.table)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens the SQLite database at dsn (":memory:" for a private
// in-memory database) and returns a store on it. Close the returned store to
// release the database.
func OpenSQLite(ctx context.Context, dsn string, opts ...SQLOption) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite %q: %w", dsn, err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	store, err := NewSQLStore(ctx, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			domain      TEXT NOT NULL,
			name        TEXT NOT NULL,
			snapshot_id TEXT NOT NULL DEFAULT '',
			etag        TEXT NOT NULL DEFAULT '',
			updated_at  TEXT NOT NULL DEFAULT '',
			extra       TEXT NOT NULL DEFAULT '{}',
			document    TEXT NOT NULL,
			PRIMARY KEY (domain, name)
		)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("state: create table %s: %w", s.table, err)
	}
	return nil
}

// Load returns the snapshot stored under ref.
func (s *SQLStore) Load(ctx context.Context, ref Ref) (nodetree.Document, Meta, bool, error) {
	if _, err := ref.Identifier(); err != nil {
		return nil, Meta{}, false, err
	}
	query := fmt.Sprintf(`SELECT snapshot_id, etag, updated_at, extra, document FROM %s WHERE domain = ? AND name = ?`, s.table)

	var (
		meta      Meta
		updatedAt string
		extra     string
		document  string
	)
	row := s.db.QueryRowContext(ctx, query, ref.Domain, ref.Name)
	if err := row.Scan(&meta.SnapshotID, &meta.ETag, &updatedAt, &extra, &document); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, Meta{}, false, nil
		}
		return nil, Meta{}, false, fmt.Errorf("state: query %s: %w", s.table, err)
	}

	if updatedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, Meta{}, false, fmt.Errorf("state: parse updated_at: %w", err)
		}
		meta.UpdatedAt = ts
	}
	if extra != "" && extra != "{}" {
		if err := json.Unmarshal([]byte(extra), &meta.Extra); err != nil {
			return nil, Meta{}, false, fmt.Errorf("state: parse extra: %w", err)
		}
	}
	doc, err := s.codec.Decode(bytes.NewBufferString(document))
	if err != nil {
		return nil, Meta{}, false, &nodetree.StorageError{Op: "parse", Path: s.table, Err: err}
	}
	return doc, meta, true, nil
}

// Save upserts the snapshot stored under ref.
func (s *SQLStore) Save(ctx context.Context, ref Ref, snapshot nodetree.Document, meta Meta) (Meta, error) {
	if _, err := ref.Identifier(); err != nil {
		return Meta{}, err
	}
	var document bytes.Buffer
	if err := s.codec.Encode(&document, snapshot); err != nil {
		return Meta{}, &nodetree.StorageError{Op: "encode", Path: s.table, Err: err}
	}
	extra := []byte("{}")
	if len(meta.Extra) > 0 {
		raw, err := json.Marshal(meta.Extra)
		if err != nil {
			return Meta{}, fmt.Errorf("state: encode extra: %w", err)
		}
		extra = raw
	}
	var updatedAt string
	if !meta.UpdatedAt.IsZero() {
		updatedAt = meta.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (domain, name, snapshot_id, etag, updated_at, extra, document)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain, name) DO UPDATE SET
			snapshot_id = excluded.snapshot_id,
			etag        = excluded.etag,
			updated_at  = excluded.updated_at,
			extra       = excluded.extra,
			document    = excluded.document`, s.table)
	if _, err := s.db.ExecContext(ctx, query,
		ref.Domain, ref.Name, meta.SnapshotID, meta.ETag, updatedAt, string(extra), document.String(),
	); err != nil {
		return Meta{}, fmt.Errorf("state: upsert %s: %w", s.table, err)
	}
	return cloneMeta(meta), nil
}

// Delete removes the snapshot stored under ref. Missing snapshots are not an
// error.
func (s *SQLStore) Delete(ctx context.Context, ref Ref) error {
	if _, err := ref.Identifier(); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE domain = ? AND name = ?`, s.table)
	if _, err := s.db.ExecContext(ctx, query, ref.Domain, ref.Name); err != nil {
		return fmt.Errorf("state: delete %s: %w", s.table, err)
	}
	return nil
}
