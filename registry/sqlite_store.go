package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/isabella232/mech/codec"
	"github.com/isabella232/mech/session"
)

// SQLiteStore keeps one row per namespace holding the encoded session list.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	codec codec.Codec
}

// OpenSQLiteStore opens (or creates) a database at path. ":memory:" is accepted for tests.
func OpenSQLiteStore(path string, c codec.Codec) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	if c == nil {
		c = &codec.JSONCodec{}
	}
	return &SQLiteStore{db: db, path: path, codec: c}, nil
}

// Path returns the underlying SQLite file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Init applies pragmas and schema.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = DELETE;",
		"PRAGMA synchronous = FULL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			namespace TEXT PRIMARY KEY,
			codec INTEGER NOT NULL,
			payload BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Load decodes the stored list with the codec it was written with, so switching
// the configured codec does not strand existing rows.
func (s *SQLiteStore) Load(ctx context.Context, namespace string) ([]session.Session, error) {
	var (
		codecType int
		payload   []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT codec, payload FROM sessions WHERE namespace = ?;`, namespace,
	).Scan(&codecType, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return []session.Session{}, nil
	}
	if err != nil {
		return nil, err
	}

	var sessions []session.Session
	if err := codec.GetCodec(codec.CodecType(codecType)).Decode(payload, &sessions); err != nil {
		return nil, fmt.Errorf("decode %s: %w", namespace, err)
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	return sessions, nil
}

func (s *SQLiteStore) Save(ctx context.Context, namespace string, sessions []session.Session) error {
	if sessions == nil {
		sessions = []session.Session{}
	}
	payload, err := s.codec.Encode(sessions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions(namespace, codec, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET
			codec = excluded.codec,
			payload = excluded.payload,
			updated_at = excluded.updated_at;
	`, namespace, int(s.codec.Type()), payload, time.Now().UnixMilli())
	return err
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
