package keystore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"nbgrade/internal/types"

	_ "modernc.org/sqlite"
)

// SQLite stores key records in a single-table SQLite database. Intended for
// deployments where many graders share one key store on a mounted volume;
// the single connection plus busy_timeout keeps concurrent runs serialized.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create keystore directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open keystore database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS principal_keys (
			principal_id TEXT PRIMARY KEY,
			key          BLOB NOT NULL,
			created_at   INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("initialize keystore schema: %w", err)
	}
	return nil
}

func (s *SQLite) Get(principalID string) (types.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key []byte
	var createdAt int64
	err := s.db.QueryRow(
		`SELECT key, created_at FROM principal_keys WHERE principal_id = ?`,
		principalID,
	).Scan(&key, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.KeyRecord{}, ErrNotFound
	}
	if err != nil {
		return types.KeyRecord{}, fmt.Errorf("query key record: %w", err)
	}
	return types.KeyRecord{
		PrincipalID: principalID,
		Key:         key,
		CreatedAt:   time.Unix(createdAt, 0).UTC(),
	}, nil
}

func (s *SQLite) Put(rec types.KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO principal_keys (principal_id, key, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(principal_id) DO UPDATE SET key = excluded.key, created_at = excluded.created_at`,
		rec.PrincipalID, rec.Key, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store key record: %w", err)
	}
	return nil
}

func (s *SQLite) List() ([]types.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT principal_id, key, created_at FROM principal_keys ORDER BY principal_id`)
	if err != nil {
		return nil, fmt.Errorf("list key records: %w", err)
	}
	defer rows.Close()

	var recs []types.KeyRecord
	for rows.Next() {
		var rec types.KeyRecord
		var createdAt int64
		if err := rows.Scan(&rec.PrincipalID, &rec.Key, &createdAt); err != nil {
			return nil, fmt.Errorf("scan key record: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate key records: %w", err)
	}
	return recs, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
