// Package sessionstore persists setup session records to a JSON file or,
// when a DSN is configured, to postgres.
package sessionstore

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	path string
	db   *sql.DB

	loadOnce sync.Once
	loadErr  error
	mu       sync.RWMutex
	byID     map[string]Record

	schemaOnce sync.Once
	schemaErr  error

	cache *lru.Cache[string, Record]
}

func New(path string) *Store {
	return &Store{
		path: strings.TrimSpace(path),
		byID: make(map[string]Record),
	}
}

func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping session db: %w", err)
	}
	cache, err := lru.New[string, Record](1024)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, cache: cache}, nil
}

// Open prefers postgres when dsn is set and falls back to the file at path.
func Open(dsn, path string) (*Store, string) {
	if strings.TrimSpace(dsn) == "" {
		return New(path), "file"
	}
	s, err := NewPostgres(dsn)
	if err != nil {
		return New(path), "file (postgres unavailable: " + err.Error() + ")"
	}
	return s, "postgres"
}

func (s *Store) Get(sessionID string) (Record, error) {
	if s == nil {
		return Record{}, ErrSessionNotFound
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return Record{}, ErrSessionNotFound
	}
	if s.db != nil {
		if rec, ok := s.cache.Get(id); ok {
			return rec, nil
		}
		rec, err := s.getDB(id)
		if err != nil {
			return Record{}, err
		}
		s.cache.Add(id, rec)
		return rec, nil
	}
	return s.getFile(id)
}

func (s *Store) Put(rec Record) error {
	if s == nil {
		return nil
	}
	n := normalizeRecord(rec)
	if n.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if s.db != nil {
		if err := s.putDB(n); err != nil {
			s.cache.Remove(n.SessionID)
			return err
		}
		s.cache.Add(n.SessionID, n)
		return nil
	}
	return s.putFile(n)
}

func (s *Store) Delete(sessionID string) error {
	if s == nil {
		return nil
	}
	id := strings.TrimSpace(sessionID)
	if s.db != nil {
		s.cache.Remove(id)
		return s.deleteDB(id)
	}
	return s.deleteFile(id)
}

// List returns every record, most recently updated first.
func (s *Store) List() ([]Record, error) {
	if s == nil {
		return nil, nil
	}
	if s.db != nil {
		return s.listDB()
	}
	return s.listFile()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
