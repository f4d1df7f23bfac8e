package sessionstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

func (s *Store) ensureSchema() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS setup_sessions (
  session_id TEXT PRIMARY KEY,
  dataset_id TEXT NOT NULL DEFAULT '',
  pending_scope TEXT NOT NULL DEFAULT '',
  desired JSONB NOT NULL DEFAULT '{}'::jsonb,
  selected JSONB NOT NULL DEFAULT '[]'::jsonb,
  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_setup_sessions_dataset_id ON setup_sessions (dataset_id);
`)
	})
	return s.schemaErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

const selectRecord = `SELECT session_id, dataset_id, pending_scope, desired, selected, updated_at FROM setup_sessions`

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec      Record
		desired  []byte
		selected []byte
	)
	if err := row.Scan(&rec.SessionID, &rec.DatasetID, &rec.PendingScope, &desired, &selected, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	if len(desired) > 0 {
		if err := json.Unmarshal(desired, &rec.Desired); err != nil {
			return Record{}, fmt.Errorf("decode desired of %s: %w", rec.SessionID, err)
		}
	}
	if len(selected) > 0 {
		if err := json.Unmarshal(selected, &rec.Selected); err != nil {
			return Record{}, fmt.Errorf("decode selection of %s: %w", rec.SessionID, err)
		}
	}
	return normalizeRecord(rec), nil
}

func (s *Store) getDB(id string) (Record, error) {
	if err := s.ensureSchema(); err != nil {
		return Record{}, err
	}
	rec, err := scanRecord(s.db.QueryRow(selectRecord+` WHERE session_id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) putDB(rec Record) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	desired, err := json.Marshal(rec.Desired)
	if err != nil {
		return fmt.Errorf("encode desired: %w", err)
	}
	selected := rec.Selected
	if selected == nil {
		selected = []int{}
	}
	selectedJSON, err := json.Marshal(selected)
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	_, err = s.db.Exec(`
INSERT INTO setup_sessions (
  session_id, dataset_id, pending_scope, desired, selected, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (session_id)
DO UPDATE SET dataset_id=EXCLUDED.dataset_id,
  pending_scope=EXCLUDED.pending_scope,
  desired=EXCLUDED.desired,
  selected=EXCLUDED.selected,
  updated_at=EXCLUDED.updated_at`,
		rec.SessionID, rec.DatasetID, rec.PendingScope, string(desired), string(selectedJSON), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *Store) deleteDB(id string) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM setup_sessions WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *Store) listDB() ([]Record, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(selectRecord + ` ORDER BY updated_at DESC, session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	out := make([]Record, 0, 32)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
