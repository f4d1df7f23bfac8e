package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func (s *Store) ensureLoadedFile() error {
	s.loadOnce.Do(func() {
		if s.path == "" {
			return
		}
		b, err := os.ReadFile(s.path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.loadErr = fmt.Errorf("read sessions: %w", err)
			}
			return
		}
		var rows []Record
		if err := json.Unmarshal(b, &rows); err != nil {
			s.loadErr = fmt.Errorf("decode sessions: %w", err)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, row := range rows {
			row = normalizeRecord(row)
			if row.SessionID == "" {
				continue
			}
			s.byID[row.SessionID] = row
		}
	})
	return s.loadErr
}

// saveFileLocked writes every record. Callers hold s.mu.
func (s *Store) saveFileLocked() error {
	if s.path == "" {
		return nil
	}
	rows := make([]Record, 0, len(s.byID))
	for _, rec := range s.byID {
		rows = append(rows, rec)
	}
	sortRecords(rows)

	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace sessions: %w", err)
	}
	return nil
}

func (s *Store) getFile(id string) (Record, error) {
	if err := s.ensureLoadedFile(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	rec, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	rec.Selected = append([]int(nil), rec.Selected...)
	return rec, nil
}

func (s *Store) putFile(rec Record) error {
	if err := s.ensureLoadedFile(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[rec.SessionID] = rec
	return s.saveFileLocked()
}

func (s *Store) deleteFile(id string) error {
	if err := s.ensureLoadedFile(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return nil
	}
	delete(s.byID, id)
	return s.saveFileLocked()
}

func (s *Store) listFile() ([]Record, error) {
	if err := s.ensureLoadedFile(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Record, 0, len(s.byID))
	for _, rec := range s.byID {
		rec.Selected = append([]int(nil), rec.Selected...)
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sortRecords(out)
	return out, nil
}
