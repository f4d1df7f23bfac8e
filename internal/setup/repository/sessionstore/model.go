package sessionstore

import (
	"errors"
	"sort"
	"strings"
	"time"

	"latentsetup/internal/selection"
)

var ErrSessionNotFound = errors.New("session not found")

// Record is what survives a restart of one setup session: where it points
// and what the user asked for. Artifact lists are always refetched.
type Record struct {
	SessionID    string            `json:"session_id"`
	DatasetID    string            `json:"dataset_id"`
	PendingScope string            `json:"pending_scope,omitempty"`
	Desired      selection.Desired `json:"desired"`
	Selected     []int             `json:"selected,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func normalizeRecord(rec Record) Record {
	rec.SessionID = strings.TrimSpace(rec.SessionID)
	rec.DatasetID = strings.TrimSpace(rec.DatasetID)
	rec.PendingScope = strings.TrimSpace(rec.PendingScope)
	rec.Selected = append([]int(nil), rec.Selected...)
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	return rec
}

func sortRecords(out []Record) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
}
