package entity

import "strings"

// Dataset is the metadata record served for one dataset id.
type Dataset struct {
	ID         string   `json:"id"`
	Columns    []string `json:"columns"`
	Length     int      `json:"length"`
	TextColumn string   `json:"text_column,omitempty"`
}

// DefaultTextColumn returns the stored text column, else the first column.
func (d *Dataset) DefaultTextColumn() string {
	if d == nil {
		return ""
	}
	if v := strings.TrimSpace(d.TextColumn); v != "" {
		return v
	}
	if len(d.Columns) == 0 {
		return ""
	}
	return d.Columns[0]
}

// HasColumn reports whether column is one of the dataset's columns.
func (d *Dataset) HasColumn(column string) bool {
	if d == nil {
		return false
	}
	for _, c := range d.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshots never alias controller state.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	out := *d
	out.Columns = append([]string(nil), d.Columns...)
	return &out
}
