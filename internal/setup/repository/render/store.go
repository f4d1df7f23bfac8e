// Package render stores encoded vector grids keyed by their content hash.
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store persists rendered images. Keys are content hashes, so a Put for an
// existing key may be skipped.
type Store interface {
	Put(ctx context.Context, key string, content []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	GetURL(ctx context.Context, key string) (string, error)
}

var ErrNotFound = errors.New("render not found")

func normalizeKey(key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("render key is required")
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid render key %q", key)
	}
	return key, nil
}
