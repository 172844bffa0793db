/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage resolves loop asset keys such as "loops/2_deux_a.ogg" to their bytes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrNotFound indicates no asset exists under the key.
	ErrNotFound = errors.New("loop asset not found")

	// ErrInvalidKey indicates a key that is empty or escapes the store root.
	ErrInvalidKey = errors.New("invalid loop asset key")
)

// LoopStore abstracts where loop assets live.
type LoopStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// CheckAccess verifies the backend is reachable.
	CheckAccess(ctx context.Context) error
}

// ReadAll reads the whole asset under key.
func ReadAll(ctx context.Context, store LoopStore, key string) ([]byte, error) {
	rc, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// CleanKey normalises key to a slash-separated relative path. Leading slashes are
// dropped so "/loops/a.ogg" and "loops/a.ogg" name the same asset.
func CleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
