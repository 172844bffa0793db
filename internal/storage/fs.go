/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FilesystemStore serves loop assets from a local directory.
type FilesystemStore struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFilesystemStore creates a filesystem-backed loop store rooted at rootDir.
func NewFilesystemStore(rootDir string, logger zerolog.Logger) *FilesystemStore {
	return &FilesystemStore{
		rootDir: rootDir,
		logger:  logger.With().Str("component", "loop-store").Str("backend", "fs").Logger(),
	}
}

// Open opens the asset under key for reading.
func (s *FilesystemStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned, err := CleanKey(key)
	if err != nil {
		return nil, err
	}

	fullPath := filepath.Join(s.rootDir, filepath.FromSlash(cleaned))
	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cleaned)
		}
		return nil, fmt.Errorf("open %s: %w", cleaned, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", cleaned, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, cleaned)
	}

	s.logger.Debug().Str("path", fullPath).Msg("loop asset opened")
	return f, nil
}

// CheckAccess verifies the root directory exists.
func (s *FilesystemStore) CheckAccess(ctx context.Context) error {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return fmt.Errorf("asset root %s: %w", s.rootDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("asset root %s is not a directory", s.rootDir)
	}
	return nil
}

// Root returns the directory assets are served from.
func (s *FilesystemStore) Root() string {
	return s.rootDir
}
