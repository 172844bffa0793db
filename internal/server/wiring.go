/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/friendsincode/notincredibox/internal/beat"
	"github.com/friendsincode/notincredibox/internal/config"
	"github.com/friendsincode/notincredibox/internal/events"
	"github.com/friendsincode/notincredibox/internal/mixer"
	"github.com/friendsincode/notincredibox/internal/playback"
	"github.com/friendsincode/notincredibox/internal/playback/device"
	"github.com/friendsincode/notincredibox/internal/storage"
)

// Preloader decodes loop assets ahead of use.
type Preloader interface {
	Preload(ctx context.Context, refs ...string) error
}

// Audio is the playback backend chosen for this host.
type Audio struct {
	Backend   string
	Players   beat.PlayerFactory
	Warmer    mixer.Warmer // nil for the null backend
	Preloader Preloader    // nil for the null backend
}

// OpenLoopStore returns the S3 store when a bucket is configured, otherwise the asset
// directory.
func OpenLoopStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.LoopStore, error) {
	if cfg.S3Bucket != "" {
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create s3 loop store: %w", err)
		}
		if err := store.CheckAccess(ctx); err != nil {
			logger.Warn().Err(err).Str("bucket", cfg.S3Bucket).Msg("s3 loop bucket not reachable yet")
		}
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("loop assets served from s3")
		return store, nil
	}

	if err := os.MkdirAll(cfg.AssetRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create asset directory %s: %w", cfg.AssetRoot, err)
	}
	logger.Info().Str("path", cfg.AssetRoot).Msg("loop assets served from disk")
	return storage.NewFilesystemStore(cfg.AssetRoot, logger), nil
}

// openDevice is swapped in tests.
var openDevice = device.NewDevice

// NewAudio picks the playback backend. A host without a usable sound device falls back to
// silent players so the mixer and API keep working.
func NewAudio(cfg *config.Config, loops storage.LoopStore, logger zerolog.Logger) *Audio {
	if cfg.AudioBackend == config.AudioDevice {
		dev, err := openDevice(cfg.AudioSampleRate, loops, logger)
		if err == nil {
			return &Audio{Backend: string(config.AudioDevice), Players: dev, Warmer: dev, Preloader: dev}
		}
		logger.Warn().Err(err).Msg("audio device unavailable, continuing with silent playback")
	}
	return &Audio{Backend: string(config.AudioNull), Players: playback.NewNull(logger)}
}

// NewScheduler builds the beat scheduler on the runtime clock.
func NewScheduler(cfg *config.Config, players beat.PlayerFactory, bus *events.Bus, logger zerolog.Logger) (*beat.Scheduler, error) {
	sched, err := beat.New(beat.Config{
		LoopDuration: cfg.LoopDuration,
		Clock:        beat.NewMonotonicClock(),
		Timers:       beat.RuntimeTimers{},
		Players:      players,
		Bus:          bus,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create beat scheduler: %w", err)
	}
	return sched, nil
}
