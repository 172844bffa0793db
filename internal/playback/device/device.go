/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package device plays slot loops through the host audio output.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/audio/vorbis"
	"github.com/hajimehoshi/ebiten/v2/audio/wav"
	"github.com/rs/zerolog"

	"github.com/friendsincode/notincredibox/internal/beat"
	"github.com/friendsincode/notincredibox/internal/playback"
	"github.com/friendsincode/notincredibox/internal/storage"
)

// ErrUnsupportedFormat is returned for assets that are neither Ogg Vorbis nor WAV.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ReadyTimeout bounds how long NewDevice waits for the audio output to come up.
const ReadyTimeout = 2 * time.Second

// output is the audio context state checked before any player is handed out.
type output interface {
	IsReady() bool
	Err() error
}

var (
	sharedOnce sync.Once
	sharedCtx  *audio.Context
)

// sharedContext returns the process-wide audio context. Ebiten allows only one.
func sharedContext(sampleRate int) *audio.Context {
	sharedOnce.Do(func() {
		if c := audio.CurrentContext(); c != nil {
			sharedCtx = c
			return
		}
		sharedCtx = audio.NewContext(sampleRate)
	})
	return sharedCtx
}

// Device plays loops through the host audio output. Decoded PCM is cached per asset key
// so rebinding a slot never touches storage once the asset has been warmed.
type Device struct {
	ctx    *audio.Context
	store  storage.LoopStore
	logger zerolog.Logger

	mu  sync.Mutex
	pcm map[string][]byte
}

// NewDevice opens the audio output at sampleRate and reads assets from store.
func NewDevice(sampleRate int, store storage.LoopStore, logger zerolog.Logger) (*Device, error) {
	if store == nil {
		return nil, errors.New("loop store is required")
	}
	ctx := sharedContext(sampleRate)
	ready, err := waitForOutput(ctx, ReadyTimeout, 20*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if !ready {
		logger.Warn().Dur("waited", ReadyTimeout).Msg("audio output not confirmed ready, continuing")
	}
	if ctx.SampleRate() != sampleRate {
		logger.Warn().
			Int("requested", sampleRate).
			Int("actual", ctx.SampleRate()).
			Msg("audio context already open at a different sample rate")
	}
	return &Device{
		ctx:    ctx,
		store:  store,
		logger: logger.With().Str("component", "playback").Str("backend", "device").Logger(),
		pcm:    make(map[string][]byte),
	}, nil
}

// waitForOutput polls out until it is ready, reports an error, or timeout passes. A
// timeout without an error leaves the device usable.
func waitForOutput(out output, timeout, poll time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := out.Err(); err != nil {
			return false, fmt.Errorf("audio device: %w", err)
		}
		if out.IsReady() {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(poll)
	}
}

// Warm decodes ref into the cache if it is not there yet.
func (d *Device) Warm(ctx context.Context, ref string) error {
	_, err := d.decoded(ctx, ref)
	return err
}

// Preload warms every ref, stopping at the first failure.
func (d *Device) Preload(ctx context.Context, refs ...string) error {
	start := time.Now()
	for _, ref := range refs {
		if err := d.Warm(ctx, ref); err != nil {
			return err
		}
	}
	d.logger.Info().Int("assets", len(refs)).Dur("took", time.Since(start)).Msg("loop assets preloaded")
	return nil
}

// NewPlayer implements beat.PlayerFactory.
func (d *Device) NewPlayer(slotID string) (beat.Player, error) {
	if err := d.ctx.Err(); err != nil {
		return nil, fmt.Errorf("audio device: %w", err)
	}
	return &devicePlayer{dev: d, slotID: slotID}, nil
}

func (d *Device) decoded(ctx context.Context, ref string) ([]byte, error) {
	d.mu.Lock()
	pcm, ok := d.pcm[ref]
	d.mu.Unlock()
	if ok {
		return pcm, nil
	}

	raw, err := storage.ReadAll(ctx, d.store, ref)
	if err != nil {
		return nil, err
	}
	pcm, err = decode(d.ctx.SampleRate(), ref, raw)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.pcm[ref] = pcm
	d.mu.Unlock()

	d.logger.Debug().Str("sound_ref", ref).Int("bytes", len(pcm)).Msg("loop decoded")
	return pcm, nil
}

// decode converts an encoded asset into the context's native PCM layout.
func decode(sampleRate int, ref string, raw []byte) ([]byte, error) {
	var stream io.Reader
	switch formatOf(ref) {
	case "ogg":
		s, err := vorbis.DecodeWithSampleRate(sampleRate, bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode vorbis %q: %w", ref, err)
		}
		stream = s
	case "wav":
		s, err := wav.DecodeWithSampleRate(sampleRate, bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode wav %q: %w", ref, err)
		}
		stream = s
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ref)
	}

	pcm, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("read pcm %q: %w", ref, err)
	}
	return pcm, nil
}

func formatOf(ref string) string {
	switch strings.ToLower(path.Ext(ref)) {
	case ".ogg", ".oga":
		return "ogg"
	case ".wav", ".wave":
		return "wav"
	default:
		return ""
	}
}

type devicePlayer struct {
	dev    *Device
	slotID string
	player *audio.Player
}

func (p *devicePlayer) Bind(ref string) error {
	pcm, err := p.dev.decoded(context.Background(), ref)
	if err != nil {
		return err
	}
	p.closePlayer()
	p.player = p.dev.ctx.NewPlayerFromBytes(pcm)
	return nil
}

func (p *devicePlayer) Seek(pos time.Duration) error {
	if p.player == nil {
		return nil
	}
	return p.player.SetPosition(pos)
}

func (p *devicePlayer) Play() error {
	if p.player == nil {
		return playback.ErrNotBound
	}
	if err := p.dev.ctx.Err(); err != nil {
		return fmt.Errorf("audio device: %w", err)
	}
	p.player.Play()
	return nil
}

func (p *devicePlayer) Pause() {
	if p.player != nil {
		p.player.Pause()
	}
}

func (p *devicePlayer) IsPlaying() bool {
	return p.player != nil && p.player.IsPlaying()
}

func (p *devicePlayer) Close() error {
	return p.closePlayer()
}

func (p *devicePlayer) closePlayer() error {
	if p.player == nil {
		return nil
	}
	err := p.player.Close()
	p.player = nil
	return err
}
