/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/notincredibox/internal/auth"
	"github.com/friendsincode/notincredibox/internal/combinations"
	"github.com/friendsincode/notincredibox/internal/db"
	"github.com/friendsincode/notincredibox/internal/events"
	"github.com/friendsincode/notincredibox/internal/mixer"
	"github.com/friendsincode/notincredibox/internal/models"
	"github.com/friendsincode/notincredibox/internal/server"
	"github.com/friendsincode/notincredibox/internal/sounds"
)

var (
	playEmail       string
	playPassword    string
	playCombination string
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a saved combination on this machine",
	Long: `Sign in, load one of your saved combinations and play it on the local
sound device until interrupted.

Without --combination the saved combinations are listed instead.

Examples:
  # List saved combinations
  notincredibox play --email me@example.com

  # Play one of them
  NOTINCREDIBOX_PASSWORD=secret notincredibox play --email me@example.com --combination 3f1c...
`,
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVar(&playEmail, "email", "", "Account email")
	playCmd.Flags().StringVar(&playPassword, "password", "", "Account password (default $NOTINCREDIBOX_PASSWORD)")
	playCmd.Flags().StringVar(&playCombination, "combination", "", "ID of the combination to play")
	_ = playCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if playPassword == "" {
		playPassword = os.Getenv("NOTINCREDIBOX_PASSWORD")
	}
	if playPassword == "" {
		return fmt.Errorf("password required: pass --password or set NOTINCREDIBOX_PASSWORD")
	}

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	catalog, err := sounds.Load()
	if err != nil {
		return err
	}

	session := auth.NewSession(auth.NewProvider(database, []byte(cfg.JWTSigningKey), cfg.TokenTTL, logger))
	unsubscribe := session.OnChange(func(u *models.User) {
		if u == nil {
			logger.Debug().Msg("signed out")
			return
		}
		logger.Info().Str("user_id", u.ID).Str("email", u.Email).Msg("signed in")
	})
	defer unsubscribe()

	signInCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	user, err := session.SignIn(signInCtx, playEmail, playPassword)
	cancel()
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	defer session.SignOut()

	store := combinations.NewService(combinations.Config{
		DB:        database,
		Catalog:   catalog,
		MaxSounds: cfg.SlotCount,
	}, logger)

	if playCombination == "" {
		list, err := store.List(cmd.Context(), user.ID)
		if err != nil {
			return err
		}
		printCombinations(cmd.OutOrStdout(), list)
		return nil
	}

	combo, err := store.Get(cmd.Context(), user.ID, playCombination)
	if err != nil {
		return fmt.Errorf("load combination %s: %w", playCombination, err)
	}

	loops, err := server.OpenLoopStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	audio := server.NewAudio(cfg, loops, logger)
	bus := events.NewBus()

	sched, err := server.NewScheduler(cfg, audio.Players, bus, logger)
	if err != nil {
		return err
	}
	defer sched.Close()

	mx, err := mixer.New(mixer.Config{
		SlotIDs:   cfg.SlotIDs(),
		Catalog:   catalog,
		Scheduler: sched,
		Warmer:    audio.Warmer,
		Bus:       bus,
	}, logger)
	if err != nil {
		return err
	}

	ticks := bus.Subscribe(events.EventBeatTick)
	defer bus.Unsubscribe(events.EventBeatTick, ticks)
	failures := bus.Subscribe(events.EventPlaybackFailed)
	defer bus.Unsubscribe(events.EventPlaybackFailed, failures)

	if err := mx.Apply(cmd.Context(), combo); err != nil {
		return fmt.Errorf("apply combination: %w", err)
	}
	logger.Info().
		Str("combination", combo.Name).
		Strs("sounds", combo.Sounds).
		Str("audio_backend", audio.Backend).
		Msg("playing, press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	for {
		select {
		case <-quit:
			mx.Reset()
			logger.Info().Uint64("ticks", sched.Ticks()).Msg("stopped")
			return nil
		case payload := <-ticks:
			logger.Debug().Interface("tick", payload["tick"]).Interface("started", payload["started"]).Msg("beat")
		case payload := <-failures:
			logger.Warn().Interface("slot_id", payload["slot_id"]).Interface("error", payload["error"]).Msg("playback failed")
		}
	}
}

func printCombinations(w io.Writer, list []models.Combination) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No saved combinations.")
		return
	}
	for _, c := range list {
		fmt.Fprintf(w, "%s  %-24s %s\n", c.ID, c.Name, strings.Join(c.Sounds, ","))
	}
}
