/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/friendsincode/notincredibox/internal/sounds"
)

var soundsCategory string

var soundsCmd = &cobra.Command{
	Use:   "sounds",
	Short: "List the sound catalog",
	Long: `List every sound element that can be assigned to a character.

Examples:
  # Everything, grouped by category
  notincredibox sounds

  # Only the voices
  notincredibox sounds --category voices
`,
	RunE: runSounds,
}

func init() {
	soundsCmd.Flags().StringVarP(&soundsCategory, "category", "c", "", "Only list this category (beats, effects, melodies, voices)")
	rootCmd.AddCommand(soundsCmd)
}

func runSounds(cmd *cobra.Command, args []string) error {
	catalog, err := sounds.Load()
	if err != nil {
		return err
	}
	return printCatalog(cmd.OutOrStdout(), catalog, sounds.Category(soundsCategory))
}

func printCatalog(w io.Writer, catalog *sounds.Catalog, only sounds.Category) error {
	found := false
	for _, cat := range catalog.Categories() {
		if only != "" && cat.ID != only {
			continue
		}
		found = true
		fmt.Fprintf(w, "%s\n", cat.Name)
		for _, s := range catalog.ByCategory(cat.ID) {
			fmt.Fprintf(w, "  %-4s %-10s %s\n", s.ID, s.Name, s.Audio)
		}
	}
	if !found {
		return fmt.Errorf("unknown category %q", only)
	}
	return nil
}
