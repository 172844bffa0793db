/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/notincredibox/internal/db"
	"github.com/friendsincode/notincredibox/internal/models"
)

var (
	resetForce     bool
	resetKeepUsers bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete saved combinations and accounts",
	Long: `Reset notincredibox to a fresh state.

This drops the combination table (and the user table unless --keep-users is
given) and re-creates the empty schema.

Examples:
  # Interactive reset (will prompt for confirmation)
  notincredibox reset

  # Drop combinations only, no prompt
  notincredibox reset --force --keep-users
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetKeepUsers, "keep-users", false, "Keep user accounts, only drop combinations")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		ok, err := confirmReset(cmd.OutOrStdout(), os.Stdin)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Reset cancelled.")
			return nil
		}
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close(database)

	if err := resetTables(database, resetKeepUsers); err != nil {
		return err
	}

	logger.Info().Bool("keep_users", resetKeepUsers).Msg("reset complete")
	return nil
}

func confirmReset(out io.Writer, in io.Reader) (bool, error) {
	fmt.Fprintln(out, "This will delete every saved combination.")
	if !resetKeepUsers {
		fmt.Fprintln(out, "All user accounts will be deleted too.")
	}
	fmt.Fprint(out, "Type 'yes' to confirm reset: ")

	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(strings.ToLower(response)) == "yes", nil
}

// resetTables drops the tables (dependents first) and migrates them back.
func resetTables(database *gorm.DB, keepUsers bool) error {
	tables := []interface{}{&models.Combination{}}
	if !keepUsers {
		tables = append(tables, &models.User{})
	}

	for _, table := range tables {
		if err := database.Migrator().DropTable(table); err != nil {
			logger.Debug().Err(err).Msg("drop table (may not exist)")
		}
	}

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
