/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"testing"

	"github.com/friendsincode/notincredibox/internal/config"
	"github.com/friendsincode/notincredibox/internal/models"
)

func TestConnectAndMigrateSQLite(t *testing.T) {
	database, err := Connect(&config.Config{
		Environment: "test",
		DBBackend:   config.DatabaseSQLite,
		DBDSN:       ":memory:",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !database.Migrator().HasTable(&models.User{}) || !database.Migrator().HasTable(&models.Combination{}) {
		t.Fatal("expected users and combinations tables")
	}

	c := models.Combination{ID: "c1", UserID: "u1", Name: "first", Sounds: []string{"b1", "v5"}}
	if err := database.Create(&c).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	var got models.Combination
	if err := database.First(&got, "id = ?", "c1").Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(got.Sounds) != 2 || got.Sounds[1] != "v5" {
		t.Fatalf("sounds not round-tripped: %v", got.Sounds)
	}

	UpdateConnectionMetrics(database)
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	if _, err := Connect(&config.Config{DBBackend: "oracle"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
