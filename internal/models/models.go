/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// User represents an authenticated account.
type User struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Combination is a saved set of sound ids, in slot order, owned by one user.
type Combination struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(36);index:idx_combinations_user_created,priority:1" json:"user_id"`
	Name      string    `gorm:"type:varchar(120)" json:"name"`
	Sounds    []string  `gorm:"serializer:json" json:"sounds"`
	CreatedAt time.Time `gorm:"index:idx_combinations_user_created,priority:2" json:"created_at"`
}
