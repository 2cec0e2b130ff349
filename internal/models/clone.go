// Package models defines the GORM persistence models for relaybot.
package models

import "time"

// CloneRecord is a durable registration of a user-supplied bot token created
// by the /clone dialogue. Records are append-only: they are never mutated and
// no delete operation is exposed. Duplicates are permitted: there is no
// natural unique constraint, so the primary key is a generated UUID.
type CloneRecord struct {
	ID               string    `gorm:"primaryKey;size:36"`
	OwnerUserID      string    `gorm:"size:64;not null;index"`
	OwnerDisplayName string    `gorm:"size:128"`
	Token            string    `gorm:"size:256;not null"`
	RegisteredAt     time.Time `gorm:"not null"`
}
