package model

import "time"

// CronLock is a time-boxed mutual-exclusion record for a named job.
// Invariant: at most one unexpired row per job name. The primary key on
// JobName makes concurrent inserts race safely; the loser gets a
// duplicate-key error.
type CronLock struct {
	JobName    string    `gorm:"primaryKey;size:64"`
	OwnerToken string    `gorm:"size:64;not null"`
	ExpiresAt  time.Time `gorm:"not null"`
}
