package model

import "time"

// User carries the contact fields the alert pipeline needs. Account
// management lives elsewhere; this service only reads users.
type User struct {
	ID            int64  `gorm:"primaryKey"`
	Phone         string `gorm:"size:32"`
	AlimtalkOptIn bool   `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
