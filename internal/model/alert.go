package model

import (
	"strings"
	"time"
)

// AlertType distinguishes what kind of facility change a subscription watches.
type AlertType string

const (
	AlertVacancy        AlertType = "vacancy"
	AlertWaitlistChange AlertType = "waitlist_change"
)

// Notification channels an alert may request.
const (
	ChannelPush  = "push"
	ChannelKakao = "kakao"
)

// Alert is a per-user subscription to facility state changes. User-facing
// CRUD owns every field except LastTriggeredAt, which only the monitor and
// sync jobs advance (monotonically, via a bulk conditional update).
type Alert struct {
	ID              int64     `gorm:"primaryKey"`
	UserID          int64     `gorm:"not null;index"`
	FacilityID      int64     `gorm:"not null;index"`
	Type            AlertType `gorm:"size:32;not null"`
	Active          bool      `gorm:"not null;index"`
	MinVacancy      int       `gorm:"not null"`
	Channels        string    `gorm:"size:128;not null"`
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasChannel reports whether the alert requested the given channel.
// Channels are stored as a comma-separated list, e.g. "push,kakao".
func (a *Alert) HasChannel(channel string) bool {
	for _, c := range strings.Split(a.Channels, ",") {
		if strings.TrimSpace(c) == channel {
			return true
		}
	}
	return false
}

// Threshold returns the effective minimum-vacancy condition. Zero or
// negative means "any vacancy", i.e. a threshold of 1.
func (a *Alert) Threshold() int {
	if a.MinVacancy < 1 {
		return 1
	}
	return a.MinVacancy
}
