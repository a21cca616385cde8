package model

import "time"

// FacilityStatus is the enrollment state of a childcare facility.
type FacilityStatus string

const (
	StatusAvailable FacilityStatus = "available"
	StatusWaiting   FacilityStatus = "waiting"
	StatusFull      FacilityStatus = "full"
)

// Facility represents a childcare facility as synced from the upstream portal.
// The monitor job only reads facilities; the sync job writes them.
type Facility struct {
	ID              int64          `gorm:"primaryKey"`
	Name            string         `gorm:"size:256;not null;index:idx_facility_name_address"`
	Type            string         `gorm:"size:32"`
	Status          FacilityStatus `gorm:"size:16;not null;index"`
	Address         string         `gorm:"size:512;index:idx_facility_name_address"`
	Sido            string         `gorm:"size:64"`
	Sigungu         string         `gorm:"size:64"`
	Dong            string         `gorm:"size:64"`
	Phone           string         `gorm:"size:32"`
	CapacityTotal   int            `gorm:"not null"`
	CapacityCurrent int            `gorm:"not null"`
	CapacityWaiting int            `gorm:"not null"`
	DataSource      string         `gorm:"size:32"`
	LastSyncedAt    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time `gorm:"index"`
}

// Vacancy returns the number of open slots, never negative.
func (f *Facility) Vacancy() int {
	v := f.CapacityTotal - f.CapacityCurrent
	if v < 0 {
		return 0
	}
	return v
}
