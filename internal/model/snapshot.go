package model

import "time"

// FacilitySnapshot is an append-only point-in-time copy of a facility's
// status and capacity. The most recent snapshot per facility is the diff
// baseline for the next monitor run. Rows are never updated or deleted.
type FacilitySnapshot struct {
	ID              int64          `gorm:"autoIncrement;primaryKey"`
	FacilityID      int64          `gorm:"not null;index:idx_snapshot_facility_at,priority:1"`
	Status          FacilityStatus `gorm:"size:16;not null"`
	CapacityTotal   int            `gorm:"not null"`
	CapacityCurrent int            `gorm:"not null"`
	CapacityWaiting int            `gorm:"not null"`
	SnapshotAt      time.Time      `gorm:"not null;index:idx_snapshot_facility_at,priority:2,sort:desc"`
}
