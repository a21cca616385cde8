package model

import "time"

// TOPrediction is an externally computed vacancy forecast for a facility.
// Only rows with ValidUntil in the future are eligible to trigger alerts.
type TOPrediction struct {
	ID                 int64  `gorm:"autoIncrement;primaryKey"`
	FacilityID         int64  `gorm:"not null;uniqueIndex"`
	PredictedVacancies int    `gorm:"not null"`
	Confidence         string `gorm:"size:16"`
	CalculatedAt       time.Time
	ValidUntil         time.Time `gorm:"not null;index"`
}
