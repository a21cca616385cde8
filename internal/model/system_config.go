package model

import "time"

// Checkpoint and rotation keys persisted in system_configs.
const (
	ConfigVacancyAlertLastCheck = "vacancy_alert_last_check"
	ConfigIsalangSyncLastBatch  = "isalang_sync_last_batch"
	ConfigIsalangSyncLastRun    = "isalang_sync_last_run"
)

// SystemConfig is a key/value row for job checkpoints and counters.
type SystemConfig struct {
	Key         string `gorm:"primaryKey;size:128"`
	Value       string `gorm:"size:512;not null"`
	Description string `gorm:"size:256"`
	UpdatedAt   time.Time
}
