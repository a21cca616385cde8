package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dotori-monitor-backend/internal/model"
)

// Store defines the interface for all database operations the jobs and
// handlers depend on. Every batch method is a fixed number of round trips
// regardless of how many facilities a run touches.
type Store interface {
	DB() *gorm.DB

	FacilitiesChangedSince(ctx context.Context, since time.Time) ([]model.Facility, error)
	FacilitiesByNameAddress(ctx context.Context, keys []FacilityKey) ([]model.Facility, error)
	CreateFacility(ctx context.Context, facility *model.Facility) error
	UpdateFacilityState(ctx context.Context, id int64, update FacilityStateUpdate) error

	LatestSnapshots(ctx context.Context, facilityIDs []int64) (map[int64]model.FacilitySnapshot, error)
	InsertSnapshots(ctx context.Context, snapshots []model.FacilitySnapshot) error

	ActiveAlertsByFacility(ctx context.Context, facilityIDs []int64) ([]model.Alert, error)
	BulkUpdateLastTriggered(ctx context.Context, alertIDs []int64, now time.Time) error

	UsersByIDs(ctx context.Context, userIDs []int64) ([]model.User, error)
	ValidPredictions(ctx context.Context, facilityIDs []int64, now time.Time) ([]model.TOPrediction, error)

	GetConfigValue(ctx context.Context, key string) (string, error)
	SetConfigValue(ctx context.Context, key, value, description string) error

	PushSubscriptionsByUsers(ctx context.Context, userIDs []int64) ([]model.PushSubscription, error)
	SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

// FacilityKey identifies a facility by the upstream portal's natural key.
type FacilityKey struct {
	Name    string
	Address string
}

// FacilityStateUpdate is the set of fields the sync job refreshes on an
// existing facility.
type FacilityStateUpdate struct {
	Status          model.FacilityStatus
	CapacityTotal   int
	CapacityCurrent int
	CapacityWaiting int
	Phone           string
	SyncedAt        time.Time
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// FacilitiesChangedSince returns facilities updated at or after since.
// A zero since means first run: scan the full facility set.
func (s *gormStore) FacilitiesChangedSince(ctx context.Context, since time.Time) ([]model.Facility, error) {
	var facilities []model.Facility
	q := s.db.WithContext(ctx)
	if !since.IsZero() {
		q = q.Where("updated_at >= ?", since)
	}
	if err := q.Find(&facilities).Error; err != nil {
		return nil, fmt.Errorf("failed to load changed facilities: %w", err)
	}
	return facilities, nil
}

func (s *gormStore) FacilitiesByNameAddress(ctx context.Context, keys []FacilityKey) ([]model.Facility, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cond := s.db.Where("name = ? AND address = ?", keys[0].Name, keys[0].Address)
	for _, k := range keys[1:] {
		cond = cond.Or("name = ? AND address = ?", k.Name, k.Address)
	}
	var facilities []model.Facility
	if err := s.db.WithContext(ctx).Where(cond).Find(&facilities).Error; err != nil {
		return nil, fmt.Errorf("failed to look up facilities by name/address: %w", err)
	}
	return facilities, nil
}

func (s *gormStore) CreateFacility(ctx context.Context, facility *model.Facility) error {
	return s.db.WithContext(ctx).Create(facility).Error
}

func (s *gormStore) UpdateFacilityState(ctx context.Context, id int64, update FacilityStateUpdate) error {
	values := map[string]any{
		"status":           update.Status,
		"capacity_total":   update.CapacityTotal,
		"capacity_current": update.CapacityCurrent,
		"capacity_waiting": update.CapacityWaiting,
		"data_source":      "isalang",
		"last_synced_at":   update.SyncedAt,
	}
	if update.Phone != "" {
		values["phone"] = update.Phone
	}
	return s.db.WithContext(ctx).Model(&model.Facility{}).Where("id = ?", id).Updates(values).Error
}

// LatestSnapshots returns the most recent snapshot per facility in a single
// query: a group-by-max subquery joined back against the snapshot table.
func (s *gormStore) LatestSnapshots(ctx context.Context, facilityIDs []int64) (map[int64]model.FacilitySnapshot, error) {
	result := make(map[int64]model.FacilitySnapshot, len(facilityIDs))
	if len(facilityIDs) == 0 {
		return result, nil
	}

	latest := s.db.Model(&model.FacilitySnapshot{}).
		Select("facility_id, MAX(snapshot_at) AS snapshot_at").
		Where("facility_id IN ?", facilityIDs).
		Group("facility_id")

	var snapshots []model.FacilitySnapshot
	err := s.db.WithContext(ctx).Model(&model.FacilitySnapshot{}).
		Joins("JOIN (?) latest ON facility_snapshots.facility_id = latest.facility_id AND facility_snapshots.snapshot_at = latest.snapshot_at", latest).
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshots: %w", err)
	}

	for _, snap := range snapshots {
		result[snap.FacilityID] = snap
	}
	return result, nil
}

func (s *gormStore) InsertSnapshots(ctx context.Context, snapshots []model.FacilitySnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&snapshots).Error; err != nil {
		return fmt.Errorf("failed to insert %d snapshots: %w", len(snapshots), err)
	}
	return nil
}

func (s *gormStore) ActiveAlertsByFacility(ctx context.Context, facilityIDs []int64) ([]model.Alert, error) {
	if len(facilityIDs) == 0 {
		return nil, nil
	}
	var alerts []model.Alert
	err := s.db.WithContext(ctx).
		Where("facility_id IN ? AND active = ?", facilityIDs, true).
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	return alerts, nil
}

// BulkUpdateLastTriggered advances last_triggered_at for all fired alerts
// in one statement. The guard keeps the column monotonically
// non-decreasing even if a stale run races a fresh one.
func (s *gormStore) BulkUpdateLastTriggered(ctx context.Context, alertIDs []int64, now time.Time) error {
	if len(alertIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&model.Alert{}).
		Where("id IN ? AND (last_triggered_at IS NULL OR last_triggered_at < ?)", alertIDs, now).
		Update("last_triggered_at", now).Error
	if err != nil {
		return fmt.Errorf("failed to bulk-update last_triggered_at for %d alerts: %w", len(alertIDs), err)
	}
	return nil
}

func (s *gormStore) UsersByIDs(ctx context.Context, userIDs []int64) ([]model.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return users, nil
}

func (s *gormStore) ValidPredictions(ctx context.Context, facilityIDs []int64, now time.Time) ([]model.TOPrediction, error) {
	if len(facilityIDs) == 0 {
		return nil, nil
	}
	var predictions []model.TOPrediction
	err := s.db.WithContext(ctx).
		Where("facility_id IN ? AND valid_until > ?", facilityIDs, now).
		Find(&predictions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load predictions: %w", err)
	}
	return predictions, nil
}

// GetConfigValue returns the stored value for key, or "" when the key has
// never been written.
func (s *gormStore) GetConfigValue(ctx context.Context, key string) (string, error) {
	var row model.SystemConfig
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read config %q: %w", key, err)
	}
	return row.Value, nil
}

func (s *gormStore) SetConfigValue(ctx context.Context, key, value, description string) error {
	row := model.SystemConfig{Key: key, Value: value, Description: description}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "description", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to write config %q: %w", key, err)
	}
	return nil
}

func (s *gormStore) PushSubscriptionsByUsers(ctx context.Context, userIDs []int64) ([]model.PushSubscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to load push subscriptions: %w", err)
	}
	return subs, nil
}

func (s *gormStore) SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
}

func (s *gormStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{}, "endpoint = ?", endpoint).Error
}
