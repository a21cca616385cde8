// Package cronlock implements a named, time-boxed mutual-exclusion lock
// backed by the shared database. It keeps overlapping scheduler triggers
// from running the same cron job concurrently across instances.
//
// The TTL doubles as a fencing mechanism: if a holder crashes without
// releasing, the row expires and a later run can take over. Around expiry
// two runs could briefly overlap under clock skew; the jobs themselves
// are retry-safe.
package cronlock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"dotori-monitor-backend/internal/model"
)

// Locker acquires and releases named cron locks.
type Locker struct {
	db *gorm.DB
}

// New creates a database-backed locker.
func New(db *gorm.DB) *Locker {
	return &Locker{db: db}
}

// Acquire attempts to take the lock for jobName for the given TTL. It
// returns a fencing token on success and "" (with a nil error) when
// another live holder exists; contention is an expected outcome, not a
// failure.
func (l *Locker) Acquire(ctx context.Context, jobName string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	token := uuid.NewString()

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Clear an expired holder first so the insert below can win.
		if err := tx.Where("job_name = ? AND expires_at <= ?", jobName, now).
			Delete(&model.CronLock{}).Error; err != nil {
			return err
		}
		return tx.Create(&model.CronLock{
			JobName:    jobName,
			OwnerToken: token,
			ExpiresAt:  now.Add(ttl),
		}).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

// Release deletes the lock only if the stored token matches ownerToken.
// A mismatch (expired and taken over, or never held) is a silent no-op so
// a slow holder cannot free someone else's lock.
func (l *Locker) Release(ctx context.Context, jobName, ownerToken string) error {
	if ownerToken == "" {
		return nil
	}
	return l.db.WithContext(ctx).
		Where("job_name = ? AND owner_token = ?", jobName, ownerToken).
		Delete(&model.CronLock{}).Error
}

// isDuplicateKey detects the primary-key conflict raised when another
// instance holds an unexpired lock. gorm surfaces ErrDuplicatedKey for the
// drivers that translate errors; the string checks cover the rest
// (postgres 23505, sqlite UNIQUE).
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "23505")
}
