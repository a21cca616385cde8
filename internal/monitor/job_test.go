package monitor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"dotori-monitor-backend/config"
	"dotori-monitor-backend/internal/breaker"
	"dotori-monitor-backend/internal/cronlock"
	"dotori-monitor-backend/internal/model"
	"dotori-monitor-backend/internal/notify"
	"dotori-monitor-backend/internal/store"
)

// mockAlimtalk is a mock implementation of the notify.AlimtalkSender interface.
type mockAlimtalk struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *mockAlimtalk) Send(ctx context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

// mockPush is a mock implementation of the notify.PushSender interface.
type mockPush struct {
	mu   sync.Mutex
	sent int
}

func (m *mockPush) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
	return &http.Response{
		StatusCode: http.StatusCreated,
		Body:       io.NopCloser(bytes.NewBufferString("")),
	}, nil
}

type jobEnv struct {
	job      *Job
	store    store.Store
	locker   *cronlock.Locker
	db       *gorm.DB
	alimtalk *mockAlimtalk
	push     *mockPush
}

func newJobEnv(t *testing.T) *jobEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Facility{},
		&model.FacilitySnapshot{},
		&model.Alert{},
		&model.User{},
		&model.TOPrediction{},
		&model.SystemConfig{},
		&model.CronLock{},
		&model.PushSubscription{},
	))

	s := store.NewGormStore(db)
	locker := cronlock.New(db)
	alimtalk := &mockAlimtalk{}
	push := &mockPush{}
	registry := breaker.NewRegistry(breaker.Options{FailureThreshold: 5, ResetTimeout: time.Minute})
	dispatcher := notify.NewDispatcher(alimtalk, push, &webpush.Options{}, s, registry, 10)

	cfg := &config.Config{}
	cfg.Monitor.Cooldown = 24 * time.Hour
	cfg.Monitor.LockTTL = 5 * time.Minute
	cfg.Alimtalk.VacancyTemplate = "vacancy-template"

	return &jobEnv{
		job:      NewJob(s, locker, dispatcher, cfg),
		store:    s,
		locker:   locker,
		db:       db,
		alimtalk: alimtalk,
		push:     push,
	}
}

func (e *jobEnv) seedUser(t *testing.T, id int64, optIn bool) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.User{
		ID:            id,
		Phone:         "010-1234-5678",
		AlimtalkOptIn: optIn,
	}).Error)
}

func (e *jobEnv) seedFacility(t *testing.T, status model.FacilityStatus, total, current, waiting int) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.Facility{
		ID:              1,
		Name:            "해맑은 어린이집",
		Status:          status,
		Address:         "서울특별시 마포구 성산동 123",
		CapacityTotal:   total,
		CapacityCurrent: current,
		CapacityWaiting: waiting,
	}).Error)
}

func TestRun_FirstRunBaselinesWithoutFiring(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()
	env.seedUser(t, 100, true)
	env.seedFacility(t, model.StatusAvailable, 20, 15, 0)
	require.NoError(t, env.db.Create(&model.Alert{
		ID: 1, UserID: 100, FacilityID: 1,
		Type: model.AlertVacancy, Active: true, Channels: model.ChannelKakao,
	}).Error)

	result, err := env.job.Run(ctx)
	require.NoError(t, err)

	// No baseline snapshot yet: nothing to diff, nothing fires.
	assert.Equal(t, 1, result.FacilitiesChecked)
	assert.Zero(t, result.AlertsTriggered)
	assert.Zero(t, result.AlimtalksSent)
	assert.True(t, result.LastCheck.IsZero(), "first run reports a full scan")

	var snapCount int64
	env.db.Model(&model.FacilitySnapshot{}).Count(&snapCount)
	assert.Equal(t, int64(1), snapCount, "the run records the observed state as baseline")

	checkpoint, err := env.store.GetConfigValue(ctx, model.ConfigVacancyAlertLastCheck)
	require.NoError(t, err)
	assert.NotEmpty(t, checkpoint)

	// The lock is released on the way out.
	var lockCount int64
	env.db.Model(&model.CronLock{}).Count(&lockCount)
	assert.Equal(t, int64(0), lockCount)
}

func TestRun_StatusChangeFiresVacancyAlert(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()
	env.seedUser(t, 100, true)
	env.seedFacility(t, model.StatusAvailable, 20, 18, 0)
	require.NoError(t, env.db.Create(&model.Alert{
		ID: 1, UserID: 100, FacilityID: 1,
		Type: model.AlertVacancy, Active: true, Channels: model.ChannelKakao,
	}).Error)
	require.NoError(t, env.db.Create(&model.FacilitySnapshot{
		FacilityID: 1, Status: model.StatusWaiting,
		CapacityTotal: 20, CapacityCurrent: 20, CapacityWaiting: 2,
		SnapshotAt: time.Now().UTC().Add(-10 * time.Minute),
	}).Error)

	result, err := env.job.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.AlertsTriggered)
	assert.Zero(t, result.PredictionAlertsTriggered)
	assert.Equal(t, 1, result.AlimtalksSent)

	require.Len(t, env.alimtalk.sent, 1)
	msg := env.alimtalk.sent[0]
	assert.Equal(t, "010-1234-5678", msg.Phone)
	assert.Equal(t, "vacancy-template", msg.TemplateID)
	assert.Equal(t, "해맑은 어린이집", msg.Variables["facilityName"])
	assert.Equal(t, "2", msg.Variables["toCount"])

	var a model.Alert
	require.NoError(t, env.db.First(&a, 1).Error)
	require.NotNil(t, a.LastTriggeredAt, "a fired alert gets its cooldown stamp")

	// Re-running immediately must not fire again: the facility is outside
	// the new scan window, and even a full re-scan would diff against the
	// fresh snapshot.
	result, err = env.job.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.AlertsTriggered)
	assert.Len(t, env.alimtalk.sent, 1)
}

func TestRun_LockContention(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()

	token, err := env.locker.Acquire(ctx, JobName, 5*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = env.job.Run(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, env.locker.Release(ctx, JobName, token))
	_, err = env.job.Run(ctx)
	assert.NoError(t, err)
}

func TestRun_PushOnlyChannelSkipsAlimtalk(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()
	env.seedUser(t, 100, true)
	env.seedFacility(t, model.StatusAvailable, 20, 18, 0)
	require.NoError(t, env.db.Create(&model.Alert{
		ID: 1, UserID: 100, FacilityID: 1,
		Type: model.AlertVacancy, Active: true, Channels: model.ChannelPush,
	}).Error)
	require.NoError(t, env.store.SavePushSubscription(ctx, &model.PushSubscription{
		Endpoint: "https://push.example.com/abc",
		UserID:   100,
		P256DH:   "key",
		Auth:     "auth",
	}))
	require.NoError(t, env.db.Create(&model.FacilitySnapshot{
		FacilityID: 1, Status: model.StatusFull,
		CapacityTotal: 20, CapacityCurrent: 20,
		SnapshotAt: time.Now().UTC().Add(-10 * time.Minute),
	}).Error)

	result, err := env.job.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.AlertsTriggered)
	assert.Zero(t, result.AlimtalksSent)
	assert.Equal(t, 1, result.PushesSent)
	assert.Empty(t, env.alimtalk.sent)
	assert.Equal(t, 1, env.push.sent)
}

func TestRun_OptedOutUserGetsNoAlimtalk(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()
	env.seedUser(t, 100, false)
	env.seedFacility(t, model.StatusAvailable, 20, 18, 0)
	require.NoError(t, env.db.Create(&model.Alert{
		ID: 1, UserID: 100, FacilityID: 1,
		Type: model.AlertVacancy, Active: true, Channels: model.ChannelKakao,
	}).Error)
	require.NoError(t, env.db.Create(&model.FacilitySnapshot{
		FacilityID: 1, Status: model.StatusWaiting,
		CapacityTotal: 20, CapacityCurrent: 20, CapacityWaiting: 1,
		SnapshotAt: time.Now().UTC().Add(-10 * time.Minute),
	}).Error)

	result, err := env.job.Run(ctx)
	require.NoError(t, err)

	// The alert still counts as triggered; only the send is gated.
	assert.Equal(t, 1, result.AlertsTriggered)
	assert.Zero(t, result.AlimtalksSent)
	assert.Empty(t, env.alimtalk.sent)
}

func TestRun_PredictionOnlyFiring(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()
	env.seedUser(t, 100, true)
	env.seedFacility(t, model.StatusFull, 20, 20, 0)
	require.NoError(t, env.db.Create(&model.Alert{
		ID: 1, UserID: 100, FacilityID: 1,
		Type: model.AlertVacancy, Active: true, MinVacancy: 2, Channels: model.ChannelKakao,
	}).Error)
	require.NoError(t, env.db.Create(&model.FacilitySnapshot{
		FacilityID: 1, Status: model.StatusFull,
		CapacityTotal: 20, CapacityCurrent: 20,
		SnapshotAt: time.Now().UTC().Add(-10 * time.Minute),
	}).Error)
	require.NoError(t, env.db.Create(&model.TOPrediction{
		FacilityID:         1,
		PredictedVacancies: 3,
		ValidUntil:         time.Now().UTC().Add(time.Hour),
	}).Error)

	result, err := env.job.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.AlertsTriggered)
	assert.Equal(t, 1, result.PredictionAlertsTriggered)
	assert.Equal(t, 1, result.AlimtalksSent)

	// The cooldown stamp suppresses an immediate prediction re-fire.
	result, err = env.job.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.AlertsTriggered)
}

func TestRun_IncrementalWindowSkipsUnchanged(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()
	env.seedFacility(t, model.StatusAvailable, 20, 15, 0)

	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	require.NoError(t, env.store.SetConfigValue(ctx, model.ConfigVacancyAlertLastCheck, future, ""))

	result, err := env.job.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.FacilitiesChecked)

	var snapCount int64
	env.db.Model(&model.FacilitySnapshot{}).Count(&snapCount)
	assert.Equal(t, int64(0), snapCount)
}
