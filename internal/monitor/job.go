// Package monitor implements the TO-monitor cron job: an incremental scan
// that diffs facility state against the last snapshot, matches the diff
// against alert subscriptions and dispatches notifications.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"dotori-monitor-backend/config"
	"dotori-monitor-backend/internal/alert"
	"dotori-monitor-backend/internal/cronlock"
	"dotori-monitor-backend/internal/model"
	"dotori-monitor-backend/internal/notify"
	"dotori-monitor-backend/internal/store"
)

// JobName is the distributed-lock key for this job.
const JobName = "to-monitor"

// ErrAlreadyRunning signals that another instance holds the job lock.
// Expected contention, mapped to 409 by the HTTP layer.
var ErrAlreadyRunning = errors.New("monitor job already running")

// Result is the summary a completed run reports to the scheduler.
type Result struct {
	FacilitiesChecked         int       `json:"facilitiesChecked"`
	AlertsTriggered           int       `json:"alertsTriggered"`
	PredictionAlertsTriggered int       `json:"predictionAlertsTriggered"`
	AlimtalksSent             int       `json:"alimtalksSent"`
	PushesSent                int       `json:"pushesSent"`
	LastCheck                 time.Time `json:"lastCheck"`
	Timestamp                 time.Time `json:"timestamp"`
}

// Job orchestrates one monitor run end to end.
type Job struct {
	store      store.Store
	locker     *cronlock.Locker
	dispatcher *notify.Dispatcher
	matcher    *alert.Matcher
	lockTTL    time.Duration
	template   string
}

// NewJob wires a monitor job from its collaborators.
func NewJob(s store.Store, locker *cronlock.Locker, dispatcher *notify.Dispatcher, cfg *config.Config) *Job {
	return &Job{
		store:      s,
		locker:     locker,
		dispatcher: dispatcher,
		matcher:    alert.NewMatcher(cfg.Monitor.Cooldown),
		lockTTL:    cfg.Monitor.LockTTL,
		template:   cfg.Alimtalk.VacancyTemplate,
	}
}

// Run executes one monitor invocation. Stages are strictly sequential:
// lock, checkpoint load, scan, batch loads, match, dispatch, persist.
// Snapshot and checkpoint writes come last so a mid-run crash leaves the
// window un-advanced and the next run re-scans it.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	token, err := j.locker.Acquire(ctx, JobName, j.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	if token == "" {
		return nil, ErrAlreadyRunning
	}
	defer func() {
		// Release must survive ctx cancellation or the lock only frees by TTL.
		releaseCtx := context.WithoutCancel(ctx)
		if err := j.locker.Release(releaseCtx, JobName, token); err != nil {
			log.Printf("failed to release %s lock: %v", JobName, err)
		}
	}()

	now := time.Now().UTC()

	lastCheck, err := j.loadCheckpoint(ctx)
	if err != nil {
		return nil, err
	}

	facilities, err := j.store.FacilitiesChangedSince(ctx, lastCheck)
	if err != nil {
		return nil, err
	}

	facilityIDs := make([]int64, len(facilities))
	for i, f := range facilities {
		facilityIDs[i] = f.ID
	}

	// Batch loads: a fixed number of queries however many facilities changed.
	alerts, err := j.store.ActiveAlertsByFacility(ctx, facilityIDs)
	if err != nil {
		return nil, err
	}
	alertsByFacility := make(map[int64][]model.Alert)
	userIDSet := make(map[int64]struct{})
	for _, a := range alerts {
		alertsByFacility[a.FacilityID] = append(alertsByFacility[a.FacilityID], a)
		userIDSet[a.UserID] = struct{}{}
	}
	userIDs := make([]int64, 0, len(userIDSet))
	for id := range userIDSet {
		userIDs = append(userIDs, id)
	}

	users, err := j.store.UsersByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	usersByID := make(map[int64]model.User, len(users))
	for _, u := range users {
		usersByID[u.ID] = u
	}

	snapshots, err := j.store.LatestSnapshots(ctx, facilityIDs)
	if err != nil {
		return nil, err
	}

	predictions, err := j.store.ValidPredictions(ctx, facilityIDs, now)
	if err != nil {
		return nil, err
	}
	predictionByFacility := make(map[int64]model.TOPrediction, len(predictions))
	for _, p := range predictions {
		predictionByFacility[p.FacilityID] = p
	}

	pushSubs, err := j.store.PushSubscriptionsByUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	subsByUser := make(map[int64][]model.PushSubscription)
	for _, sub := range pushSubs {
		subsByUser[sub.UserID] = append(subsByUser[sub.UserID], sub)
	}

	// Diff + match.
	result := &Result{
		FacilitiesChecked: len(facilities),
		LastCheck:         lastCheck,
	}
	newSnapshots := make([]model.FacilitySnapshot, 0, len(facilities))
	var firedAlertIDs []int64
	var queue []notify.Message

	for i := range facilities {
		facility := &facilities[i]

		newSnapshots = append(newSnapshots, model.FacilitySnapshot{
			FacilityID:      facility.ID,
			Status:          facility.Status,
			CapacityTotal:   facility.CapacityTotal,
			CapacityCurrent: facility.CapacityCurrent,
			CapacityWaiting: facility.CapacityWaiting,
			SnapshotAt:      now,
		})

		var snapshot *model.FacilitySnapshot
		if snap, ok := snapshots[facility.ID]; ok {
			snapshot = &snap
		}
		var prediction *model.TOPrediction
		if pred, ok := predictionByFacility[facility.ID]; ok {
			prediction = &pred
		}

		firings := j.matcher.Match(now, facility, snapshot, prediction, alertsByFacility[facility.ID])
		for _, firing := range firings {
			firedAlertIDs = append(firedAlertIDs, firing.Alert.ID)
			result.AlertsTriggered++
			if firing.PredictionOnly {
				result.PredictionAlertsTriggered++
			}
			queue = append(queue, j.buildMessages(facility, firing.Alert, usersByID, subsByUser)...)
		}
	}

	// Dispatch before persisting: a lost notification never rolls back the
	// cooldown bookkeeping, but an unpersisted run must not have advanced it.
	dispatched := j.dispatcher.Dispatch(ctx, queue)
	result.AlimtalksSent = dispatched.AlimtalksSent
	result.PushesSent = dispatched.PushesSent

	if err := j.store.BulkUpdateLastTriggered(ctx, firedAlertIDs, now); err != nil {
		return nil, err
	}
	if err := j.store.InsertSnapshots(ctx, newSnapshots); err != nil {
		return nil, err
	}
	if err := j.store.SetConfigValue(ctx, model.ConfigVacancyAlertLastCheck,
		now.Format(time.RFC3339), "last TO monitor run"); err != nil {
		return nil, err
	}

	result.Timestamp = time.Now().UTC()
	return result, nil
}

// loadCheckpoint reads the scanned-up-to marker. Absent key means first
// run: return the zero time so the scan covers the full facility set.
func (j *Job) loadCheckpoint(ctx context.Context) (time.Time, error) {
	raw, err := j.store.GetConfigValue(ctx, model.ConfigVacancyAlertLastCheck)
	if err != nil {
		return time.Time{}, err
	}
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		log.Printf("invalid checkpoint %q, falling back to full scan: %v", raw, err)
		return time.Time{}, nil
	}
	return t, nil
}

// buildMessages applies channel gating for one firing: kakao requires the
// channel, a configured template, user opt-in and a phone number; push
// requires the channel and at least one live subscription.
func (j *Job) buildMessages(facility *model.Facility, a model.Alert, usersByID map[int64]model.User, subsByUser map[int64][]model.PushSubscription) []notify.Message {
	var msgs []notify.Message
	user, hasUser := usersByID[a.UserID]

	if a.HasChannel(model.ChannelKakao) && j.template != "" &&
		hasUser && user.AlimtalkOptIn && user.Phone != "" {
		toCount := facility.Vacancy()
		if toCount < 1 {
			toCount = 1
		}
		msgs = append(msgs, notify.Message{
			Channel:    model.ChannelKakao,
			UserID:     user.ID,
			Phone:      user.Phone,
			TemplateID: j.template,
			Variables: map[string]string{
				"facilityName": facility.Name,
				"toCount":      strconv.Itoa(toCount),
				"address":      facility.Address,
			},
		})
	}

	if a.HasChannel(model.ChannelPush) {
		payload, _ := json.Marshal(map[string]string{
			"title": "빈자리 알림",
			"body":  fmt.Sprintf("%s에 빈자리가 생겼어요", facility.Name),
		})
		for i := range subsByUser[a.UserID] {
			sub := subsByUser[a.UserID][i]
			msgs = append(msgs, notify.Message{
				Channel:      model.ChannelPush,
				UserID:       a.UserID,
				Subscription: &sub,
				Payload:      payload,
			})
		}
	}
	return msgs
}
