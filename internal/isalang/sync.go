package isalang

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"dotori-monitor-backend/config"
	"dotori-monitor-backend/internal/breaker"
	"dotori-monitor-backend/internal/cronlock"
	"dotori-monitor-backend/internal/model"
	"dotori-monitor-backend/internal/notify"
	"dotori-monitor-backend/internal/store"
)

// JobName is the distributed-lock key for the sync job.
const JobName = "sync-isalang"

// ErrAlreadyRunning signals that another instance holds the sync lock.
var ErrAlreadyRunning = errors.New("sync job already running")

// Failure records one partial failure with enough context to debug it
// from the scheduler's response alone.
type Failure struct {
	RegionName   string `json:"regionName"`
	RegionCode   string `json:"regionCode"`
	Stage        string `json:"stage"` // sync | alert | notification
	Reason       string `json:"reason"`
	FacilityName string `json:"facilityName,omitempty"`
	Address      string `json:"address,omitempty"`
}

// Result summarizes one sync run.
type Result struct {
	Batch             int       `json:"batch"`
	Regions           []string  `json:"regions"`
	Created           int       `json:"created"`
	Updated           int       `json:"updated"`
	TotalFacilities   int       `json:"totalFacilities"`
	SkippedFacilities int       `json:"skippedFacilities"`
	FacilityFailures  int       `json:"facilityFailures"`
	AlertsTriggered   int       `json:"alertsTriggered"`
	AlimtalksSent     int       `json:"alimtalksSent"`
	Failures          []Failure `json:"failures"`
	Timestamp         time.Time `json:"timestamp"`
}

// statusChange is one observed facility status transition.
type statusChange struct {
	facilityID int64
	name       string
	address    string
	vacancy    int
	oldStatus  model.FacilityStatus
	newStatus  model.FacilityStatus
}

// SyncJob rotates through the configured regions a few per run, refreshes
// facility rows from the portal and fires alerts on status transitions.
type SyncJob struct {
	store      store.Store
	locker     *cronlock.Locker
	client     *Client
	dispatcher *notify.Dispatcher
	breaker    *breaker.Breaker
	cfg        *config.IsalangConfig
	batchSize  int
	template   string
}

const defaultRegionBatchSize = 5

// NewSyncJob wires a sync job from its collaborators.
func NewSyncJob(s store.Store, locker *cronlock.Locker, client *Client, dispatcher *notify.Dispatcher, registry *breaker.Registry, cfg *config.Config) *SyncJob {
	batchSize := cfg.Isalang.RegionBatchSize
	if batchSize <= 0 {
		batchSize = defaultRegionBatchSize
	}
	return &SyncJob{
		store:      s,
		locker:     locker,
		client:     client,
		dispatcher: dispatcher,
		breaker:    registry.Get("isalang-api"),
		cfg:        &cfg.Isalang,
		batchSize:  batchSize,
		template:   cfg.Alimtalk.VacancyTemplate,
	}
}

// Run executes one sync invocation: pick the next region batch of the
// rotation, sync each region, then trigger alerts for the collected
// status changes. Per-region and per-facility failures are recorded and
// the run continues.
func (j *SyncJob) Run(ctx context.Context) (*Result, error) {
	token, err := j.locker.Acquire(ctx, JobName, j.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	if token == "" {
		return nil, ErrAlreadyRunning
	}
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		if err := j.locker.Release(releaseCtx, JobName, token); err != nil {
			log.Printf("failed to release %s lock: %v", JobName, err)
		}
	}()

	regionNames := make([]string, 0, len(j.cfg.RegionCodes))
	for name := range j.cfg.RegionCodes {
		regionNames = append(regionNames, name)
	}
	if len(regionNames) == 0 {
		return nil, fmt.Errorf("no regions configured")
	}
	sort.Strings(regionNames)

	currentBatch, err := j.loadBatchCounter(ctx)
	if err != nil {
		return nil, err
	}
	batchCount := (len(regionNames) + j.batchSize - 1) / j.batchSize
	currentBatch %= batchCount
	startIdx := (currentBatch * j.batchSize) % len(regionNames)

	batchSize := j.batchSize
	if batchSize > len(regionNames) {
		batchSize = len(regionNames)
	}

	result := &Result{Batch: currentBatch, Failures: []Failure{}}
	var changes []statusChange

	for offset := 0; offset < batchSize; offset++ {
		regionName := regionNames[(startIdx+offset)%len(regionNames)]
		regionCode := j.cfg.RegionCodes[regionName]
		result.Regions = append(result.Regions, regionName)

		regionChanges, err := j.syncRegion(ctx, regionName, regionCode, result)
		if err != nil {
			result.Failures = append(result.Failures, Failure{
				RegionName: regionName,
				RegionCode: regionCode,
				Stage:      "sync",
				Reason:     err.Error(),
			})
			continue
		}
		changes = append(changes, regionChanges...)
	}

	j.triggerAlerts(ctx, changes, result)

	nextBatch := (currentBatch + 1) % batchCount
	if err := j.store.SetConfigValue(ctx, model.ConfigIsalangSyncLastBatch,
		strconv.Itoa(nextBatch), "isalang sync rotation counter"); err != nil {
		return nil, err
	}
	if err := j.store.SetConfigValue(ctx, model.ConfigIsalangSyncLastRun,
		time.Now().UTC().Format(time.RFC3339), "last isalang sync run"); err != nil {
		return nil, err
	}

	result.Batch = nextBatch
	result.Timestamp = time.Now().UTC()
	return result, nil
}

func (j *SyncJob) loadBatchCounter(ctx context.Context) (int, error) {
	raw, err := j.store.GetConfigValue(ctx, model.ConfigIsalangSyncLastBatch)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, nil
	}
	return n, nil
}

// syncRegion fetches one region through the circuit breaker and upserts
// its facilities, snapshotting each and collecting status transitions.
func (j *SyncJob) syncRegion(ctx context.Context, regionName, regionCode string, result *Result) ([]statusChange, error) {
	upstream, err := breaker.Do(j.breaker, func() ([]Facility, error) {
		return j.client.FetchRegion(ctx, regionCode)
	}, nil)
	if err != nil {
		return nil, err
	}
	result.TotalFacilities += len(upstream)
	if len(upstream) == 0 {
		return nil, nil
	}

	keys := make([]store.FacilityKey, 0, len(upstream))
	for _, f := range upstream {
		if f.Name == "" || f.Address == "" {
			result.SkippedFacilities++
			continue
		}
		keys = append(keys, store.FacilityKey{Name: f.Name, Address: f.Address})
	}
	existing, err := j.store.FacilitiesByNameAddress(ctx, keys)
	if err != nil {
		return nil, err
	}
	existingByKey := make(map[string]model.Facility, len(existing))
	for _, f := range existing {
		existingByKey[lookupKey(f.Name, f.Address)] = f
	}

	now := time.Now().UTC()
	var changes []statusChange
	var snapshots []model.FacilitySnapshot

	for _, f := range upstream {
		if f.Name == "" || f.Address == "" {
			continue
		}
		newStatus := f.Status()
		facilityID, oldStatus, err := j.upsertFacility(ctx, &f, existingByKey, regionName, now)
		if err != nil {
			result.FacilityFailures++
			result.Failures = append(result.Failures, Failure{
				RegionName:   regionName,
				RegionCode:   regionCode,
				Stage:        "sync",
				Reason:       err.Error(),
				FacilityName: f.Name,
				Address:      f.Address,
			})
			continue
		}
		if oldStatus == "" {
			result.Created++
		} else {
			result.Updated++
		}

		snapshots = append(snapshots, model.FacilitySnapshot{
			FacilityID:      facilityID,
			Status:          newStatus,
			CapacityTotal:   f.Capacity,
			CapacityCurrent: f.CurrentEnrollment,
			CapacityWaiting: f.WaitingCount,
			SnapshotAt:      now,
		})

		if oldStatus != "" && oldStatus != newStatus {
			vacancy := f.Capacity - f.CurrentEnrollment
			if vacancy < 0 {
				vacancy = 0
			}
			changes = append(changes, statusChange{
				facilityID: facilityID,
				name:       f.Name,
				address:    f.Address,
				vacancy:    vacancy,
				oldStatus:  oldStatus,
				newStatus:  newStatus,
			})
		}
	}

	if err := j.store.InsertSnapshots(ctx, snapshots); err != nil {
		return nil, err
	}
	return changes, nil
}

// upsertFacility refreshes an existing row or creates a new one. It
// returns the facility ID and the previous status ("" when newly created,
// since a new facility has no baseline and must not trigger alerts).
func (j *SyncJob) upsertFacility(ctx context.Context, f *Facility, existingByKey map[string]model.Facility, regionName string, now time.Time) (int64, model.FacilityStatus, error) {
	if prev, ok := existingByKey[lookupKey(f.Name, f.Address)]; ok {
		err := j.store.UpdateFacilityState(ctx, prev.ID, store.FacilityStateUpdate{
			Status:          f.Status(),
			CapacityTotal:   f.Capacity,
			CapacityCurrent: f.CurrentEnrollment,
			CapacityWaiting: f.WaitingCount,
			Phone:           f.Phone,
			SyncedAt:        now,
		})
		if err != nil {
			return 0, "", err
		}
		return prev.ID, prev.Status, nil
	}

	parts := strings.Fields(f.Address)
	facility := model.Facility{
		Name:            f.Name,
		Type:            f.Type,
		Status:          f.Status(),
		Address:         f.Address,
		Phone:           f.Phone,
		CapacityTotal:   f.Capacity,
		CapacityCurrent: f.CurrentEnrollment,
		CapacityWaiting: f.WaitingCount,
		DataSource:      "isalang",
		LastSyncedAt:    now,
	}
	if len(parts) > 0 {
		facility.Sido = parts[0]
	}
	if len(parts) > 1 {
		facility.Sigungu = parts[1]
	} else {
		facility.Sigungu = regionName
	}
	if len(parts) > 2 {
		facility.Dong = parts[2]
	}

	if err := j.store.CreateFacility(ctx, &facility); err != nil {
		return 0, "", err
	}
	return facility.ID, "", nil
}

// triggerAlerts fires vacancy alerts on transitions to available and
// waitlist alerts on transitions to waiting, then dispatches alimtalks.
func (j *SyncJob) triggerAlerts(ctx context.Context, changes []statusChange, result *Result) {
	if len(changes) == 0 {
		return
	}

	idSet := make(map[int64]struct{})
	for _, c := range changes {
		idSet[c.facilityID] = struct{}{}
	}
	facilityIDs := make([]int64, 0, len(idSet))
	for id := range idSet {
		facilityIDs = append(facilityIDs, id)
	}

	alerts, err := j.store.ActiveAlertsByFacility(ctx, facilityIDs)
	if err != nil {
		result.Failures = append(result.Failures, Failure{Stage: "alert", Reason: err.Error()})
		return
	}
	alertsByKey := make(map[string][]model.Alert)
	userIDSet := make(map[int64]struct{})
	for _, a := range alerts {
		key := fmt.Sprintf("%d:%s", a.FacilityID, a.Type)
		alertsByKey[key] = append(alertsByKey[key], a)
		userIDSet[a.UserID] = struct{}{}
	}
	userIDs := make([]int64, 0, len(userIDSet))
	for id := range userIDSet {
		userIDs = append(userIDs, id)
	}
	users, err := j.store.UsersByIDs(ctx, userIDs)
	if err != nil {
		result.Failures = append(result.Failures, Failure{Stage: "alert", Reason: err.Error()})
		return
	}
	usersByID := make(map[int64]model.User, len(users))
	for _, u := range users {
		usersByID[u.ID] = u
	}

	now := time.Now().UTC()
	var firedAlertIDs []int64
	var queue []notify.Message

	for _, change := range changes {
		if change.newStatus == model.StatusAvailable {
			for _, a := range alertsByKey[fmt.Sprintf("%d:%s", change.facilityID, model.AlertVacancy)] {
				firedAlertIDs = append(firedAlertIDs, a.ID)
				result.AlertsTriggered++
				if a.HasChannel(model.ChannelKakao) && j.template != "" {
					user, ok := usersByID[a.UserID]
					if ok && user.AlimtalkOptIn && user.Phone != "" {
						toCount := change.vacancy
						if toCount < 1 {
							toCount = 1
						}
						queue = append(queue, notify.Message{
							Channel:    model.ChannelKakao,
							UserID:     user.ID,
							Phone:      user.Phone,
							TemplateID: j.template,
							Variables: map[string]string{
								"facilityName": change.name,
								"toCount":      strconv.Itoa(toCount),
								"address":      change.address,
							},
						})
					}
				}
			}
		}
		if change.newStatus == model.StatusWaiting {
			for _, a := range alertsByKey[fmt.Sprintf("%d:%s", change.facilityID, model.AlertWaitlistChange)] {
				firedAlertIDs = append(firedAlertIDs, a.ID)
				result.AlertsTriggered++
			}
		}
	}

	if err := j.store.BulkUpdateLastTriggered(ctx, firedAlertIDs, now); err != nil {
		result.Failures = append(result.Failures, Failure{Stage: "alert", Reason: err.Error()})
	}

	dispatched := j.dispatcher.Dispatch(ctx, queue)
	result.AlimtalksSent = dispatched.AlimtalksSent
	if dispatched.Failed > 0 {
		result.Failures = append(result.Failures, Failure{
			Stage:  "notification",
			Reason: fmt.Sprintf("%d notification sends failed", dispatched.Failed),
		})
	}
}

func lookupKey(name, address string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(address))
}
