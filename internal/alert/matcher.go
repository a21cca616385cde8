// Package alert holds the pure trigger-decision logic for the monitoring
// pipeline. No I/O happens here; the monitor job feeds it batch-loaded
// state and acts on the firings it returns.
package alert

import (
	"time"

	"dotori-monitor-backend/internal/model"
)

// Firing records that one alert fired during a matcher pass.
// PredictionOnly marks firings driven purely by a forecast, with no
// observed status change backing them. Reported separately upstream.
type Firing struct {
	Alert          model.Alert
	PredictionOnly bool
}

// Matcher decides which alert subscriptions fire for a facility's state
// change. Cooldown bounds how often the prediction path may re-fire the
// same alert; it defaults to 24h.
type Matcher struct {
	Cooldown time.Duration
}

// NewMatcher creates a matcher with the given prediction cooldown.
func NewMatcher(cooldown time.Duration) *Matcher {
	if cooldown <= 0 {
		cooldown = 24 * time.Hour
	}
	return &Matcher{Cooldown: cooldown}
}

// Match evaluates every alert on one facility against its current state,
// its last snapshot (nil on first observation: nothing to diff, no
// status/waitlist firings) and a live prediction (nil when absent or
// expired).
func (m *Matcher) Match(now time.Time, facility *model.Facility, snapshot *model.FacilitySnapshot, prediction *model.TOPrediction, alerts []model.Alert) []Firing {
	actualVacancy := clamp(facility.CapacityTotal) - clamp(facility.CapacityCurrent)
	if actualVacancy < 0 {
		actualVacancy = 0
	}
	predictedVacancy := 0
	if prediction != nil {
		predictedVacancy = clamp(prediction.PredictedVacancies)
	}

	statusChanged := snapshot != nil && snapshot.Status != facility.Status
	waitingChanged := snapshot != nil && clamp(snapshot.CapacityWaiting) != clamp(facility.CapacityWaiting)

	var firings []Firing
	for _, a := range alerts {
		threshold := a.Threshold()

		statusFired := a.Type == model.AlertVacancy &&
			statusChanged &&
			facility.Status == model.StatusAvailable &&
			actualVacancy >= threshold

		predictionFired := a.Type == model.AlertVacancy &&
			predictedVacancy >= threshold &&
			m.cooldownPassed(now, a.LastTriggeredAt)

		waitlistFired := a.Type == model.AlertWaitlistChange && waitingChanged

		if !statusFired && !predictionFired && !waitlistFired {
			continue
		}
		firings = append(firings, Firing{
			Alert:          a,
			PredictionOnly: predictionFired && !statusFired && !waitlistFired,
		})
	}
	return firings
}

// cooldownPassed reports whether the alert is outside its rolling
// prediction-notification window. A never-triggered alert always passes.
func (m *Matcher) cooldownPassed(now time.Time, lastTriggeredAt *time.Time) bool {
	if lastTriggeredAt == nil {
		return true
	}
	return now.Sub(*lastTriggeredAt) >= m.Cooldown
}

// clamp coerces malformed (negative) capacity data to zero instead of
// letting it poison the comparison math.
func clamp(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
