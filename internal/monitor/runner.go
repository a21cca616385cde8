package monitor

import (
	"context"
	"errors"
	"log"
	"time"
)

// Runner drives the monitor job on a fixed interval for deployments
// without an external cron. Each tick is one job invocation; overlap
// protection still comes from the distributed lock, so running both the
// runner and an external scheduler is safe.
type Runner struct {
	job      *Job
	interval time.Duration
}

// NewRunner creates a runner ticking at the given interval.
func NewRunner(job *Job, interval time.Duration) *Runner {
	return &Runner{job: job, interval: interval}
}

// Run executes the job immediately and then on every interval until ctx
// is cancelled.
func (r *Runner) Run(ctx context.Context) {
	log.Printf("starting monitor runner (interval %s)", r.interval)

	r.runOnce(ctx)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("monitor runner shutting down")
			return
		case <-timer.C:
			r.runOnce(ctx)
			timer.Reset(r.interval)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	result, err := r.job.Run(ctx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		log.Println("monitor run skipped: lock held by another instance")
	case err != nil:
		log.Printf("monitor run failed: %v", err)
	default:
		log.Printf("monitor run finished: %d facilities, %d alerts (%d prediction-only), %d alimtalks, %d pushes",
			result.FacilitiesChecked, result.AlertsTriggered,
			result.PredictionAlertsTriggered, result.AlimtalksSent, result.PushesSent)
	}
}
