package api

import (
	"context"

	"github.com/SherClockHolmes/webpush-go"

	"dotori-monitor-backend/internal/breaker"
	"dotori-monitor-backend/internal/isalang"
	"dotori-monitor-backend/internal/monitor"
	"dotori-monitor-backend/internal/store"
)

// MonitorRunner runs one TO-monitor invocation.
type MonitorRunner interface {
	Run(ctx context.Context) (*monitor.Result, error)
}

// SyncRunner runs one isalang sync invocation.
type SyncRunner interface {
	Run(ctx context.Context) (*isalang.Result, error)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	monitor  MonitorRunner
	sync     SyncRunner
	breakers *breaker.Registry
	webpush  *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, monitorJob MonitorRunner, syncJob SyncRunner, breakers *breaker.Registry, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:    s,
		monitor:  monitorJob,
		sync:     syncJob,
		breakers: breakers,
		webpush:  webpushOptions,
	}
}
