package api

import (
	"cu-log-sync/internal/ingest"
	"cu-log-sync/internal/store"
)

// Runs is the part of the ingest service the status server drives.
type Runs interface {
	LastRun() (ingest.RunSummary, bool)
	Trigger() error
	Running() bool
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	runs  Runs
	store store.Store
}

// NewHandler creates a new API handler.
func NewHandler(runs Runs, s store.Store) *Handler {
	return &Handler{
		runs:  runs,
		store: s,
	}
}
