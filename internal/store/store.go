package store

import "time"

// Store is the persistence interface for the control activity trail.
// Defined at the consumer side per Go conventions.
type Store interface {
	RecordControl(e *ControlEvent) error
	ListControls(f ControlFilter) ([]ControlEvent, error)

	// Maintenance
	Cleanup() error
	Close() error
}

// ControlEvent is one persisted per-device control outcome.
type ControlEvent struct {
	ID         int64
	Tool       string
	DeviceID   string
	DeviceName string
	Success    bool
	Detail     string
	CreatedAt  time.Time
}

// ControlFilter specifies criteria for listing control events.
type ControlFilter struct {
	Tool       string
	FailedOnly bool
	Limit      int
	Since      time.Time
}
