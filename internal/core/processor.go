package core

import (
	"context"
	"time"
)

// TriggerEvent represents a trigger firing
type TriggerEvent struct {
	Source    string
	Timestamp time.Time
}

// Trigger decides when the next poll cycle starts
type Trigger interface {
	// Name returns the trigger name used in logs
	Name() string
	// Start begins the trigger and returns a channel of trigger events.
	// The trigger manages its own lifecycle and closes the channel once ctx is done.
	Start(ctx context.Context) (<-chan TriggerEvent, error)
	// Stop gracefully shuts down the trigger
	Stop() error
}
