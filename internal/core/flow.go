package core

import (
	"time"
)

// CycleStatus represents the current state of a poll cycle
type CycleStatus string

const (
	CycleStatusRunning   CycleStatus = "running"
	CycleStatusCompleted CycleStatus = "completed"
	CycleStatusFailed    CycleStatus = "failed"
)

// CycleReport summarises a single pass over every query
type CycleReport struct {
	ID          string       `json:"id" yaml:"id"`
	StartedAt   time.Time    `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status      CycleStatus  `json:"status" yaml:"status"`
	Queries     int          `json:"queries" yaml:"queries"`
	Fetched     int          `json:"fetched" yaml:"fetched"`
	Sent        int          `json:"sent" yaml:"sent"`
	SoftFailed  int          `json:"soft_failed" yaml:"soft_failed"`
	Skipped     int          `json:"skipped" yaml:"skipped"`
	Errors      []CycleError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// CycleError tracks errors that occur during a cycle
type CycleError struct {
	Stage      string    `json:"stage" yaml:"stage"` // "queries", "search", "filter", "notify", "dedupe", "cycle"
	Query      string    `json:"query,omitempty" yaml:"query,omitempty"`
	ItemID     string    `json:"item_id,omitempty" yaml:"item_id,omitempty"`
	Error      string    `json:"error" yaml:"error"`
	OccurredAt time.Time `json:"occurred_at" yaml:"occurred_at"`
}

// AddError records err against the report without interrupting the cycle.
func (r *CycleReport) AddError(stage, query, itemID string, err error) {
	if r == nil || err == nil {
		return
	}
	r.Errors = append(r.Errors, CycleError{
		Stage:      stage,
		Query:      query,
		ItemID:     itemID,
		Error:      err.Error(),
		OccurredAt: time.Now().UTC(),
	})
}
