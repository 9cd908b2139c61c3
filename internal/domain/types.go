// Package domain defines the core types shared by the sampler, the daily
// aggregator and the warehouse loader.
package domain

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// PositionRecord is a single sampled ISS position. Coordinates are decimal
// degrees; Timestamp is always stored in UTC.
type PositionRecord struct {
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
	Timestamp time.Time `json:"timestamp"`
}

// DailyAverageSpeed is the per-day aggregate. AvgSpeedKm is the mean
// great-circle distance between consecutive ordered samples of the day, not a
// distance over elapsed time. It is nil when no consecutive pair was usable.
type DailyAverageSpeed struct {
	Datestamp  time.Time `json:"datestamp"`
	AvgSpeedKm *float64  `json:"avg_speed_km"`
	Samples    int       `json:"samples"`
	Pairs      int       `json:"pairs"`
	Skipped    int       `json:"skipped"`
}

// ---------------------------------------------------------------------------
// Warehouse loads
// ---------------------------------------------------------------------------

// LoadTarget names one of the fixed warehouse tables the loader populates.
type LoadTarget string

const (
	TargetLastPosition LoadTarget = "last_position"
	TargetAvgSpeed     LoadTarget = "avg_speed"
)

// LoadTargets lists every target in submission order.
var LoadTargets = []LoadTarget{TargetLastPosition, TargetAvgSpeed}

// Table returns the warehouse table the target is copied into.
func (t LoadTarget) Table() string {
	switch t {
	case TargetLastPosition:
		return "iss_last_position"
	case TargetAvgSpeed:
		return "iss_avg_speed"
	default:
		return ""
	}
}

// JobStatus is the warehouse-side status of a submitted statement.
type JobStatus string

const (
	JobSubmitted JobStatus = "SUBMITTED"
	JobPicked    JobStatus = "PICKED"
	JobStarted   JobStatus = "STARTED"
	JobFinished  JobStatus = "FINISHED"
	JobFailed    JobStatus = "FAILED"
	JobAborted   JobStatus = "ABORTED"
)

// Terminal reports whether no further transition can occur from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobFinished, JobFailed, JobAborted:
		return true
	}
	return false
}

// ParseJobStatus maps a status string reported by a warehouse to a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case JobSubmitted, JobPicked, JobStarted, JobFinished, JobFailed, JobAborted:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// LoadJob is a bulk load submitted to the warehouse. It lives only for the
// duration of a loader run.
type LoadJob struct {
	Target     LoadTarget
	SourcePath string
	QueryText  string
	ID         string
	Status     JobStatus
}

// OutcomeStatus is the final, caller-facing result of a load.
type OutcomeStatus string

const (
	OutcomeSuccess   OutcomeStatus = "SUCCESS"
	OutcomeFailed    OutcomeStatus = "FAILED"
	OutcomeTimedOut  OutcomeStatus = "TIMED_OUT"
	OutcomeCancelled OutcomeStatus = "CANCELLED"
)

// LoadOutcome reports how one load target ended.
type LoadOutcome struct {
	Target      LoadTarget    `json:"target"`
	Status      OutcomeStatus `json:"status"`
	Detail      string        `json:"detail,omitempty"`
	SourcePath  string        `json:"source_path,omitempty"`
	StatementID string        `json:"statement_id,omitempty"`
	Polls       int           `json:"polls"`
	// Err is the cause of a non-success outcome, for errors.Is matching.
	Err error `json:"-"`
}
