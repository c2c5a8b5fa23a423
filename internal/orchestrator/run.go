package orchestrator

import (
	"time"

	"github.com/kebairia/backupd/internal/storage"
)

// Outcome is the terminal result of one attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// State is the orchestrator's position in the attempt lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StateRunning        State = "running"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
	StateRetryScheduled State = "retry_scheduled"
)

// BackupRun records one attempt. ArtifactName is set only when the dump
// succeeded and Locator only when the upload succeeded.
type BackupRun struct {
	ID           string           `json:"id"`
	TriggeredAt  time.Time        `json:"triggered_at"`
	Attempt      int              `json:"attempt"`
	ArtifactName string           `json:"artifact_name,omitempty"`
	Locator      *storage.Locator `json:"locator,omitempty"`
	Outcome      Outcome          `json:"outcome"`
	Err          error            `json:"-"`
	Duration     time.Duration    `json:"duration"`
}

func (r *BackupRun) fail(err error) {
	r.Outcome = OutcomeFailed
	r.Err = err
	r.Locator = nil
}

// Succeeded reports whether both stages completed.
func (r BackupRun) Succeeded() bool { return r.Outcome == OutcomeSucceeded }

// Failure returns the failure detail, empty for a successful run.
func (r BackupRun) Failure() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
