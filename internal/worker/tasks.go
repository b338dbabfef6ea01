// Package worker runs the review sweep as an asynq periodic task, for
// deployments with several API replicas where only one sweep per interval
// should run.
package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TypeReviewSweep is the asynq task type of the expired review sweep.
const TypeReviewSweep = "review:sweep"

// SweepPayload is carried by review:sweep tasks.  asynq.Unique hashes the
// type and payload, so the payload must not vary between replicas.
type SweepPayload struct {
	Interval string `json:"interval"`
}

// NewSweepTask builds a review:sweep task.  Unique keeps replicas that
// share a scheduler from enqueueing the same sweep twice per interval.
func NewSweepTask(interval time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(SweepPayload{Interval: interval.String()})
	if err != nil {
		return nil, fmt.Errorf("marshal sweep payload: %w", err)
	}
	return asynq.NewTask(TypeReviewSweep, payload,
		asynq.MaxRetry(0),
		asynq.Unique(interval),
		asynq.Timeout(interval),
	), nil
}
