// Package jobs runs background maintenance tasks over Asynq: profile
// snapshot warmup and periodic local cache sweeps.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskProfileWarmup pre-builds profile snapshots for a set of users.
	TaskProfileWarmup = "profile:warmup"
	// TaskCacheSweep evicts expired entries from the local cache tier.
	TaskCacheSweep = "cache:sweep"
)

// ProfileWarmupPayload names the users whose snapshots should be rebuilt.
type ProfileWarmupPayload struct {
	TenantID string   `json:"tenant_id"`
	UserIDs  []string `json:"user_ids"`
}

// NewProfileWarmupTask constructs an Asynq task for snapshot warmup.
func NewProfileWarmupTask(payload ProfileWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProfileWarmup, data, asynq.Queue(QueueDefault)), nil
}

// CacheSweepPayload carries scheduling metadata.
type CacheSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewCacheSweepTask constructs an Asynq task for a local cache sweep.
func NewCacheSweepTask(at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(CacheSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheSweep, data, asynq.Queue(QueueDefault)), nil
}
