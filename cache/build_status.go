package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mirlo/model"

	"github.com/redis/go-redis/v9"
)

// BuildState is the processing state of an archive build, tracked per
// (target, format) and per job id so callers can poll.
type BuildState string

const (
	BuildQueued    BuildState = "queued"
	BuildRunning   BuildState = "running"
	BuildCompleted BuildState = "completed"
	BuildFailed    BuildState = "failed"
	BuildStalled   BuildState = "stalled"
)

const statusTTL = 24 * time.Hour

// BuildStatusCache records build progress in Redis. It is written by the
// archive worker's event listeners and read by the generate and job-poll
// endpoints.
type BuildStatusCache struct {
	client *redis.Client
}

// NewBuildStatusCache creates a BuildStatusCache.
func NewBuildStatusCache(client *redis.Client) *BuildStatusCache {
	return &BuildStatusCache{client: client}
}

func targetStateKey(target model.Target, format model.AudioFormat) string {
	return fmt.Sprintf("fulfillment:state:%s:%d:%s", target.Kind, target.ID, format)
}

func jobStateKey(jobID string) string {
	return "fulfillment:jobstate:" + jobID
}

// SetTargetState records the build state for a (target, format) pair.
func (c *BuildStatusCache) SetTargetState(ctx context.Context, target model.Target, format model.AudioFormat, state BuildState) error {
	if err := c.client.Set(ctx, targetStateKey(target, format), string(state), statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to set build state for %s/%d: %w", target.Kind, target.ID, err)
	}
	return nil
}

// TargetState returns the recorded build state for a (target, format) pair.
// The second return is false when no state is recorded.
func (c *BuildStatusCache) TargetState(ctx context.Context, target model.Target, format model.AudioFormat) (BuildState, bool, error) {
	val, err := c.client.Get(ctx, targetStateKey(target, format)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get build state for %s/%d: %w", target.Kind, target.ID, err)
	}
	return BuildState(val), true, nil
}

// SetJobState records the state of one build job.
func (c *BuildStatusCache) SetJobState(ctx context.Context, jobID string, state BuildState) error {
	if err := c.client.Set(ctx, jobStateKey(jobID), string(state), statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to set state for job %s: %w", jobID, err)
	}
	return nil
}

// JobState returns the state of one build job. The second return is false
// when the job is unknown (expired or never enqueued).
func (c *BuildStatusCache) JobState(ctx context.Context, jobID string) (BuildState, bool, error) {
	val, err := c.client.Get(ctx, jobStateKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get state for job %s: %w", jobID, err)
	}
	return BuildState(val), true, nil
}
