package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"mirlo/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	pendingKey    = "fulfillment:pending"
	processingKey = "fulfillment:processing"
	jobKeyPrefix  = "fulfillment:job:"
	claimPrefix   = "fulfillment:claim:"

	// jobTTL bounds how long an unclaimed or abandoned payload can linger.
	jobTTL = 24 * time.Hour
)

// Queue is a Redis-backed build-job queue. Producers enqueue onto a pending
// list; workers atomically move job ids to a processing list and record a
// claim timestamp, which the stall janitor uses to detect abandoned jobs.
type Queue struct {
	client *redis.Client
}

// New creates a Queue on an established Redis client.
func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func jobKey(id string) string   { return jobKeyPrefix + id }
func claimKey(id string) string { return claimPrefix + id }

// Enqueue stores the job payload and pushes its id onto the pending list.
// Returns the job id, minted here when the job carries none.
func (q *Queue) Enqueue(ctx context.Context, job *BuildJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal build job: %w", err)
	}

	if err := q.client.Set(ctx, jobKey(job.ID), payload, jobTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to store build job %s: %w", job.ID, err)
	}
	if err := q.client.LPush(ctx, pendingKey, job.ID).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue build job %s: %w", job.ID, err)
	}

	logger.Info("build job enqueued",
		logger.String("jobId", job.ID),
		logger.String("target", fmt.Sprintf("%s/%d", job.TargetKind, job.TargetID)),
		logger.String("format", job.Format.String()))
	return job.ID, nil
}

// Dequeue blocks up to timeout for a pending job, claims it, and returns its
// payload. Returns (nil, nil) when the wait times out with nothing pending.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*BuildJob, error) {
	id, err := q.client.BLMove(ctx, pendingKey, processingKey, "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue build job: %w", err)
	}

	// Claim before anything else so the stall janitor never observes this
	// entry claimless while a worker is loading its payload.
	now := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	if err := q.client.Set(ctx, claimKey(id), now, jobTTL).Err(); err != nil {
		return nil, fmt.Errorf("failed to record claim for job %s: %w", id, err)
	}

	payload, err := q.client.Get(ctx, jobKey(id)).Result()
	if err != nil {
		// Payload expired or was never written; drop the orphaned id.
		q.client.LRem(ctx, processingKey, 1, id)
		q.client.Del(ctx, claimKey(id))
		if errors.Is(err, redis.Nil) {
			logger.Warn("dropping claimed job with missing payload", logger.String("jobId", id))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load build job %s: %w", id, err)
	}

	var job BuildJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		q.client.LRem(ctx, processingKey, 1, id)
		q.client.Del(ctx, jobKey(id), claimKey(id))
		return nil, fmt.Errorf("failed to unmarshal build job %s: %w", id, err)
	}

	return &job, nil
}

// Ack removes a completed or failed job from the processing list and deletes
// its payload and claim.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	if err := q.client.LRem(ctx, processingKey, 1, jobID).Err(); err != nil {
		return fmt.Errorf("failed to remove job %s from processing: %w", jobID, err)
	}
	if err := q.client.Del(ctx, jobKey(jobID), claimKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	return nil
}

// CollectStalled scans the processing list for jobs whose claim timestamp is
// older than the visibility timeout and removes them. An entry with no claim
// on record gets a fresh grace claim instead, so it can only stall on a
// later pass. Stalled jobs are terminal: they are reported, not requeued.
func (q *Queue) CollectStalled(ctx context.Context, visibility time.Duration) ([]*BuildJob, error) {
	ids, err := q.client.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan processing list: %w", err)
	}

	cutoff := time.Now().UTC().Add(-visibility).Unix()
	var stalled []*BuildJob

	for _, id := range ids {
		claimedAt, err := q.client.Get(ctx, claimKey(id)).Result()
		if err == nil {
			ts, parseErr := strconv.ParseInt(claimedAt, 10, 64)
			if parseErr == nil && ts > cutoff {
				continue // still within its visibility window
			}
		} else if errors.Is(err, redis.Nil) {
			// No claim on record. Dequeue writes the claim right after the
			// move, so this is either a crash mid-dequeue or an expired
			// claim; grant a grace claim and stall it next pass if the
			// entry is still here unclaimed.
			now := strconv.FormatInt(time.Now().UTC().Unix(), 10)
			if err := q.client.Set(ctx, claimKey(id), now, jobTTL).Err(); err != nil {
				return nil, fmt.Errorf("failed to record grace claim for job %s: %w", id, err)
			}
			continue
		} else {
			return nil, fmt.Errorf("failed to read claim for job %s: %w", id, err)
		}

		job := &BuildJob{ID: id}
		if payload, err := q.client.Get(ctx, jobKey(id)).Result(); err == nil {
			_ = json.Unmarshal([]byte(payload), job)
		}

		if err := q.Ack(ctx, id); err != nil {
			return nil, err
		}
		stalled = append(stalled, job)
	}

	return stalled, nil
}

// PendingCount reports how many jobs are waiting to be claimed.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read pending count: %w", err)
	}
	return n, nil
}
