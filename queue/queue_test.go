package queue

import (
	"context"
	"strconv"
	"testing"
	"time"

	"mirlo/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client), mr
}

func sampleJob() *BuildJob {
	return &BuildJob{
		TargetKind: model.TargetTrackGroup,
		TargetID:   7,
		Title:      "First Album",
		Format:     model.FormatFLAC,
		Items: []BuildItem{
			{TrackID: 100, Title: "A", Order: 1, StorageKey: "aud-100"},
		},
	}
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, sampleJob())
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	pending, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, int64(7), job.TargetID)
	require.Len(t, job.Items, 1)
	assert.Equal(t, "aud-100", job.Items[0].StorageKey)

	pending, err = q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestDequeueClaimsBeforeReadingPayload(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, sampleJob())
	require.NoError(t, err)

	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	// The claim must exist the moment the entry sits in processing, so the
	// janitor can never mistake a freshly dequeued job for an abandoned one.
	claim, err := mr.Get(claimPrefix + jobID)
	require.NoError(t, err)
	assert.NotEmpty(t, claim)
}

func TestAckRemovesJobClaimAndPayload(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, sampleJob())
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Ack(ctx, jobID))

	assert.False(t, mr.Exists(jobKeyPrefix+jobID))
	assert.False(t, mr.Exists(claimPrefix+jobID))
	processing, err := mr.List(processingKey)
	require.NoError(t, err)
	assert.Empty(t, processing)
}

func TestCollectStalledGrantsGraceToClaimlessEntries(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	// A processing entry with no claim: a worker crashed mid-dequeue, or the
	// claim expired. It must survive the first janitor pass.
	mr.Lpush(processingKey, "orphan-job")

	stalled, err := q.CollectStalled(ctx, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stalled, "claimless entries get a grace pass, not an immediate stall")

	claim, err := mr.Get(claimPrefix + "orphan-job")
	require.NoError(t, err)
	assert.NotEmpty(t, claim, "the grace pass must leave a claim behind")

	// Within the visibility window the grace claim keeps it alive.
	stalled, err = q.CollectStalled(ctx, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stalled)
}

func TestCollectStalledReapsExpiredClaims(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, sampleJob())
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	// Age the claim past the visibility timeout.
	old := strconv.FormatInt(time.Now().UTC().Add(-time.Hour).Unix(), 10)
	require.NoError(t, mr.Set(claimPrefix+jobID, old))

	stalled, err := q.CollectStalled(ctx, time.Minute)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, jobID, stalled[0].ID)
	assert.Equal(t, int64(7), stalled[0].TargetID)

	// Stalled is terminal: nothing left behind, nothing requeued.
	assert.False(t, mr.Exists(jobKeyPrefix+jobID))
	assert.False(t, mr.Exists(claimPrefix+jobID))
	pending, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestDequeueDropsOrphanedIDs(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	// An id whose payload expired before any worker claimed it.
	mr.Lpush(pendingKey, "expired-job")

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)

	processing, err := mr.List(processingKey)
	require.NoError(t, err)
	assert.Empty(t, processing, "orphaned ids must not linger in processing")
}
