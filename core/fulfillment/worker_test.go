package fulfillment

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"mirlo/cache"
	"mirlo/core/archive"
	"mirlo/model"
	"mirlo/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobSource struct {
	acked []string
}

func (f *fakeJobSource) Dequeue(ctx context.Context, timeout time.Duration) (*queue.BuildJob, error) {
	return nil, nil
}

func (f *fakeJobSource) Ack(ctx context.Context, jobID string) error {
	f.acked = append(f.acked, jobID)
	return nil
}

func (f *fakeJobSource) CollectStalled(ctx context.Context, visibility time.Duration) ([]*queue.BuildJob, error) {
	return nil, nil
}

// brokenStore fails every upload; reads come from the wrapped store.
type brokenStore struct {
	*fakeObjectStore
}

func (b brokenStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	return errors.New("upload refused")
}

func testJob() *queue.BuildJob {
	return &queue.BuildJob{
		ID:         "job-1",
		TargetKind: model.TargetTrackGroup,
		TargetID:   7,
		Title:      "First Album",
		Format:     model.FormatFLAC,
		Items: []queue.BuildItem{
			{TrackID: 100, Title: "A", Order: 1, StorageKey: "aud-100"},
			{TrackID: 101, Title: "B", Order: 2, StorageKey: "aud-101"},
		},
	}
}

func newWorkerFixture(t *testing.T, store archive.ObjectStore) (*Worker, *fakeJobSource, *fakeStatusStore) {
	t.Helper()
	builder := archive.NewBuilder(store, "audio", "downloads", t.TempDir())
	source := &fakeJobSource{}
	status := newFakeStatusStore()
	return NewWorker(source, builder, status, 1, time.Minute), source, status
}

func TestWorkerProcessBuildsAcksAndRecordsCompletion(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{
		"audio/aud-100/generated.flac": []byte("flac-a"),
		"audio/aud-101/generated.flac": []byte("flac-b"),
	}}
	worker, source, status := newWorkerFixture(t, store)

	worker.process(context.Background(), testJob())

	data, ok := store.objects["downloads/7/flac.zip"]
	require.True(t, ok, "archive must land under its deterministic key")
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "1 - A.flac", zr.File[0].Name)
	assert.Equal(t, "2 - B.flac", zr.File[1].Name)

	assert.Equal(t, []string{"job-1"}, source.acked)
	assert.Equal(t, cache.BuildCompleted, status.jobStates["job-1"])
}

func TestWorkerProcessFailureStillAcks(t *testing.T) {
	store := brokenStore{&fakeObjectStore{objects: map[string][]byte{
		"audio/aud-100/generated.flac": []byte("flac-a"),
		"audio/aud-101/generated.flac": []byte("flac-b"),
	}}}
	worker, source, status := newWorkerFixture(t, store)

	worker.process(context.Background(), testJob())

	// A failed build is terminal, not retried.
	assert.Equal(t, []string{"job-1"}, source.acked)
	assert.Equal(t, cache.BuildFailed, status.jobStates["job-1"])
}

func TestWorkerEmitsCompletedResult(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{
		"audio/aud-100/generated.flac": []byte("flac-a"),
		"audio/aud-101/generated.flac": []byte("flac-b"),
	}}
	worker, _, _ := newWorkerFixture(t, store)

	var got Result
	worker.Events().OnCompleted(func(r Result) { got = r })

	worker.process(context.Background(), testJob())

	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, "7/flac.zip", got.ArtifactKey)
	assert.True(t, got.Built)
}

func TestWorkerRerunOfBuiltArchiveIsNoOp(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{
		"audio/aud-100/generated.flac": []byte("flac-a"),
		"audio/aud-101/generated.flac": []byte("flac-b"),
		"downloads/7/flac.zip":         []byte("already-built"),
	}}
	worker, _, _ := newWorkerFixture(t, store)

	var got Result
	worker.Events().OnCompleted(func(r Result) { got = r })

	worker.process(context.Background(), testJob())

	assert.False(t, got.Built)
	assert.Equal(t, []byte("already-built"), store.objects["downloads/7/flac.zip"])
}

func TestStalledJobStateIsTerminal(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{}}
	worker, _, status := newWorkerFixture(t, store)

	worker.Events().emitStalled(Result{
		JobID:      "job-9",
		TargetKind: model.TargetTrackGroup,
		TargetID:   7,
		Format:     model.FormatFLAC,
	})

	assert.Equal(t, cache.BuildStalled, status.jobStates["job-9"])
}
