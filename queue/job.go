package queue

import (
	"time"

	"mirlo/model"
)

// BuildItem is one track to include in a build, resolved up front so the
// worker never has to consult the catalog.
type BuildItem struct {
	TrackID    int64  `json:"trackId"`
	Title      string `json:"title"`
	Order      int    `json:"order"`
	StorageKey string `json:"storageKey"`
}

// BuildJob instructs the archive worker to assemble one download artifact.
// Jobs are ephemeral: they live in Redis while queued or claimed and are
// deleted on ack; no durable job history is kept.
type BuildJob struct {
	ID         string            `json:"id"`
	TargetKind model.TargetKind  `json:"targetKind"`
	TargetID   int64             `json:"targetId"`
	Title      string            `json:"title"`
	Format     model.AudioFormat `json:"format"`
	Items      []BuildItem       `json:"items"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}
