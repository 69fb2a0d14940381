package model

import "time"

// Track represents one purchasable track inside a track group.
type Track struct {
	ID           int64     `json:"id"`
	TrackGroupID int64     `json:"trackGroupId"`
	Title        string    `json:"title"`
	Order        int       `json:"order"` // ordinal position within the track group
	Status       string    `json:"status"`
	State        int8      `json:"state"` // 0=soft deleted, 1=normal
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	// Audio is the stored master-audio record for this track. Populated by
	// repository queries that join track_audio.
	Audio *TrackAudio `json:"audio,omitempty"`
}

// TrackAudio references a track's stored master audio in object storage.
// Generated format variants live under "{StorageKey}/generated.{format}",
// one object per format; an upstream transcoding step produces them at
// upload time.
type TrackAudio struct {
	ID            int64     `json:"id"`
	TrackID       int64     `json:"trackId"`
	StorageKey    string    `json:"-"` // object key prefix, not exposed in API
	FileExtension string    `json:"fileExtension"` // extension of the original upload
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
