package model

import "time"

// TrackGroup represents a release (album) sold as a unit.
type TrackGroup struct {
	ID        int64     `json:"id"`
	ArtistID  int64     `json:"artistId"` // owning artist user id
	Title     string    `json:"title"`
	Published bool      `json:"published"` // publicly downloadable
	State     int8      `json:"state"`     // 0=soft deleted, 1=normal
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
