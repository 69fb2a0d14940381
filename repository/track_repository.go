package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mirlo/model"
)

// TrackRepository defines the interface for track data operations. Queries
// join track_audio so callers always receive the stored-audio reference.
type TrackRepository interface {
	FindActive(ctx context.Context, id int64) (*model.Track, error)
	FindActiveByTrackGroup(ctx context.Context, trackGroupID int64) ([]*model.Track, error)
	SoftDelete(ctx context.Context, id int64) error
}

// mysqlTrackRepository implements TrackRepository for MySQL.
type mysqlTrackRepository struct {
	DB *sql.DB
}

// NewMySQLTrackRepository creates a new instance of mysqlTrackRepository.
func NewMySQLTrackRepository(db *sql.DB) TrackRepository {
	return &mysqlTrackRepository{DB: db}
}

const trackSelect = `SELECT t.id, t.track_group_id, t.title, t.track_order, t.status, t.state,
	        t.created_at, t.updated_at,
	        a.id, a.track_id, a.storage_key, a.file_extension, a.created_at, a.updated_at
	   FROM tracks t
	   JOIN track_audio a ON a.track_id = t.id`

func scanTrack(scanner interface{ Scan(dest ...any) error }) (*model.Track, error) {
	track := &model.Track{Audio: &model.TrackAudio{}}
	err := scanner.Scan(
		&track.ID, &track.TrackGroupID, &track.Title, &track.Order, &track.Status, &track.State,
		&track.CreatedAt, &track.UpdatedAt,
		&track.Audio.ID, &track.Audio.TrackID, &track.Audio.StorageKey, &track.Audio.FileExtension,
		&track.Audio.CreatedAt, &track.Audio.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return track, nil
}

// FindActive retrieves a non-deleted track with its stored-audio record.
func (r *mysqlTrackRepository) FindActive(ctx context.Context, id int64) (*model.Track, error) {
	query := trackSelect + ` WHERE t.id = ? AND t.state = 1`
	track, err := scanTrack(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan track by ID %d: %w", id, err)
	}
	return track, nil
}

// FindActiveByTrackGroup retrieves all non-deleted tracks of a track group
// in ordinal order.
func (r *mysqlTrackRepository) FindActiveByTrackGroup(ctx context.Context, trackGroupID int64) ([]*model.Track, error) {
	query := trackSelect + ` WHERE t.track_group_id = ? AND t.state = 1 ORDER BY t.track_order ASC`
	rows, err := r.DB.QueryContext(ctx, query, trackGroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks for track group %d: %w", trackGroupID, err)
	}
	defer rows.Close()

	tracks := make([]*model.Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track in FindActiveByTrackGroup: %w", err)
		}
		tracks = append(tracks, track)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in FindActiveByTrackGroup: %w", err)
	}

	return tracks, nil
}

// SoftDelete marks a track as deleted without removing the row.
func (r *mysqlTrackRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `UPDATE tracks SET state = 0, updated_at = ? WHERE id = ?`
	if _, err := r.DB.ExecContext(ctx, query, time.Now(), id); err != nil {
		return fmt.Errorf("failed to soft delete track %d: %w", id, err)
	}
	return nil
}
