package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mirlo/model"
)

// TrackGroupRepository defines the interface for track group data operations.
// Soft deletion is explicit: FindActive filters deleted rows at the call
// site instead of relying on query-rewriting middleware.
type TrackGroupRepository interface {
	FindActive(ctx context.Context, id int64) (*model.TrackGroup, error)
	SoftDelete(ctx context.Context, id int64) error
}

// mysqlTrackGroupRepository implements TrackGroupRepository for MySQL.
type mysqlTrackGroupRepository struct {
	DB *sql.DB
}

// NewMySQLTrackGroupRepository creates a new instance of mysqlTrackGroupRepository.
func NewMySQLTrackGroupRepository(db *sql.DB) TrackGroupRepository {
	return &mysqlTrackGroupRepository{DB: db}
}

// FindActive retrieves a non-deleted track group by id.
func (r *mysqlTrackGroupRepository) FindActive(ctx context.Context, id int64) (*model.TrackGroup, error) {
	query := `SELECT id, artist_id, title, published, state, created_at, updated_at
	           FROM track_groups WHERE id = ? AND state = 1`
	row := r.DB.QueryRowContext(ctx, query, id)

	tg := &model.TrackGroup{}
	err := row.Scan(&tg.ID, &tg.ArtistID, &tg.Title, &tg.Published, &tg.State, &tg.CreatedAt, &tg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan track group by ID %d: %w", id, err)
	}
	return tg, nil
}

// SoftDelete marks a track group as deleted without removing the row.
func (r *mysqlTrackGroupRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `UPDATE track_groups SET state = 0, updated_at = ? WHERE id = ?`
	if _, err := r.DB.ExecContext(ctx, query, time.Now(), id); err != nil {
		return fmt.Errorf("failed to soft delete track group %d: %w", id, err)
	}
	return nil
}
