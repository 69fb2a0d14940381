package fulfillment

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"mirlo/cache"
	"mirlo/core/archive"
	"mirlo/logger"
	"mirlo/model"
	"mirlo/queue"
	"mirlo/repository"
)

// Identity is how a download request authenticated: a session-backed user,
// or an anonymous holder of (email, token).
type Identity struct {
	Authenticated bool
	UserID        int64
	IsAdmin       bool
	Email         string
	Token         string
}

// Outcome is the terminal state of a download request. Exactly one of the
// two shapes is populated: Ready with a streamable artifact location, or a
// JobID for an enqueued build.
type Outcome struct {
	Ready    bool
	Bucket   string
	Key      string
	Filename string // display filename; sanitize before header use

	JobID string
}

// Enqueuer is the producer side of the build-job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.BuildJob) (string, error)
}

// StatusStore records build progress for polling callers. Reads happen on
// the HTTP side against the cache directly; the service and worker only
// write.
type StatusStore interface {
	SetTargetState(ctx context.Context, target model.Target, format model.AudioFormat, state cache.BuildState) error
	SetJobState(ctx context.Context, jobID string, state cache.BuildState) error
}

// Service decides whether an identity may obtain a download and whether the
// artifact is already built or must be enqueued.
type Service struct {
	users       repository.UserRepository
	purchases   repository.PurchaseRepository
	trackGroups repository.TrackGroupRepository
	tracks      repository.TrackRepository

	store  archive.ObjectStore
	jobs   Enqueuer
	status StatusStore

	audioBucket     string
	downloadsBucket string
}

// NewService creates a Service.
func NewService(
	users repository.UserRepository,
	purchases repository.PurchaseRepository,
	trackGroups repository.TrackGroupRepository,
	tracks repository.TrackRepository,
	store archive.ObjectStore,
	jobs Enqueuer,
	status StatusStore,
	audioBucket, downloadsBucket string,
) *Service {
	return &Service{
		users:           users,
		purchases:       purchases,
		trackGroups:     trackGroups,
		tracks:          tracks,
		store:           store,
		jobs:            jobs,
		status:          status,
		audioBucket:     audioBucket,
		downloadsBucket: downloadsBucket,
	}
}

// trackGroupFor resolves the release a target belongs to.
func (s *Service) trackGroupFor(ctx context.Context, target model.Target) (*model.TrackGroup, error) {
	switch target.Kind {
	case model.TargetTrackGroup:
		return s.trackGroups.FindActive(ctx, target.ID)
	case model.TargetTrack:
		track, err := s.tracks.FindActive(ctx, target.ID)
		if err != nil {
			return nil, err
		}
		return s.trackGroups.FindActive(ctx, track.TrackGroupID)
	default:
		return nil, repository.ErrNotFound
	}
}

// ResolveForUser resolves entitlement for a session-authenticated user.
// Admins and the owning artist are entitled without a purchase record; a
// nil purchase in the success case means exactly that. Everyone else needs
// an active purchase for a publicly available release.
func (s *Service) ResolveForUser(ctx context.Context, userID int64, isAdmin bool, target model.Target) (*model.Purchase, error) {
	group, err := s.trackGroupFor(ctx, target)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotEntitled
		}
		return nil, err
	}

	if isAdmin || group.ArtistID == userID {
		return nil, nil
	}

	if !group.Published {
		return nil, ErrNotEntitled
	}

	purchase, err := s.purchases.FindActive(ctx, userID, target)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotEntitled
		}
		return nil, err
	}
	return purchase, nil
}

// ResolveForToken resolves entitlement for an anonymous (email, token)
// holder and consumes the token. The consume is a conditional update, so of
// two concurrent requests bearing the same token at most one succeeds. A
// token mismatch is indistinguishable from a missing purchase.
func (s *Service) ResolveForToken(ctx context.Context, target model.Target, email, token string) (*model.Purchase, error) {
	if token == "" {
		return nil, ErrNotEntitled
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotEntitled
		}
		return nil, err
	}

	group, err := s.trackGroupFor(ctx, target)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotEntitled
		}
		return nil, err
	}
	if !group.Published {
		return nil, ErrNotEntitled
	}

	purchase, err := s.purchases.FindActive(ctx, user.ID, target)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotEntitled
		}
		return nil, err
	}

	if purchase.Token == nil ||
		subtle.ConstantTimeCompare([]byte(*purchase.Token), []byte(token)) != 1 {
		return nil, ErrNotEntitled
	}

	consumed, err := s.purchases.RedeemToken(ctx, purchase.ID, token)
	if err != nil {
		return nil, err
	}
	if !consumed {
		// Lost the redemption race to a concurrent request.
		return nil, ErrNotEntitled
	}

	return purchase, nil
}

// resolveEntitlement dispatches on how the caller authenticated.
func (s *Service) resolveEntitlement(ctx context.Context, target model.Target, identity Identity) error {
	var err error
	if identity.Authenticated {
		_, err = s.ResolveForUser(ctx, identity.UserID, identity.IsAdmin, target)
	} else {
		_, err = s.ResolveForToken(ctx, target, identity.Email, identity.Token)
	}
	return err
}

// RequestDownload is the externally-facing decision function: resolve
// entitlement, then either hand back the location of an existing artifact
// or enqueue a build and hand back the job id.
func (s *Service) RequestDownload(ctx context.Context, target model.Target, identity Identity, format model.AudioFormat) (*Outcome, error) {
	if err := s.resolveEntitlement(ctx, target, identity); err != nil {
		return nil, err
	}

	switch target.Kind {
	case model.TargetTrack:
		return s.resolveTrackArtifact(ctx, target.ID, format)
	case model.TargetTrackGroup:
		return s.resolveTrackGroupArtifact(ctx, target.ID, format)
	default:
		return nil, ErrNotEntitled
	}
}

// resolveTrackArtifact serves a single track straight from its generated
// master; there is nothing to build.
func (s *Service) resolveTrackArtifact(ctx context.Context, trackID int64, format model.AudioFormat) (*Outcome, error) {
	track, err := s.tracks.FindActive(ctx, trackID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotEntitled
		}
		return nil, err
	}

	key := archive.GeneratedKey(track.Audio.StorageKey, format)
	exists, err := s.store.Exists(ctx, s.audioBucket, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		logger.Warn("generated master missing for track download",
			logger.Int64("trackId", trackID),
			logger.String("key", key))
		return nil, ErrArtifactUnavailable
	}

	return &Outcome{
		Ready:    true,
		Bucket:   s.audioBucket,
		Key:      key,
		Filename: fmt.Sprintf("%d - %s.%s", track.Order, track.Title, format.Extension()),
	}, nil
}

// resolveTrackGroupArtifact is the cache-hit/cache-miss decision for a
// release archive.
func (s *Service) resolveTrackGroupArtifact(ctx context.Context, trackGroupID int64, format model.AudioFormat) (*Outcome, error) {
	target := model.Target{Kind: model.TargetTrackGroup, ID: trackGroupID}

	group, err := s.trackGroups.FindActive(ctx, trackGroupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotEntitled
		}
		return nil, err
	}

	key := archive.ArtifactKey(trackGroupID, format)
	exists, err := s.store.Exists(ctx, s.downloadsBucket, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Outcome{
			Ready:    true,
			Bucket:   s.downloadsBucket,
			Key:      key,
			Filename: fmt.Sprintf("%s.zip", group.Title),
		}, nil
	}

	jobID, err := s.enqueueBuild(ctx, group, format)
	if err != nil {
		return nil, err
	}

	if err := s.status.SetTargetState(ctx, target, format, cache.BuildQueued); err != nil {
		logger.Warn("failed to record build state", logger.ErrorField(err))
	}
	if err := s.status.SetJobState(ctx, jobID, cache.BuildQueued); err != nil {
		logger.Warn("failed to record job state", logger.ErrorField(err))
	}

	return &Outcome{JobID: jobID}, nil
}

// Generate enqueues a build without streaming anything back. Returns the job
// id, or generated=true if the artifact already exists.
func (s *Service) Generate(ctx context.Context, target model.Target, identity Identity, format model.AudioFormat) (jobID string, generated bool, err error) {
	if target.Kind != model.TargetTrackGroup {
		return "", false, ErrNotEntitled
	}
	if err := s.resolveEntitlement(ctx, target, identity); err != nil {
		return "", false, err
	}

	key := archive.ArtifactKey(target.ID, format)
	exists, err := s.store.Exists(ctx, s.downloadsBucket, key)
	if err != nil {
		return "", false, err
	}
	if exists {
		return "", true, nil
	}

	group, err := s.trackGroups.FindActive(ctx, target.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, ErrNotEntitled
		}
		return "", false, err
	}

	jobID, err = s.enqueueBuild(ctx, group, format)
	if err != nil {
		return "", false, err
	}

	if err := s.status.SetTargetState(ctx, target, format, cache.BuildQueued); err != nil {
		logger.Warn("failed to record build state", logger.ErrorField(err))
	}
	if err := s.status.SetJobState(ctx, jobID, cache.BuildQueued); err != nil {
		logger.Warn("failed to record job state", logger.ErrorField(err))
	}

	return jobID, false, nil
}

func (s *Service) enqueueBuild(ctx context.Context, group *model.TrackGroup, format model.AudioFormat) (string, error) {
	tracks, err := s.tracks.FindActiveByTrackGroup(ctx, group.ID)
	if err != nil {
		return "", err
	}

	items := make([]queue.BuildItem, 0, len(tracks))
	for _, t := range tracks {
		items = append(items, queue.BuildItem{
			TrackID:    t.ID,
			Title:      t.Title,
			Order:      t.Order,
			StorageKey: t.Audio.StorageKey,
		})
	}

	job := &queue.BuildJob{
		TargetKind: model.TargetTrackGroup,
		TargetID:   group.ID,
		Title:      group.Title,
		Format:     format,
		Items:      items,
	}
	return s.jobs.Enqueue(ctx, job)
}
