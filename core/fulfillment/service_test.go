package fulfillment

import (
	"bytes"
	"context"
	"io"
	"testing"

	"mirlo/cache"
	"mirlo/model"
	"mirlo/queue"
	"mirlo/repository"
	"mirlo/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeUserRepo struct {
	byEmail map[string]*model.User
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) (int64, error) {
	return 0, nil
}

type purchaseKey struct {
	userID int64
	kind   model.TargetKind
	id     int64
}

// memPurchaseRepo implements the purchase-store contract in memory,
// including the conditional consume-once token redemption.
type memPurchaseRepo struct {
	nextID    int64
	purchases map[purchaseKey]*model.Purchase
	tokenSeq  int
}

func newMemPurchaseRepo() *memPurchaseRepo {
	return &memPurchaseRepo{nextID: 1, purchases: map[purchaseKey]*model.Purchase{}}
}

func (m *memPurchaseRepo) mint() string {
	m.tokenSeq++
	return string(rune('a'+m.tokenSeq)) + "-token"
}

func (m *memPurchaseRepo) FindActive(ctx context.Context, userID int64, target model.Target) (*model.Purchase, error) {
	if p, ok := m.purchases[purchaseKey{userID, target.Kind, target.ID}]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memPurchaseRepo) Register(ctx context.Context, params repository.RegisterParams) (*model.Purchase, error) {
	key := purchaseKey{params.UserID, params.Target.Kind, params.Target.ID}
	token := m.mint()
	if p, ok := m.purchases[key]; ok {
		p.Token = &token
		return p, nil
	}
	p := &model.Purchase{
		ID:           m.nextID,
		UserID:       params.UserID,
		TargetKind:   params.Target.Kind,
		TargetID:     params.Target.ID,
		Token:        &token,
		PricePaid:    params.PricePaid,
		CurrencyPaid: params.CurrencyPaid,
		PaymentKey:   params.PaymentKey,
	}
	m.nextID++
	m.purchases[key] = p
	return p, nil
}

func (m *memPurchaseRepo) RedeemToken(ctx context.Context, purchaseID int64, token string) (bool, error) {
	for _, p := range m.purchases {
		if p.ID == purchaseID && p.Token != nil && *p.Token == token {
			p.Token = nil
			return true, nil
		}
	}
	return false, nil
}

type fakeTrackGroupRepo struct {
	groups map[int64]*model.TrackGroup
}

func (f *fakeTrackGroupRepo) FindActive(ctx context.Context, id int64) (*model.TrackGroup, error) {
	if g, ok := f.groups[id]; ok {
		return g, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTrackGroupRepo) SoftDelete(ctx context.Context, id int64) error {
	delete(f.groups, id)
	return nil
}

type fakeTrackRepo struct {
	tracks map[int64]*model.Track
}

func (f *fakeTrackRepo) FindActive(ctx context.Context, id int64) (*model.Track, error) {
	if t, ok := f.tracks[id]; ok {
		return t, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTrackRepo) FindActiveByTrackGroup(ctx context.Context, trackGroupID int64) ([]*model.Track, error) {
	var out []*model.Track
	for _, t := range f.tracks {
		if t.TrackGroupID == trackGroupID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTrackRepo) SoftDelete(ctx context.Context, id int64) error {
	delete(f.tracks, id)
	return nil
}

type fakeObjectStore struct {
	objects map[string][]byte
}

func (f *fakeObjectStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, ok := f.objects[bucket+"/"+key]
	return ok, nil
}

func (f *fakeObjectStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	data, _ := io.ReadAll(r)
	f.objects[bucket+"/"+key] = data
	return nil
}

type fakeEnqueuer struct {
	jobs []*queue.BuildJob
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job *queue.BuildJob) (string, error) {
	if job.ID == "" {
		job.ID = "job-1"
	}
	f.jobs = append(f.jobs, job)
	return job.ID, nil
}

type fakeStatusStore struct {
	targetStates map[string]cache.BuildState
	jobStates    map[string]cache.BuildState
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{
		targetStates: map[string]cache.BuildState{},
		jobStates:    map[string]cache.BuildState{},
	}
}

func (f *fakeStatusStore) SetTargetState(ctx context.Context, target model.Target, format model.AudioFormat, state cache.BuildState) error {
	f.targetStates[string(target.Kind)+format.String()] = state
	return nil
}

func (f *fakeStatusStore) SetJobState(ctx context.Context, jobID string, state cache.BuildState) error {
	f.jobStates[jobID] = state
	return nil
}

// --- fixture ---

type fixture struct {
	svc       *Service
	users     *fakeUserRepo
	purchases *memPurchaseRepo
	store     *fakeObjectStore
	enqueuer  *fakeEnqueuer
}

func newFixture() *fixture {
	users := &fakeUserRepo{byEmail: map[string]*model.User{
		"fan@example.com":    {ID: 10, Email: "fan@example.com"},
		"artist@example.com": {ID: 20, Email: "artist@example.com"},
		"admin@example.com":  {ID: 30, Email: "admin@example.com", IsAdmin: true},
	}}
	purchases := newMemPurchaseRepo()
	groups := &fakeTrackGroupRepo{groups: map[int64]*model.TrackGroup{
		1: {ID: 1, ArtistID: 20, Title: "First Album", Published: true},
		2: {ID: 2, ArtistID: 20, Title: "Unreleased", Published: false},
	}}
	tracks := &fakeTrackRepo{tracks: map[int64]*model.Track{
		100: {ID: 100, TrackGroupID: 1, Title: "A", Order: 1, Audio: &model.TrackAudio{StorageKey: "aud-100"}},
		101: {ID: 101, TrackGroupID: 1, Title: "B", Order: 2, Audio: &model.TrackAudio{StorageKey: "aud-101"}},
	}}
	store := &fakeObjectStore{objects: map[string][]byte{}}
	enqueuer := &fakeEnqueuer{}

	svc := NewService(users, purchases, groups, tracks, store, enqueuer, newFakeStatusStore(), "audio", "downloads")
	return &fixture{svc: svc, users: users, purchases: purchases, store: store, enqueuer: enqueuer}
}

func (f *fixture) registerPurchase(t *testing.T, userID int64, target model.Target) string {
	t.Helper()
	p, err := f.purchases.Register(context.Background(), repository.RegisterParams{
		UserID: userID, Target: target, PricePaid: 500, CurrencyPaid: "usd", PaymentKey: "pk_test",
	})
	require.NoError(t, err)
	require.NotNil(t, p.Token)
	return *p.Token
}

var groupTarget = model.Target{Kind: model.TargetTrackGroup, ID: 1}

// --- entitlement ---

func TestAdminIsAlwaysEntitled(t *testing.T) {
	f := newFixture()
	_, err := f.svc.ResolveForUser(context.Background(), 30, true, groupTarget)
	assert.NoError(t, err)
}

func TestOwningArtistIsEntitledWithoutPurchase(t *testing.T) {
	f := newFixture()
	_, err := f.svc.ResolveForUser(context.Background(), 20, false, groupTarget)
	assert.NoError(t, err)

	// Even for an unpublished release.
	_, err = f.svc.ResolveForUser(context.Background(), 20, false, model.Target{Kind: model.TargetTrackGroup, ID: 2})
	assert.NoError(t, err)
}

func TestPurchaserIsEntitled(t *testing.T) {
	f := newFixture()
	f.registerPurchase(t, 10, groupTarget)

	p, err := f.svc.ResolveForUser(context.Background(), 10, false, groupTarget)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(10), p.UserID)
}

func TestUserWithoutPurchaseIsDenied(t *testing.T) {
	f := newFixture()
	_, err := f.svc.ResolveForUser(context.Background(), 10, false, groupTarget)
	assert.ErrorIs(t, err, ErrNotEntitled)
}

func TestUnknownTargetIsDeniedUniformly(t *testing.T) {
	f := newFixture()
	_, err := f.svc.ResolveForUser(context.Background(), 10, false, model.Target{Kind: model.TargetTrackGroup, ID: 999})
	assert.ErrorIs(t, err, ErrNotEntitled)
}

func TestTokenIsAcceptedExactlyOnce(t *testing.T) {
	f := newFixture()
	token := f.registerPurchase(t, 10, groupTarget)

	_, err := f.svc.ResolveForToken(context.Background(), groupTarget, "fan@example.com", token)
	require.NoError(t, err)

	// Immediate replay with the same token fails.
	_, err = f.svc.ResolveForToken(context.Background(), groupTarget, "fan@example.com", token)
	assert.ErrorIs(t, err, ErrNotEntitled)
}

func TestWrongTokenLooksLikeMissingPurchase(t *testing.T) {
	f := newFixture()
	f.registerPurchase(t, 10, groupTarget)

	_, err := f.svc.ResolveForToken(context.Background(), groupTarget, "fan@example.com", "guessed-token")
	assert.ErrorIs(t, err, ErrNotEntitled)

	_, err = f.svc.ResolveForToken(context.Background(), groupTarget, "nobody@example.com", "guessed-token")
	assert.ErrorIs(t, err, ErrNotEntitled)
}

func TestReRegisterRotatesToken(t *testing.T) {
	f := newFixture()
	first := f.registerPurchase(t, 10, groupTarget)
	second := f.registerPurchase(t, 10, groupTarget)

	assert.NotEqual(t, first, second)
	assert.Len(t, f.purchases.purchases, 1, "re-registration must not duplicate rows")

	// Only the fresh token redeems.
	_, err := f.svc.ResolveForToken(context.Background(), groupTarget, "fan@example.com", first)
	assert.ErrorIs(t, err, ErrNotEntitled)
	_, err = f.svc.ResolveForToken(context.Background(), groupTarget, "fan@example.com", second)
	assert.NoError(t, err)
}

func TestUnpublishedReleaseDeniedToAnonymousAndPurchasers(t *testing.T) {
	f := newFixture()
	unpublished := model.Target{Kind: model.TargetTrackGroup, ID: 2}
	token := f.registerPurchase(t, 10, unpublished)

	_, err := f.svc.ResolveForToken(context.Background(), unpublished, "fan@example.com", token)
	assert.ErrorIs(t, err, ErrNotEntitled)

	_, err = f.svc.ResolveForUser(context.Background(), 10, false, unpublished)
	assert.ErrorIs(t, err, ErrNotEntitled)
}

// --- RequestDownload state machine ---

func TestRequestDownloadCacheHitReturnsArtifact(t *testing.T) {
	f := newFixture()
	f.store.objects["downloads/1/flac.zip"] = []byte("zip-bytes")

	outcome, err := f.svc.RequestDownload(context.Background(),
		groupTarget, Identity{Authenticated: true, UserID: 30, IsAdmin: true}, model.FormatFLAC)
	require.NoError(t, err)

	assert.True(t, outcome.Ready)
	assert.Equal(t, "downloads", outcome.Bucket)
	assert.Equal(t, "1/flac.zip", outcome.Key)
	assert.Equal(t, "First Album.zip", outcome.Filename)
	assert.Empty(t, f.enqueuer.jobs, "a cache hit must not enqueue a build")
}

func TestRequestDownloadCacheMissEnqueuesBuild(t *testing.T) {
	f := newFixture()

	outcome, err := f.svc.RequestDownload(context.Background(),
		groupTarget, Identity{Authenticated: true, UserID: 30, IsAdmin: true}, model.FormatFLAC)
	require.NoError(t, err)

	assert.False(t, outcome.Ready)
	assert.NotEmpty(t, outcome.JobID)
	require.Len(t, f.enqueuer.jobs, 1)

	job := f.enqueuer.jobs[0]
	assert.Equal(t, model.TargetTrackGroup, job.TargetKind)
	assert.Equal(t, int64(1), job.TargetID)
	assert.Equal(t, model.FormatFLAC, job.Format)
	assert.Len(t, job.Items, 2)
}

func TestRequestDownloadDeniedShortCircuitsBeforeStorage(t *testing.T) {
	f := newFixture()
	f.store.objects["downloads/1/flac.zip"] = []byte("zip-bytes")

	_, err := f.svc.RequestDownload(context.Background(),
		groupTarget, Identity{Email: "fan@example.com", Token: "nope"}, model.FormatFLAC)
	assert.ErrorIs(t, err, ErrNotEntitled)
	assert.Empty(t, f.enqueuer.jobs)
}

func TestRequestDownloadTrackServesGeneratedMaster(t *testing.T) {
	f := newFixture()
	f.store.objects["audio/aud-100/generated.flac"] = []byte("flac-bytes")

	outcome, err := f.svc.RequestDownload(context.Background(),
		model.Target{Kind: model.TargetTrack, ID: 100},
		Identity{Authenticated: true, UserID: 20}, model.FormatFLAC)
	require.NoError(t, err)

	assert.True(t, outcome.Ready)
	assert.Equal(t, "audio", outcome.Bucket)
	assert.Equal(t, "aud-100/generated.flac", outcome.Key)
	assert.Equal(t, "1 - A.flac", outcome.Filename)
}

func TestRequestDownloadTrackMissingMaster(t *testing.T) {
	f := newFixture()

	_, err := f.svc.RequestDownload(context.Background(),
		model.Target{Kind: model.TargetTrack, ID: 100},
		Identity{Authenticated: true, UserID: 20}, model.FormatFLAC)
	assert.ErrorIs(t, err, ErrArtifactUnavailable)
}

// --- Generate ---

func TestGenerateReportsAlreadyGenerated(t *testing.T) {
	f := newFixture()
	f.store.objects["downloads/1/flac.zip"] = []byte("zip-bytes")

	jobID, generated, err := f.svc.Generate(context.Background(),
		groupTarget, Identity{Authenticated: true, UserID: 20}, model.FormatFLAC)
	require.NoError(t, err)
	assert.True(t, generated)
	assert.Empty(t, jobID)
}

func TestGenerateEnqueuesWhenMissing(t *testing.T) {
	f := newFixture()

	jobID, generated, err := f.svc.Generate(context.Background(),
		groupTarget, Identity{Authenticated: true, UserID: 20}, model.FormatFLAC)
	require.NoError(t, err)
	assert.False(t, generated)
	assert.NotEmpty(t, jobID)
	assert.Len(t, f.enqueuer.jobs, 1)
}
