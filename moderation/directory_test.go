package moderation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/accountabilityatlas/warden/models"
	"github.com/accountabilityatlas/warden/moderation"
	"github.com/accountabilityatlas/warden/moderation/cachestore"
	"github.com/accountabilityatlas/warden/moderation/upstream"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// User service holding a single account. Tier writes are applied, so later reads
// observe them.
type userService struct {
	lk       sync.Mutex
	user     models.TrustTierSnapshot
	tierPuts []models.TrustTier
}

func newUserService(t *testing.T, user models.TrustTierSnapshot) (*userService, *httptest.Server) {
	us := &userService{user: user}
	srv := httptest.NewServer(http.HandlerFunc(us.serve))
	t.Cleanup(srv.Close)
	return us, srv
}

func (us *userService) serve(w http.ResponseWriter, r *http.Request) {
	us.lk.Lock()
	defer us.lk.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/users/")
	id, rest, _ := strings.Cut(path, "/")
	if id != us.user.UserID.String() {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case r.Method == http.MethodGet && rest == "":
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(us.user)
	case r.Method == http.MethodPut && rest == "trust-tier":
		var body struct {
			TrustTier models.TrustTier `json:"trustTier"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		us.tierPuts = append(us.tierPuts, body.TrustTier)
		us.user.TrustTier = body.TrustTier
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (us *userService) SetTier(tier models.TrustTier) {
	us.lk.Lock()
	defer us.lk.Unlock()
	us.user.TrustTier = tier
}

func (us *userService) TierPuts() []models.TrustTier {
	us.lk.Lock()
	defer us.lk.Unlock()
	return append([]models.TrustTier(nil), us.tierPuts...)
}

// Account which meets every snapshot criterion for promotion.
func veteranUser(tier models.TrustTier) models.TrustTierSnapshot {
	return models.TrustTierSnapshot{
		UserID:    uuid.New(),
		TrustTier: tier,
		CreatedAt: testStart.AddDate(0, -6, 0),
		Stats:     &models.UserStats{SubmissionCount: 12, ApprovedCount: 12},
	}
}

func newCachedUserClient(srv *httptest.Server) (*upstream.UserClient, *cachestore.MemCacheStore) {
	cache := cachestore.NewMemCacheStore(100, time.Hour)
	uc := upstream.NewUserClient(upstream.UserClientConfig{
		BaseURL:    srv.URL,
		Cache:      cache,
		HTTPClient: srv.Client(),
	})
	return uc, cache
}

func TestPromotionRereadsCachedTier(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	user := veteranUser(models.TrustTierNew)
	us, srv := newUserService(t, user)
	uc, cache := newCachedUserClient(srv)

	// warm the cache with NEW, then the account is made a moderator elsewhere
	_, err := uc.GetUser(ctx, user.UserID)
	require.NoError(err)
	us.SetTier(models.TrustTierModerator)
	cached, err := cache.Get(ctx, user.UserID)
	require.NoError(err)
	require.NotNil(cached)
	assert.Equal(models.TrustTierNew, cached.TrustTier)

	pe := &moderation.PromotionEngine{Users: uc, Signals: &fakeSignals{}, Clock: fixedClock}
	promoted, err := pe.CheckAndPromote(ctx, user.UserID)
	require.NoError(err)
	assert.False(promoted)
	assert.Empty(us.TierPuts())

	// the re-read replaced the stale snapshot
	cached, err = cache.Get(ctx, user.UserID)
	require.NoError(err)
	require.NotNil(cached)
	assert.Equal(models.TrustTierModerator, cached.TrustTier)
}

func TestDemotionRereadsCachedTier(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	user := veteranUser(models.TrustTierTrusted)
	us, srv := newUserService(t, user)
	uc, _ := newCachedUserClient(srv)

	_, err := uc.GetUser(ctx, user.UserID)
	require.NoError(err)
	us.SetTier(models.TrustTierNew)

	de := &moderation.DemotionEngine{Users: uc, Signals: &fakeSignals{rejections: 5, reports: 5}, Clock: fixedClock}
	demoted, err := de.CheckAndDemote(ctx, user.UserID)
	require.NoError(err)
	assert.False(demoted)
	assert.Empty(us.TierPuts())
}

func TestTrustTierChangedInvalidatesSnapshot(t *testing.T) {
	tests := []struct {
		old, new models.TrustTier
	}{
		{models.TrustTierNew, models.TrustTierModerator},
		{models.TrustTierTrusted, models.TrustTierModerator},
		{models.TrustTierTrusted, models.TrustTierNew},
		{models.TrustTierAdmin, models.TrustTierTrusted},
	}

	for _, tc := range tests {
		t.Run(string(tc.old)+"->"+string(tc.new), func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			user := veteranUser(tc.old)
			us, srv := newUserService(t, user)
			uc, cache := newCachedUserClient(srv)
			st := newTestStore(t)
			wf := moderation.NewWorkflow(st, st, &fakeContent{failPush: make(map[uuid.UUID]bool)}, &fakeEvents{}, uc, nil)
			require.NotNil(wf.Snapshots)

			_, err := uc.GetUser(ctx, user.UserID)
			require.NoError(err)
			us.SetTier(tc.new)

			_, err = wf.HandleTrustTierChanged(ctx, moderation.TrustTierChangedEvent{UserID: user.UserID, OldTier: tc.old, NewTier: tc.new})
			require.NoError(err)

			cached, err := cache.Get(ctx, user.UserID)
			require.NoError(err)
			assert.Nil(cached)

			snap, err := uc.GetUser(ctx, user.UserID)
			require.NoError(err)
			assert.Equal(tc.new, snap.TrustTier)
		})
	}
}

func TestApprovePromotesThroughUserService(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	user := veteranUser(models.TrustTierNew)
	us, srv := newUserService(t, user)
	uc, cache := newCachedUserClient(srv)
	st := newTestStore(t)
	clock := newTestClock(testStart)
	wf := moderation.NewWorkflow(st, st, &fakeContent{failPush: make(map[uuid.UUID]bool)}, &fakeEvents{}, uc, nil)
	wf.Clock = clock.Now
	wf.Promotion.(*moderation.PromotionEngine).Clock = clock.Now

	first, err := wf.CreateItem(ctx, models.ContentTypeVideo, uuid.New(), user.UserID)
	require.NoError(err)
	second, err := wf.CreateItem(ctx, models.ContentTypeVideo, uuid.New(), user.UserID)
	require.NoError(err)

	_, err = wf.Approve(ctx, first.ID, uuid.New())
	require.NoError(err)
	assert.Equal([]models.TrustTier{models.TrustTierTrusted}, us.TierPuts())

	cached, err := cache.Get(ctx, user.UserID)
	require.NoError(err)
	assert.Nil(cached)

	// already TRUSTED upstream, so a later approval changes nothing
	_, err = wf.Approve(ctx, second.ID, uuid.New())
	require.NoError(err)
	assert.Len(us.TierPuts(), 1)

	// a moderator promotion from elsewhere arrives while TRUSTED is cached
	us.SetTier(models.TrustTierModerator)
	_, err = wf.HandleTrustTierChanged(ctx, moderation.TrustTierChangedEvent{UserID: user.UserID, OldTier: models.TrustTierTrusted, NewTier: models.TrustTierModerator})
	require.NoError(err)
	snap, err := uc.GetUser(ctx, user.UserID)
	require.NoError(err)
	assert.Equal(models.TrustTierModerator, snap.TrustTier)
}
