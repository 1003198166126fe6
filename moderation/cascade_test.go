package moderation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/accountabilityatlas/warden/models"
	"github.com/accountabilityatlas/warden/moderation"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fails the transition of a single item, and optionally cancels a context once
// a given number of transitions went through.
type flakyStore struct {
	moderation.ItemStore
	failID      uuid.UUID
	cancelAfter int
	cancel      context.CancelFunc
	transitions int
}

func (fs *flakyStore) TransitionItem(ctx context.Context, id uuid.UUID, tr moderation.Transition) (*models.ModerationItem, error) {
	if id == fs.failID {
		return nil, errors.New("database is locked")
	}
	item, err := fs.ItemStore.TransitionItem(ctx, id, tr)
	if err == nil {
		fs.transitions++
		if fs.cancel != nil && fs.transitions == fs.cancelAfter {
			fs.cancel()
		}
	}
	return item, err
}

func queueN(t *testing.T, env *testEnv, submitterID uuid.UUID, n int) []*models.ModerationItem {
	var items []*models.ModerationItem
	for range n {
		items = append(items, env.queue(t, submitterID))
	}
	return items
}

func TestCascadeApprovesAllPending(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	submitter := uuid.New()
	items := queueN(t, env, submitter, 3)
	other := env.queue(t, uuid.New())
	_, err := env.wf.Reject(ctx, env.queue(t, submitter).ID, uuid.New(), "spam")
	require.NoError(err)

	// content push of the second item fails; commit happens first so it still counts
	env.content.failPush[items[1].ContentID] = true

	n, err := env.wf.ApprovePendingForUser(ctx, submitter, moderation.SystemUserID)
	require.NoError(err)
	assert.Equal(3, n)

	for _, item := range items {
		stored, err := env.wf.GetItem(ctx, item.ID)
		require.NoError(err)
		assert.Equal(models.ModerationStatusApproved, stored.Status)
		assert.Equal(moderation.SystemUserID, *stored.ReviewerID)

		trail, err := env.store.AuditTrail(ctx, moderation.TargetModerationItem, item.ID)
		require.NoError(err)
		require.Len(trail, 1)
		assert.Equal(moderation.ActionAutoApprove, trail[0].Action)
		assert.Equal(uuid.Nil, trail[0].ActorID)
		require.NotNil(trail[0].Details)
		assert.Equal("trust_tier_upgrade", *trail[0].Details)
	}

	// other submitters untouched
	stored, err := env.wf.GetItem(ctx, other.ID)
	require.NoError(err)
	assert.Equal(models.ModerationStatusPending, stored.Status)

	// rejection push, plus the two successful cascade pushes
	assert.Len(env.content.Pushes(), 3)
	approved, _ := env.events.Counts()
	assert.Equal(3, approved)
	for _, evt := range env.events.approved {
		assert.Equal(moderation.SystemUserID, evt.ReviewerID)
	}

	// nothing left to approve
	n, err = env.wf.ApprovePendingForUser(ctx, submitter, moderation.SystemUserID)
	require.NoError(err)
	assert.Equal(0, n)
}

func TestCascadeSkipsFailedTransition(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	submitter := uuid.New()
	items := queueN(t, env, submitter, 3)
	env.wf.Store = &flakyStore{ItemStore: env.store, failID: items[1].ID}

	n, err := env.wf.ApprovePendingForUser(ctx, submitter, moderation.SystemUserID)
	require.NoError(err)
	assert.Equal(2, n)

	stored, err := env.store.GetItem(ctx, items[1].ID)
	require.NoError(err)
	assert.Equal(models.ModerationStatusPending, stored.Status)

	approved, _ := env.events.Counts()
	assert.Equal(2, approved)
}

func TestCascadeStopsOnCancel(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t)

	submitter := uuid.New()
	items := queueN(t, env, submitter, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.wf.Store = &flakyStore{ItemStore: env.store, cancelAfter: 2, cancel: cancel}

	n, err := env.wf.ApprovePendingForUser(ctx, submitter, moderation.SystemUserID)
	assert.ErrorIs(err, context.Canceled)
	assert.Equal(2, n)

	// resumable
	env.wf.Store = env.store
	n, err = env.wf.ApprovePendingForUser(context.Background(), submitter, moderation.SystemUserID)
	require.NoError(err)
	assert.Equal(2, n)

	for _, item := range items {
		stored, err := env.store.GetItem(context.Background(), item.ID)
		require.NoError(err)
		assert.Equal(models.ModerationStatusApproved, stored.Status)
	}
}

func TestHandleSubmitted(t *testing.T) {
	tests := []struct {
		tier   models.TrustTier
		queued bool
	}{
		{models.TrustTierNew, true},
		{"", true},
		{"SUPERUSER", true},
		{models.TrustTierTrusted, false},
		{models.TrustTierModerator, false},
		{models.TrustTierAdmin, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.tier), func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()
			env := newTestEnv(t)

			evt := moderation.SubmittedEvent{
				ContentID:          uuid.New(),
				SubmitterID:        uuid.New(),
				SubmitterTrustTier: tc.tier,
				Title:              "Traffic stop on Main St",
			}
			item, err := env.wf.HandleSubmitted(ctx, evt)
			require.NoError(err)

			if tc.queued {
				require.NotNil(item)
				assert.Equal(models.ContentTypeVideo, item.ContentType)
				assert.Equal(models.ModerationStatusPending, item.Status)
				assert.Empty(env.content.Pushes())
				approved, _ := env.events.Counts()
				assert.Equal(0, approved)
				return
			}

			assert.Nil(item)
			assert.Equal([]statusPush{{evt.ContentID, "APPROVED"}}, env.content.Pushes())
			require.Len(env.events.approved, 1)
			assert.Equal(evt.SubmitterID, env.events.approved[0].ReviewerID)
			_, err = env.store.FindItemByContentID(ctx, evt.ContentID, models.ModerationStatusPending)
			assert.ErrorIs(err, moderation.ErrNotFound)
		})
	}
}

func TestHandleSubmittedIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	evt := moderation.SubmittedEvent{ContentID: uuid.New(), SubmitterID: uuid.New(), SubmitterTrustTier: models.TrustTierNew}
	first, err := env.wf.HandleSubmitted(ctx, evt)
	require.NoError(err)
	again, err := env.wf.HandleSubmitted(ctx, evt)
	require.NoError(err)
	assert.Equal(first.ID, again.ID)

	page, err := env.wf.GetQueue(ctx, models.ModerationStatusPending, nil, moderation.PageRequest{})
	require.NoError(err)
	assert.Equal(int64(1), page.TotalElements)
}

func TestHandleSubmittedBypassFailure(t *testing.T) {
	env := newTestEnv(t)
	evt := moderation.SubmittedEvent{ContentID: uuid.New(), SubmitterID: uuid.New(), SubmitterTrustTier: models.TrustTierTrusted}
	env.content.failPush[evt.ContentID] = true

	_, err := env.wf.HandleSubmitted(context.Background(), evt)
	assert.ErrorIs(t, err, moderation.ErrUpstream)
	approved, _ := env.events.Counts()
	assert.Equal(t, 0, approved)
}

func TestHandleSubmittedValidation(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.wf.HandleSubmitted(ctx, moderation.SubmittedEvent{SubmitterID: uuid.New()})
	assert.ErrorIs(err, moderation.ErrValidation)
	_, err = env.wf.HandleSubmitted(ctx, moderation.SubmittedEvent{ContentType: "PODCAST", ContentID: uuid.New(), SubmitterID: uuid.New()})
	assert.ErrorIs(err, moderation.ErrValidation)
}

func TestHandleTrustTierChanged(t *testing.T) {
	tests := []struct {
		old, new models.TrustTier
		cascades bool
	}{
		{models.TrustTierNew, models.TrustTierTrusted, true},
		{models.TrustTierNew, models.TrustTierModerator, true},
		{models.TrustTierNew, models.TrustTierAdmin, true},
		{models.TrustTierTrusted, models.TrustTierModerator, false},
		{models.TrustTierTrusted, models.TrustTierNew, false},
		{models.TrustTierNew, "SUPERUSER", false},
		{"", models.TrustTierTrusted, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.old)+"->"+string(tc.new), func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()
			env := newTestEnv(t)

			user := uuid.New()
			queueN(t, env, user, 2)

			n, err := env.wf.HandleTrustTierChanged(ctx, moderation.TrustTierChangedEvent{UserID: user, OldTier: tc.old, NewTier: tc.new})
			require.NoError(err)
			if tc.cascades {
				assert.Equal(2, n)
			} else {
				assert.Equal(0, n)
				pending, err := env.store.ListItemsBySubmitter(ctx, user, models.ModerationStatusPending)
				require.NoError(err)
				assert.Len(pending, 2)
			}
		})
	}
}
