package moderation_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/accountabilityatlas/warden/models"
	"github.com/accountabilityatlas/warden/moderation"
	"github.com/accountabilityatlas/warden/moderation/store"
	"github.com/accountabilityatlas/warden/util/cliutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	lk  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

// Every reading advances the clock by one second, so records created in sequence
// have distinct, ordered timestamps.
func (c *testClock) Now() time.Time {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.now = t
}

type statusPush struct {
	ContentID uuid.UUID
	Status    string
}

type fakeContent struct {
	lk        sync.Mutex
	pushes    []statusPush
	metadata  []moderation.ContentMetadata
	added     []uuid.UUID
	removed   []uuid.UUID
	failPush  map[uuid.UUID]bool
	failEdits error
}

func (fc *fakeContent) UpdateStatus(ctx context.Context, contentID uuid.UUID, status string) error {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	if fc.failPush[contentID] {
		return fmt.Errorf("%w: content service unavailable", moderation.ErrUpstream)
	}
	fc.pushes = append(fc.pushes, statusPush{contentID, status})
	return nil
}

func (fc *fakeContent) UpdateMetadata(ctx context.Context, contentID uuid.UUID, meta moderation.ContentMetadata) error {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	if fc.failEdits != nil {
		return fc.failEdits
	}
	fc.metadata = append(fc.metadata, meta)
	return nil
}

func (fc *fakeContent) AddLocation(ctx context.Context, contentID, locationID uuid.UUID, isPrimary bool) error {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	if fc.failEdits != nil {
		return fc.failEdits
	}
	fc.added = append(fc.added, locationID)
	return nil
}

func (fc *fakeContent) RemoveLocation(ctx context.Context, contentID, locationID uuid.UUID) error {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	if fc.failEdits != nil {
		return fc.failEdits
	}
	fc.removed = append(fc.removed, locationID)
	return nil
}

func (fc *fakeContent) Pushes() []statusPush {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	return append([]statusPush(nil), fc.pushes...)
}

type fakeEvents struct {
	lk       sync.Mutex
	approved []moderation.ApprovedEvent
	rejected []moderation.RejectedEvent
	err      error
}

func (fe *fakeEvents) PublishApproved(ctx context.Context, evt moderation.ApprovedEvent) error {
	fe.lk.Lock()
	defer fe.lk.Unlock()
	if fe.err != nil {
		return fe.err
	}
	fe.approved = append(fe.approved, evt)
	return nil
}

func (fe *fakeEvents) PublishRejected(ctx context.Context, evt moderation.RejectedEvent) error {
	fe.lk.Lock()
	defer fe.lk.Unlock()
	if fe.err != nil {
		return fe.err
	}
	fe.rejected = append(fe.rejected, evt)
	return nil
}

func (fe *fakeEvents) Counts() (int, int) {
	fe.lk.Lock()
	defer fe.lk.Unlock()
	return len(fe.approved), len(fe.rejected)
}

type tierUpdate struct {
	UserID uuid.UUID
	Tier   models.TrustTier
	Reason string
}

type fakeUsers struct {
	lk      sync.Mutex
	users   map[uuid.UUID]*models.TrustTierSnapshot
	updates []tierUpdate
	getErr  error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[uuid.UUID]*models.TrustTierSnapshot)}
}

func (fu *fakeUsers) Add(snap *models.TrustTierSnapshot) {
	fu.lk.Lock()
	defer fu.lk.Unlock()
	fu.users[snap.UserID] = snap
}

func (fu *fakeUsers) GetUser(ctx context.Context, userID uuid.UUID) (*models.TrustTierSnapshot, error) {
	fu.lk.Lock()
	defer fu.lk.Unlock()
	if fu.getErr != nil {
		return nil, fu.getErr
	}
	snap, ok := fu.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (fu *fakeUsers) UpdateTrustTier(ctx context.Context, userID uuid.UUID, tier models.TrustTier, reason string) error {
	fu.lk.Lock()
	defer fu.lk.Unlock()
	fu.updates = append(fu.updates, tierUpdate{userID, tier, reason})
	if snap, ok := fu.users[userID]; ok {
		snap.TrustTier = tier
	}
	return nil
}

func (fu *fakeUsers) Updates() []tierUpdate {
	fu.lk.Lock()
	defer fu.lk.Unlock()
	return append([]tierUpdate(nil), fu.updates...)
}

type fakeSignals struct {
	rejections int
	reports    int
	err        error
}

func (fs *fakeSignals) CountRejectionsSince(ctx context.Context, submitterID uuid.UUID, since time.Time) (int, error) {
	return fs.rejections, fs.err
}

func (fs *fakeSignals) CountActiveReportsAgainst(ctx context.Context, userID uuid.UUID) (int, error) {
	return fs.reports, fs.err
}

type testEnv struct {
	store   *store.GormStore
	content *fakeContent
	events  *fakeEvents
	users   *fakeUsers
	clock   *testClock
	wf      *moderation.Workflow
	reports *moderation.ReportWorkflow
}

var testStart = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.GormStore {
	db, err := cliutil.SetupDatabase("sqlite://"+filepath.Join(t.TempDir(), "warden.sqlite"), cliutil.DatabaseOptions{})
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	st := store.New(db, nil)
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestEnv(t *testing.T) *testEnv {
	st := newTestStore(t)
	env := &testEnv{
		store:   st,
		content: &fakeContent{failPush: make(map[uuid.UUID]bool)},
		events:  &fakeEvents{},
		users:   newFakeUsers(),
		clock:   newTestClock(testStart),
	}
	env.wf = moderation.NewWorkflow(st, st, env.content, env.events, env.users, nil)
	env.wf.Clock = env.clock.Now
	env.wf.Promotion.(*moderation.PromotionEngine).Clock = env.clock.Now
	env.wf.Demotion.(*moderation.DemotionEngine).Clock = env.clock.Now

	env.reports = moderation.NewReportWorkflow(st, st, nil)
	env.reports.Clock = env.clock.Now
	return env
}

func (env *testEnv) queue(t *testing.T, submitterID uuid.UUID) *models.ModerationItem {
	item, err := env.wf.CreateItem(context.Background(), models.ContentTypeVideo, uuid.New(), submitterID)
	require.NoError(t, err)
	return item
}
