package eventbus

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/accountabilityatlas/warden/models"
	"github.com/accountabilityatlas/warden/moderation"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	lk        sync.Mutex
	submitted []moderation.SubmittedEvent
	changed   []moderation.TrustTierChangedEvent
	err       error
	panicMsg  string
}

func (d *fakeDispatcher) HandleSubmitted(ctx context.Context, evt moderation.SubmittedEvent) (*models.ModerationItem, error) {
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	d.lk.Lock()
	defer d.lk.Unlock()
	d.submitted = append(d.submitted, evt)
	if d.err != nil {
		return nil, d.err
	}
	return models.NewModerationItem(models.ContentTypeVideo, evt.ContentID, evt.SubmitterID, time.Now()), nil
}

func (d *fakeDispatcher) HandleTrustTierChanged(ctx context.Context, evt moderation.TrustTierChangedEvent) (int, error) {
	d.lk.Lock()
	defer d.lk.Unlock()
	d.changed = append(d.changed, evt)
	return 2, d.err
}

func (d *fakeDispatcher) counts() (int, int) {
	d.lk.Lock()
	defer d.lk.Unlock()
	return len(d.submitted), len(d.changed)
}

func TestEncodeAddsEventType(t *testing.T) {
	assert := assert.New(t)

	evt := moderation.RejectedEvent{
		ContentType: models.ContentTypeLocation,
		ContentID:   uuid.New(),
		ReviewerID:  uuid.New(),
		Reason:      "duplicate",
		Timestamp:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := Encode(evt.EventType(), evt)
	assert.NoError(err)

	et, err := PeekType(data)
	assert.NoError(err)
	assert.Equal("LOCATION_REJECTED", et)

	var fields map[string]any
	assert.NoError(json.Unmarshal(data, &fields))
	assert.Equal("duplicate", fields["reason"])
	assert.Equal(evt.ContentID.String(), fields["contentId"])

	_, err = Encode("X", "not an object")
	assert.Error(err)

	_, err = PeekType([]byte(`{"contentId":"abc"}`))
	assert.Error(err)
}

func TestPublisherMemBus(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	bus := NewMemBus()
	pub := &Publisher{Bus: bus, Stream: "moderation-events"}

	require.NoError(pub.PublishApproved(ctx, moderation.ApprovedEvent{ContentID: uuid.New(), ReviewerID: uuid.New()}))
	require.NoError(pub.PublishRejected(ctx, moderation.RejectedEvent{ContentType: models.ContentTypeVideo, ContentID: uuid.New(), Reason: "spam"}))

	entries := bus.Entries("moderation-events")
	require.Len(entries, 2)
	et, err := PeekType(entries[0].Data)
	assert.NoError(err)
	assert.Equal("VIDEO_APPROVED", et)
	et, err = PeekType(entries[1].Data)
	assert.NoError(err)
	assert.Equal("VIDEO_REJECTED", et)

	msgs, err := bus.Read(ctx, "moderation-events")
	assert.NoError(err)
	assert.Len(msgs, 2)
	assert.Equal(entries[0].ID, msgs[0].ID)
}

func TestMemBusAppendWithoutReader(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	bus := NewMemBus()
	pub := &Publisher{Bus: bus, Stream: "moderation-events"}

	// nothing reads the stream; publishing past the delivery buffer must not stall
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	total := memStreamLogCap + 10
	start := time.Now()
	for i := range total {
		require.NoError(pub.PublishApproved(ctx, moderation.ApprovedEvent{ContentID: uuid.New(), ReviewerID: uuid.New()}), "publish %d", i)
	}
	assert.Less(time.Since(start), 2*time.Second)

	entries := bus.Entries("moderation-events")
	require.Len(entries, memStreamLogCap)
	assert.Equal(strconv.Itoa(total)+"-0", entries[len(entries)-1].ID)
	assert.Equal(strconv.Itoa(total-memStreamLogCap+1)+"-0", entries[0].ID)

	// the first buffered entries are still delivered
	msgs, err := bus.Read(context.Background(), "moderation-events")
	require.NoError(err)
	require.NotEmpty(msgs)
	assert.Equal("1-0", msgs[0].ID)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	_, err = bus.Append(cancelled, "moderation-events", []byte("{}"))
	assert.ErrorIs(err, context.Canceled)
}

func TestConsumerHandleMessage(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	d := &fakeDispatcher{}
	c := &Consumer{Dispatcher: d}

	submitted, err := Encode(moderation.EventTypeVideoSubmitted, moderation.SubmittedEvent{
		ContentID:          uuid.New(),
		SubmitterID:        uuid.New(),
		SubmitterTrustTier: models.TrustTierNew,
	})
	assert.NoError(err)
	assert.NoError(c.HandleMessage(ctx, Message{ID: "1-0", Data: submitted}))

	changed, err := Encode(moderation.EventTypeUserTrustTierChanged, moderation.TrustTierChangedEvent{
		UserID:  uuid.New(),
		OldTier: models.TrustTierNew,
		NewTier: models.TrustTierTrusted,
	})
	assert.NoError(err)
	assert.NoError(c.HandleMessage(ctx, Message{ID: "2-0", Data: changed}))

	other, err := Encode("VIDEO_DELETED", map[string]string{"id": "x"})
	assert.NoError(err)
	assert.NoError(c.HandleMessage(ctx, Message{ID: "3-0", Data: other}))

	assert.Error(c.HandleMessage(ctx, Message{ID: "4-0", Data: []byte("not json")}))

	s, ch := d.counts()
	assert.Equal(1, s)
	assert.Equal(1, ch)
	assert.Equal(models.TrustTierTrusted, d.changed[0].NewTier)
}

func TestConsumerHandlerFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	submitted, err := Encode(moderation.EventTypeVideoSubmitted, moderation.SubmittedEvent{ContentID: uuid.New(), SubmitterID: uuid.New()})
	assert.NoError(err)

	failing := &Consumer{Dispatcher: &fakeDispatcher{err: moderation.ErrUpstream}}
	assert.ErrorIs(failing.HandleMessage(ctx, Message{ID: "1-0", Data: submitted}), moderation.ErrUpstream)

	panicky := &Consumer{Dispatcher: &fakeDispatcher{panicMsg: "boom"}}
	err = panicky.HandleMessage(ctx, Message{ID: "2-0", Data: submitted})
	assert.ErrorContains(err, "boom")
}

func TestConsumerRunMemBus(t *testing.T) {
	assert := assert.New(t)

	bus := NewMemBus()
	bus.Block = 10 * time.Millisecond
	d := &fakeDispatcher{}
	c := &Consumer{
		Source:     bus,
		Dispatcher: d,
		Streams:    []string{"video-events", "user-events"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	submitted, _ := Encode(moderation.EventTypeVideoSubmitted, moderation.SubmittedEvent{ContentID: uuid.New(), SubmitterID: uuid.New()})
	changed, _ := Encode(moderation.EventTypeUserTrustTierChanged, moderation.TrustTierChangedEvent{UserID: uuid.New(), OldTier: models.TrustTierNew, NewTier: models.TrustTierAdmin})
	_, err := bus.Append(ctx, "video-events", submitted)
	assert.NoError(err)
	_, err = bus.Append(ctx, "user-events", changed)
	assert.NoError(err)

	assert.Eventually(func() bool {
		s, ch := d.counts()
		return s == 1 && ch == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumerRunRequiresStreams(t *testing.T) {
	c := &Consumer{Source: NewMemBus(), Dispatcher: &fakeDispatcher{}}
	assert.Error(t, c.Run(context.Background()))
}

func TestRedisBusRoundTrip(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	opt, err := redis.ParseURL("redis://localhost:6379/0")
	require.NoError(err)
	rdb := redis.NewClient(opt)
	stream := "warden-test-" + uuid.NewString()
	defer rdb.Del(ctx, stream)

	bus := NewRedisBus(rdb, "warden-test", "tester")
	bus.Block = 100 * time.Millisecond
	require.NoError(bus.EnsureGroup(ctx, stream))
	// second call hits BUSYGROUP
	require.NoError(bus.EnsureGroup(ctx, stream))

	pub := &Publisher{Bus: bus, Stream: stream}
	require.NoError(pub.PublishApproved(ctx, moderation.ApprovedEvent{ContentID: uuid.New()}))

	var msgs []Message
	for range 3 {
		batch, err := bus.Read(ctx, stream)
		require.NoError(err)
		msgs = append(msgs, batch...)
	}
	require.Len(msgs, 1)
	et, err := PeekType(msgs[0].Data)
	assert.NoError(err)
	assert.Equal("VIDEO_APPROVED", et)
	assert.NoError(bus.Ack(ctx, stream, msgs[0].ID))
}
