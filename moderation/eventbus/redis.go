package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bus on redis streams. Reading uses a consumer group, so multiple replicas
// share the inbound load and unacknowledged entries survive restarts.
type RedisBus struct {
	Client *redis.Client
	Group  string
	// unique per replica, eg hostname
	Consumer string

	// approximate cap on outbound stream length; unbounded if zero
	MaxLen    int64
	Block     time.Duration
	BatchSize int64

	lk sync.Mutex
	// streams whose pending (delivered, unacked) entries have been re-read
	backlogDone map[string]bool
}

var (
	_ Appender = (*RedisBus)(nil)
	_ Source   = (*RedisBus)(nil)
)

func NewRedisBus(client *redis.Client, group, consumer string) *RedisBus {
	return &RedisBus{
		Client:      client,
		Group:       group,
		Consumer:    consumer,
		MaxLen:      1_000_000,
		Block:       5 * time.Second,
		BatchSize:   32,
		backlogDone: make(map[string]bool),
	}
}

func (b *RedisBus) Append(ctx context.Context, stream string, data []byte) (string, error) {
	return b.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.MaxLen,
		Approx: b.MaxLen > 0,
		Values: map[string]any{eventField: data},
	}).Result()
}

// Creates the consumer group (and stream) if missing.
func (b *RedisBus) EnsureGroup(ctx context.Context, stream string) error {
	err := b.Client.XGroupCreateMkStream(ctx, stream, b.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s on %s: %w", b.Group, stream, err)
	}
	return nil
}

// Returns this consumer's pending entries first (eg, left over from a crash),
// then blocks for new ones.
func (b *RedisBus) Read(ctx context.Context, stream string) ([]Message, error) {
	b.lk.Lock()
	backlog := !b.backlogDone[stream]
	b.lk.Unlock()

	args := &redis.XReadGroupArgs{
		Group:    b.Group,
		Consumer: b.Consumer,
		Streams:  []string{stream, ">"},
		Count:    b.BatchSize,
		Block:    b.Block,
	}
	if backlog {
		args.Streams = []string{stream, "0"}
		args.Block = -1
	}

	res, err := b.Client.XReadGroup(ctx, args).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Message
	for _, s := range res {
		for _, m := range s.Messages {
			raw, _ := m.Values[eventField].(string)
			out = append(out, Message{ID: m.ID, Stream: s.Stream, Data: []byte(raw)})
		}
	}
	if backlog && len(out) == 0 {
		b.lk.Lock()
		b.backlogDone[stream] = true
		b.lk.Unlock()
	}
	return out, nil
}

func (b *RedisBus) Ack(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.Client.XAck(ctx, stream, b.Group, ids...).Err()
}
