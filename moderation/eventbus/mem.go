package eventbus

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const (
	memStreamBuffer = 1024
	memStreamLogCap = 4096
)

// In-process bus, for tests and single-process deployments. Entries are
// delivered at most once and are not persisted. Append never blocks: an entry
// which finds the stream's delivery buffer full is dropped and counted.
type MemBus struct {
	lk      sync.Mutex
	streams map[string]*memStream
	seq     int64

	// how long Read waits for a first entry before returning an empty batch
	Block time.Duration
}

type memStream struct {
	ch chan Message
	// most recent entries, oldest first
	log []Message
}

var (
	_ Appender = (*MemBus)(nil)
	_ Source   = (*MemBus)(nil)
)

func NewMemBus() *MemBus {
	return &MemBus{
		streams: make(map[string]*memStream),
		Block:   time.Second,
	}
}

func (b *MemBus) stream(name string) *memStream {
	b.lk.Lock()
	defer b.lk.Unlock()
	s, ok := b.streams[name]
	if !ok {
		s = &memStream{ch: make(chan Message, memStreamBuffer)}
		b.streams[name] = s
	}
	return s
}

func (b *MemBus) Append(ctx context.Context, stream string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s := b.stream(stream)

	b.lk.Lock()
	b.seq++
	msg := Message{
		ID:     strconv.FormatInt(b.seq, 10) + "-0",
		Stream: stream,
		Data:   data,
	}
	if len(s.log) >= memStreamLogCap {
		n := copy(s.log, s.log[len(s.log)-memStreamLogCap+1:])
		s.log = s.log[:n]
	}
	s.log = append(s.log, msg)
	b.lk.Unlock()

	select {
	case s.ch <- msg:
	default:
		eventsDropped.WithLabelValues(stream).Inc()
	}
	return msg.ID, nil
}

func (b *MemBus) Read(ctx context.Context, stream string) ([]Message, error) {
	s := b.stream(stream)

	timer := time.NewTimer(b.Block)
	defer timer.Stop()

	var batch []Message
	select {
	case msg := <-s.ch:
		batch = append(batch, msg)
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for len(batch) < 16 {
		select {
		case msg := <-s.ch:
			batch = append(batch, msg)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (b *MemBus) Ack(ctx context.Context, stream string, ids ...string) error {
	return nil
}

// The most recent entries appended to the stream, oldest first.
func (b *MemBus) Entries(stream string) []Message {
	s := b.stream(stream)
	b.lk.Lock()
	defer b.lk.Unlock()
	out := make([]Message, len(s.log))
	copy(out, s.log)
	return out
}
