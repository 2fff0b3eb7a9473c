package memory

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// Bus is an in-process domain.SignalBus. Subscriptions accept glob patterns
// in path.Match syntax. Streams keep the newest maxLen entries with
// monotonically increasing numeric IDs.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]subscription
	nextSub int
	streams map[string][]domain.StreamMessage
	seq     int64
	maxLen  int
	buffer  int
}

type subscription struct {
	pattern string
	ch      chan []byte
}

// NewBus creates a Bus whose streams hold at most maxLen entries.
func NewBus(maxLen int) *Bus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Bus{
		subs:    make(map[int]subscription),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
		buffer:  128,
	}
}

// Publish delivers payload to every matching subscriber. Full subscriber
// buffers drop the message.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		ok, err := path.Match(s.pattern, channel)
		if err != nil || !ok {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers for channel until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("memory: subscribe %s: %w", channel, err)
	}
	ch := make(chan []byte, b.buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = subscription{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(b.seq, 10),
		Payload: payload,
	})
	if len(msgs) > b.maxLen {
		msgs = msgs[len(msgs)-b.maxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries with an ID greater than lastID.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := strconv.ParseInt(lastID, 10, 64)
	if err != nil {
		if lastID != "" && lastID != "0-0" {
			return nil, fmt.Errorf("memory: stream read %s: bad id %q", stream, lastID)
		}
		after = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseInt(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*Bus)(nil)
