// Package pubsub fans score notifications out to in-process subscribers.
//
// Publish never blocks: a subscriber whose buffer is full misses the
// notification and the drop is counted.
package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/pkg/logger"
	"github.com/okian/engage/pkg/metrics"
)

// Topic names a notification kind.
type Topic string

// Published topics.
const (
	TopicScoreUpdated       Topic = "score-updated"
	TopicLeaderboardUpdated Topic = "leaderboard-updated"
)

const defaultBuffer = 256

// Notification is one message on the bus. It marshals to the
// {"event": ..., "data": ...} envelope sent to real-time listeners.
type Notification struct {
	Topic Topic `json:"event"`
	Data  any   `json:"data,omitempty"`
}

// ScoreUpdated is the payload of TopicScoreUpdated.
type ScoreUpdated struct {
	LeadID    string          `json:"leadId"`
	NewScore  int             `json:"newScore"`
	EventType model.EventType `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
}

// ScoreNotifications builds the pair of notifications sent after a score
// mutation commits.
func ScoreNotifications(lead model.Lead, eventType model.EventType, at time.Time) []Notification {
	return []Notification{
		{Topic: TopicScoreUpdated, Data: ScoreUpdated{
			LeadID:    lead.ID,
			NewScore:  lead.CurrentScore,
			EventType: eventType,
			Timestamp: at,
		}},
		{Topic: TopicLeaderboardUpdated},
	}
}

// Publisher accepts notifications.
type Publisher interface {
	Publish(ctx context.Context, n Notification)
}

// Option applies a configuration option to the Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel size.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// Bus is an in-process Publisher with any number of subscribers.
type Bus struct {
	buffer int
	log    logger.Logger

	mu     sync.RWMutex
	subs   map[uint64]chan Notification
	nextID uint64
	closed bool
}

var _ Publisher = (*Bus)(nil)

// NewBus creates a bus with no subscribers.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		buffer: defaultBuffer,
		log:    logger.Get().Named("pubsub"),
		subs:   make(map[uint64]chan Notification),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe returns a channel of notifications and a func that cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Notification, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers n to every subscriber that has room.
func (b *Bus) Publish(ctx context.Context, n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
			metrics.RecordNotificationDropped()
			b.log.Debug(ctx, "subscriber full, notification dropped", logger.String("topic", string(n.Topic)))
		}
	}
	metrics.RecordNotificationPublished(string(n.Topic))
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
