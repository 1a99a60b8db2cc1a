package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/mission-control/internal/storage"
)

// Notifications is the change feed the broker listens to. Both the
// Postgres and SQLite stores implement it.
type Notifications interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (channel, payload string, err error)
}

// brokerRetryDelay spaces reconnect attempts after the change feed fails.
const brokerRetryDelay = time.Second

// Broker fans out row change notifications to SSE subscribers.
// It runs a background goroutine that calls WaitForNotification in a loop
// and sends each payload to all active subscriber channels.
type Broker struct {
	source Notifications
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates a new SSE broker. Call Start to begin listening.
func NewBroker(source Notifications, logger *slog.Logger) *Broker {
	return &Broker{
		source:      source,
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Start begins listening on the change channel.
// It blocks, so call it in a goroutine. Returns when ctx is cancelled.
func (b *Broker) Start(ctx context.Context) {
	if err := b.source.Listen(ctx, storage.ChannelChanges); err != nil {
		b.logger.Error("broker: listen", "channel", storage.ChannelChanges, "error", err)
		return
	}
	b.logger.Info("broker: listening for notifications", "channel", storage.ChannelChanges)

	for {
		channel, payload, err := b.source.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("broker: notification error, retrying", "error", err, "after", brokerRetryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(brokerRetryDelay):
			}
			continue
		}
		b.broadcast(formatSSE(eventName(channel, payload), payload))
	}
}

// eventName names the SSE event after the changed table so clients can
// filter with addEventListener. Unparseable payloads keep the channel name.
func eventName(channel, payload string) string {
	var c storage.Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil || c.Table == "" {
		return channel
	}
	return c.Table
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// broadcast sends an event to all subscribers. Slow subscribers that have
// a full buffer are skipped (their event is dropped) so one slow client
// cannot block the others.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
