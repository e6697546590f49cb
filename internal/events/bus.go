package events

import (
	"sync"

	"go.uber.org/zap"
)

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind starts losing events; the drop is logged, never blocking
// the publisher.
const subscriberBuffer = 256

type subscription struct {
	id      int
	agentID string // "" subscribes to everything
	ch      chan Event
	closed  bool
}

// Bus is the in-process broadcast hub. Publishing never blocks; per
// subscriber, events arrive in publish order.
type Bus struct {
	mu     sync.Mutex
	logger *zap.Logger
	nextID int
	subs   map[int]*subscription
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger: logger,
		subs:   map[int]*subscription{},
	}
}

// Subscribe registers a listener. agentID filters to one agent's events;
// empty means all events. The returned cancel function is idempotent and
// closes the channel.
func (b *Bus) Subscribe(agentID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{
		id:      b.nextID,
		agentID: agentID,
		ch:      make(chan Event, subscriberBuffer),
	}
	b.subs[sub.id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.remove(sub)
	}
	return sub.ch, cancel
}

// Publish fans the event out to every matching subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.closed {
			continue
		}
		if sub.agentID != "" && sub.agentID != ev.Context.AgentID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("event dropped for slow subscriber",
				zap.String("type", string(ev.Type)),
				zap.String("agentId", ev.Context.AgentID))
		}
	}
}

// CloseAgentStreams closes every subscription bound to the given agent.
// Called when the agent reaches a terminal state; the terminal event must
// be published before this.
func (b *Bus) CloseAgentStreams(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.agentID == agentID {
			b.remove(sub)
		}
	}
}

// SubscriberCount reports active subscriptions, for tests and metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// remove must be called with b.mu held.
func (b *Bus) remove(sub *subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	delete(b.subs, sub.id)
}
