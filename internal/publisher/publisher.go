// Package publisher implements C6, the Delta Publisher: a best-effort,
// non-blocking fan-out of committed batch Decisions to interested
// subscribers (UI pushes, webhooks, logs). A slow or absent subscriber
// never stalls the run (§4.6, §5 ordering guarantees).
package publisher

import (
	"sync"

	"github.com/terrarisk/hazardengine/internal/logger"
	"github.com/terrarisk/hazardengine/internal/models"
)

// Delta is one batch's worth of committed decisions, in commit order.
type Delta struct {
	RequestID string
	BatchNum  int
	Decisions []models.Decision
}

// subscriberBuffer bounds how many un-consumed deltas a subscriber can fall
// behind by before being dropped from that publish (never blocking the run).
const subscriberBuffer = 8

// Publisher is a process-wide, in-memory broadcaster. It holds no durable
// state: subscribers that connect after a batch commits simply miss it,
// matching the "best effort" framing of the delta channel (§4.6).
type Publisher struct {
	mu   sync.RWMutex
	subs map[int]chan Delta
	next int
}

// New creates an empty Publisher.
func New() *Publisher {
	return &Publisher{subs: make(map[int]chan Delta)}
}

// Subscribe registers a new listener and returns a channel of deltas plus
// an unsubscribe function. Callers must drain the channel or call
// unsubscribe to avoid leaking the registration (the channel itself is
// garbage once unreferenced).
func (p *Publisher) Subscribe() (<-chan Delta, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++
	ch := make(chan Delta, subscriberBuffer)
	p.subs[id] = ch

	unsubscribe := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if existing, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish broadcasts a committed batch to every current subscriber. A
// subscriber whose buffer is full is skipped for this delta rather than
// blocking the caller (the run controller calls this inline after each
// CommitBatch, §4.5/§4.6).
func (p *Publisher) Publish(d Delta) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, ch := range p.subs {
		select {
		case ch <- d:
		default:
			logger.Warn("delta publish dropped: subscriber buffer full",
				"subscriber_id", id, "request_id", d.RequestID, "batch", d.BatchNum)
		}
	}
}

// SubscriberCount reports the current number of live subscribers, useful
// for introspection/metrics.
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
