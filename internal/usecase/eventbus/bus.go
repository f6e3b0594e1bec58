package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"wsjsonrpc/internal/domain"
)

type delivery struct {
	ctx context.Context
	n   domain.Notification
}

// subscription owns a mailbox so one handler sees notifications in the order
// they were published, while different handlers run independently.
type subscription struct {
	id      uint64
	handler domain.NotificationHandler

	mu      sync.Mutex
	queue   []delivery
	running bool
}

// Bus is an in-process, goroutine-safe notification bus keyed by method.
//
// Messages that carry an id but no method are replies whose call already
// timed out or was abandoned. They never match a method subscription and go
// to SubscribeLateReplies and SubscribeAll handlers instead.
type Bus struct {
	mu      sync.RWMutex
	typed   map[string][]*subscription
	late    []*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates a notification bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[string][]*subscription),
		logger: logger,
	}
}

// IsLateReply reports whether n is a reply that lost its call rather than a
// server notification.
func IsLateReply(n domain.Notification) bool {
	return n.Method == "" && len(n.ID) > 0 && (len(n.Result) > 0 || len(n.Error) > 0)
}

// Publish queues n for the subscribers of its method (or the late-reply
// subscribers) and for all-notification subscribers. It never blocks on a
// handler. Panicking handlers are recovered.
func (b *Bus) Publish(ctx context.Context, n domain.Notification) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	var targets []*subscription
	switch {
	case IsLateReply(n):
		targets = append(targets, b.late...)
	case n.Method != "":
		targets = append(targets, b.typed[n.Method]...)
	}
	targets = append(targets, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.enqueue(sub, delivery{ctx: ctx, n: n})
	}
}

func (b *Bus) enqueue(sub *subscription, d delivery) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, d)
	if sub.running {
		sub.mu.Unlock()
		return
	}
	sub.running = true
	b.wg.Add(1)
	sub.mu.Unlock()

	go b.drain(sub)
}

// drain delivers queued notifications one at a time until the mailbox is
// empty. At most one drain runs per subscription.
func (b *Bus) drain(sub *subscription) {
	defer b.wg.Done()
	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			sub.running = false
			sub.mu.Unlock()
			return
		}
		d := sub.queue[0]
		sub.queue[0] = delivery{}
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		b.deliver(sub, d)
	}
}

func (b *Bus) deliver(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification handler panicked",
				"method", d.n.Method,
				"id", string(d.n.ID),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.n)
}

func (b *Bus) newSubscription(handler domain.NotificationHandler) *subscription {
	return &subscription{id: b.nextID.Add(1), handler: handler}
}

// Subscribe registers a handler for one notification method.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(method string, handler domain.NotificationHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.typed[method] = append(b.typed[method], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[method] = without(b.typed[method], sub.id)
	}
}

// SubscribeLateReplies registers a handler for replies that arrived after
// their call stopped waiting. Returns an unsubscribe function.
func (b *Bus) SubscribeLateReplies(handler domain.NotificationHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.late = append(b.late, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.late = without(b.late, sub.id)
	}
}

// SubscribeAll registers a handler that receives every notification,
// late replies included. Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.NotificationHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = without(b.allSubs, sub.id)
	}
}

// without returns subs minus the subscription with the given id. It copies so
// a Publish holding the old slice is unaffected.
func without(subs []*subscription, id uint64) []*subscription {
	out := make([]*subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Close prevents new publishes and waits for all queued notifications to be
// handled. Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

var _ domain.NotificationBus = (*Bus)(nil)
