package wsrpc

import (
	"sync"

	"wsjsonrpc/internal/domain"
)

// dispatcher delivers notifications one at a time, in arrival order, on its
// own goroutine. The queue is unbounded so a handler blocked in Query never
// stalls the reader that will deliver its reply.
type dispatcher struct {
	mu      sync.Mutex
	queue   []domain.Notification
	stopped bool
	wake    chan struct{}
}

func newDispatcher() *dispatcher {
	return &dispatcher{wake: make(chan struct{}, 1)}
}

func (d *dispatcher) push(n domain.Notification) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, n)
	d.mu.Unlock()
	d.signal()
}

// stop lets run return once the queue is empty.
func (d *dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run(deliver func(domain.Notification)) {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			stopped := d.stopped
			d.mu.Unlock()
			if stopped {
				return
			}
			<-d.wake
			continue
		}
		n := d.queue[0]
		d.queue[0] = domain.Notification{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		deliver(n)
	}
}
