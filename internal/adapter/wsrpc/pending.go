package wsrpc

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
)

type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is one request awaiting its reply. Whoever removes it from the
// pendingTable owns it and is the only party allowed to call settle.
type pendingCall struct {
	id     string
	method string
	seq    uint64
	done   chan callResult // buffered, written exactly once

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
}

func newPendingCall(id, method string) *pendingCall {
	return &pendingCall{id: id, method: method, done: make(chan callResult, 1)}
}

// arm starts the deadline timer unless the call was already finished.
func (c *pendingCall) arm(clk clock.Clock, d time.Duration, expire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.timer = clk.AfterFunc(d, expire)
}

// stopTimer cancels the deadline. Safe to call more than once and after the
// timer already fired.
func (c *pendingCall) stopTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *pendingCall) settle(r callResult) {
	c.stopTimer()
	c.done <- r
}

// pendingTable maps call ids to in-flight calls. It is not safe for concurrent
// use; the engine guards it with its own mutex.
type pendingTable struct {
	calls map[string]*pendingCall
	seq   uint64
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*pendingCall)}
}

// add registers c. It reports false when the id is already live.
func (t *pendingTable) add(c *pendingCall) bool {
	if _, ok := t.calls[c.id]; ok {
		return false
	}
	t.seq++
	c.seq = t.seq
	t.calls[c.id] = c
	return true
}

// take removes and returns the call registered under id, or nil.
func (t *pendingTable) take(id string) *pendingCall {
	c, ok := t.calls[id]
	if !ok {
		return nil
	}
	delete(t.calls, id)
	return c
}

// remove deletes c only if it is still the live entry for its id.
func (t *pendingTable) remove(c *pendingCall) bool {
	if cur, ok := t.calls[c.id]; !ok || cur != c {
		return false
	}
	delete(t.calls, c.id)
	return true
}

// drain empties the table and returns its calls in registration order.
func (t *pendingTable) drain() []*pendingCall {
	calls := make([]*pendingCall, 0, len(t.calls))
	for _, c := range t.calls {
		calls = append(calls, c)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].seq < calls[j].seq })
	clear(t.calls)
	return calls
}

func (t *pendingTable) len() int { return len(t.calls) }
