package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wsjsonrpc/internal/domain"
)

const (
	methodStart    = "aria2.onDownloadStart"
	methodComplete = "aria2.onDownloadComplete"
)

func newTestBus() *Bus {
	return New(slog.Default())
}

func newNote(method string) domain.Notification {
	return domain.Notification{
		JSONRPC: domain.JSONRPCVersion,
		Method:  method,
		Params:  json.RawMessage(`[{"gid":"2089b05ecca3d829"}]`),
	}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(methodStart, func(_ context.Context, n domain.Notification) {
		if n.Method == methodStart {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), newNote(methodStart))
	bus.Publish(context.Background(), newNote(methodComplete))
	bus.Close() // drain
	if got.Load() != 1 {
		t.Fatalf("expected 1, got %d", got.Load())
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Notification) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newNote(methodStart))
	bus.Publish(context.Background(), newNote(methodComplete))
	// A late reply has no method but still reaches all-subscribers.
	bus.Publish(context.Background(), domain.Notification{ID: json.RawMessage(`"aria2.tellActive~01H"`), Result: json.RawMessage(`[]`)})
	bus.Close()

	if got.Load() != 3 {
		t.Fatalf("expected 3, got %d", got.Load())
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsub := bus.Subscribe(methodStart, func(_ context.Context, _ domain.Notification) {
		got.Add(1)
	})
	unsubAll := bus.SubscribeAll(func(_ context.Context, _ domain.Notification) {
		got.Add(10)
	})

	bus.Publish(context.Background(), newNote(methodStart))
	unsub()
	unsubAll()
	unsub() // second call is a no-op
	bus.Publish(context.Background(), newNote(methodStart))
	bus.Close()

	if got.Load() != 11 {
		t.Fatalf("expected 11 after unsub, got %d", got.Load())
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(methodComplete, func(_ context.Context, _ domain.Notification) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newNote(methodComplete))
		}()
	}
	wg.Wait()
	bus.Close()

	if got.Load() != 100 {
		t.Fatalf("expected 100, got %d", got.Load())
	}
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	// First subscriber panics
	bus.Subscribe(methodStart, func(_ context.Context, _ domain.Notification) {
		panic("boom")
	})
	// Second subscriber should still fire
	bus.Subscribe(methodStart, func(_ context.Context, _ domain.Notification) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newNote(methodStart))
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("expected 1 (second handler), got %d", got.Load())
	}
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(methodStart, func(_ context.Context, _ domain.Notification) {
		time.Sleep(50 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), newNote(methodStart))
	bus.Close() // should block until the handler finishes
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("expected handler to have run, got %d", got.Load())
	}

	// After close, new publishes should be no-ops
	bus.Publish(context.Background(), newNote(methodStart))
	time.Sleep(20 * time.Millisecond)
	if got.Load() != 1 {
		t.Fatalf("expected no delivery after close, got %d", got.Load())
	}
}

func TestDeliveryOrderPerSubscriber(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	var got []int
	bus.SubscribeAll(func(_ context.Context, n domain.Notification) {
		var params []int
		if err := json.Unmarshal(n.Params, &params); err != nil {
			t.Errorf("params: %v", err)
			return
		}
		mu.Lock()
		got = append(got, params[0])
		mu.Unlock()
	})

	for i := 0; i < 200; i++ {
		bus.Publish(context.Background(), domain.Notification{
			Method: methodStart,
			Params: json.RawMessage(`[` + strconv.Itoa(i) + `]`),
		})
	}
	bus.Close()

	if len(got) != 200 {
		t.Fatalf("expected 200 deliveries, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("delivery %d carried %d, notifications were reordered", i, v)
		}
	}
}

func TestLateRepliesRouting(t *testing.T) {
	bus := newTestBus()

	var typed, unnamed, late, all atomic.Int32
	bus.Subscribe(methodStart, func(_ context.Context, _ domain.Notification) { typed.Add(1) })
	bus.Subscribe("", func(_ context.Context, _ domain.Notification) { unnamed.Add(1) })
	bus.SubscribeLateReplies(func(_ context.Context, n domain.Notification) {
		if string(n.ID) != `"aria2.tellActive~01H"` {
			t.Errorf("unexpected late reply id %s", n.ID)
		}
		late.Add(1)
	})
	bus.SubscribeAll(func(_ context.Context, _ domain.Notification) { all.Add(1) })

	bus.Publish(context.Background(), newNote(methodStart))
	bus.Publish(context.Background(), domain.Notification{
		ID:    json.RawMessage(`"aria2.tellActive~01H"`),
		Error: json.RawMessage(`{"code":1,"message":"Unauthorized"}`),
	})
	bus.Close()

	if typed.Load() != 1 || late.Load() != 1 || all.Load() != 2 {
		t.Fatalf("typed=%d late=%d all=%d, want 1 1 2", typed.Load(), late.Load(), all.Load())
	}
	if unnamed.Load() != 0 {
		t.Fatalf("late reply must not match an empty method subscription, got %d", unnamed.Load())
	}
}

func TestIsLateReply(t *testing.T) {
	tests := []struct {
		name string
		n    domain.Notification
		want bool
	}{
		{"notification", newNote(methodStart), false},
		{"late result", domain.Notification{ID: json.RawMessage(`"x~1"`), Result: json.RawMessage(`null`)}, true},
		{"late error", domain.Notification{ID: json.RawMessage(`7`), Error: json.RawMessage(`{"code":1,"message":"x"}`)}, true},
		{"notification with null id", domain.Notification{Method: methodStart, ID: json.RawMessage(`null`)}, false},
		{"id only", domain.Notification{ID: json.RawMessage(`"x~1"`)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLateReply(tt.n); got != tt.want {
				t.Errorf("IsLateReply = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPanicDoesNotStopLaterDeliveries(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(methodComplete, func(_ context.Context, _ domain.Notification) {
		if got.Add(1) == 1 {
			panic("boom")
		}
	})

	for i := 0; i < 3; i++ {
		bus.Publish(context.Background(), newNote(methodComplete))
	}
	bus.Close()

	if got.Load() != 3 {
		t.Fatalf("expected 3 deliveries after a panic, got %d", got.Load())
	}
}

// BenchmarkBusPublish benchmarks the hot path: one subscriber per method.
func BenchmarkBusPublish(b *testing.B) {
	bus := New(slog.Default())
	ctx := context.Background()
	n := newNote(methodStart)

	bus.Subscribe(methodStart, func(_ context.Context, _ domain.Notification) {})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		bus.Publish(ctx, n)
	}

	bus.Close()
}
