package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/easyaps/internal/events"
)

// memTransport is an in-memory transport shared by several bridges.
type memTransport struct {
	mu        sync.Mutex
	published []string
	handlers  map[int]func([]byte)
	next      int
	failWith  error
}

func newMemTransport() *memTransport {
	return &memTransport{handlers: map[int]func([]byte){}}
}

func (m *memTransport) name() string { return "mem" }

func (m *memTransport) publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.published = append(m.published, subject)
	for _, h := range m.handlers {
		h(data)
	}
	return nil
}

func (m *memTransport) subscribe(_ context.Context, deliver func([]byte)) (func() error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.handlers[id] = deliver
	return func() error {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
		return nil
	}, nil
}

func (m *memTransport) close() error { return nil }

func (m *memTransport) subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.published...)
}

// eventually retries fn until it reports true or the deadline passes.
func eventually(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !fn() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubject(t *testing.T) {
	if got := Subject(events.EventPreload); got != "easyaps.events.preload" {
		t.Fatalf("Subject = %q", got)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	data, err := marshalMessage(events.EventRouteChange, events.Payload{"to": "routed"}, "node-a")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := unmarshalMessage(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.NodeID != "node-a" || msg.EventType != events.EventRouteChange || msg.MessageID == "" || msg.Payload["to"] != "routed" {
		t.Fatalf("msg = %+v", msg)
	}

	if _, err := unmarshalMessage([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected missing event type to fail")
	}
}

func TestForwardAndTail(t *testing.T) {
	mt := newMemTransport()
	station := newBridge(mt, "station", zerolog.Nop())
	watcher := newBridge(mt, "watcher", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	var mu sync.Mutex
	var seen []Message
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = watcher.Tail(ctx, func(m Message) {
			mu.Lock()
			seen = append(seen, m)
			mu.Unlock()
		})
	}()

	bus := events.NewBus()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = station.Forward(ctx, bus)
	}()

	eventually(t, func() bool {
		bus.Publish(events.EventNowPlaying, events.Payload{"item_key": "news"})
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	})

	mu.Lock()
	first := seen[0]
	mu.Unlock()
	if first.NodeID != "station" || first.EventType != events.EventNowPlaying || first.Payload["item_key"] != "news" {
		t.Fatalf("tailed = %+v", first)
	}

	cancel()
	wg.Wait()
}

func TestTailSkipsOwnMessages(t *testing.T) {
	mt := newMemTransport()
	b := newBridge(mt, "self", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Message, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Tail(ctx, func(m Message) { got <- m })
	}()

	own, _ := marshalMessage(events.EventPreload, events.Payload{}, "self")
	other, _ := marshalMessage(events.EventPreload, events.Payload{"state": "loaded"}, "peer")
	eventually(t, func() bool {
		mt.mu.Lock()
		defer mt.mu.Unlock()
		return len(mt.handlers) == 1
	})
	_ = mt.publish(ctx, Subject(events.EventPreload), own)
	_ = mt.publish(ctx, Subject(events.EventPreload), []byte("not json"))
	_ = mt.publish(ctx, Subject(events.EventPreload), other)

	select {
	case m := <-got:
		if m.NodeID != "peer" {
			t.Fatalf("delivered own message %+v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("peer message not delivered")
	}
	select {
	case m := <-got:
		t.Fatalf("unexpected extra message %+v", m)
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestForwardSurvivesPublishFailures(t *testing.T) {
	mt := newMemTransport()
	mt.failWith = errors.New("down")
	b := newBridge(mt, "station", zerolog.Nop())
	bus := events.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Forward(ctx, bus) }()

	bus.Publish(events.EventRouteChange, events.Payload{})
	time.Sleep(20 * time.Millisecond)

	mt.mu.Lock()
	mt.failWith = nil
	mt.mu.Unlock()

	eventually(t, func() bool {
		bus.Publish(events.EventRouteChange, events.Payload{})
		return len(mt.subjects()) > 0
	})
	if got := mt.subjects()[0]; got != "easyaps.events.route_change" {
		t.Fatalf("subject = %q", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Forward: %v", err)
	}
}

func TestNodeIDUnique(t *testing.T) {
	if NodeID() == NodeID() {
		t.Fatal("node ids collide")
	}
	b := newBridge(newMemTransport(), "", zerolog.Nop())
	if b.NodeID() == "" {
		t.Fatal("empty generated node id")
	}
}
