package events

import "testing"

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventNowPlaying)
	other := bus.Subscribe(EventRouteChange)

	bus.Publish(EventNowPlaying, Payload{"item_key": "news"})

	select {
	case p := <-sub:
		if p["item_key"] != "news" {
			t.Fatalf("payload = %v", p)
		}
	default:
		t.Fatal("subscriber did not receive event")
	}
	select {
	case p := <-other:
		t.Fatalf("unrelated subscriber received %v", p)
	default:
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventPreload)
	for i := 0; i < cap(sub)+10; i++ {
		bus.Publish(EventPreload, Payload{"n": i})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("len = %d, want %d", len(sub), cap(sub))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventNowPlaying)
	bus.Unsubscribe(EventNowPlaying, sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	bus.Publish(EventNowPlaying, Payload{})
}
