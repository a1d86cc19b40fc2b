package sync

import (
	"testing"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	ch1, cancel1 := bus.Subscribe()
	ch2, cancel2 := bus.Subscribe()
	defer cancel1()
	defer cancel2()

	bus.Publish(Event{Type: EventStatusChanged, Payload: map[string]any{"cadence": "daily"}})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != EventStatusChanged {
				t.Errorf("subscriber %d got type %q", i, ev.Type)
			}
			if ev.Payload["cadence"] != "daily" {
				t.Errorf("subscriber %d payload = %v", i, ev.Payload)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	// One more than the buffer; the overflow must be dropped, not block.
	for i := 0; i < 9; i++ {
		bus.Publish(Event{Type: EventStatusChanged})
	}

	delivered := 0
	for {
		select {
		case <-ch:
			delivered++
			continue
		default:
		}
		break
	}
	if delivered != 8 {
		t.Errorf("delivered %d events, want 8 (buffer size)", delivered)
	}
}

func TestBusCancelRemovesSubscription(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()

	cancel()
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount = %d after cancel, want 0", n)
	}
	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}

	// Double cancel must not panic.
	cancel()

	bus.Publish(Event{Type: EventInitResponse})
}
