package events

import (
	"testing"
)

func TestBusFanOutAndUnsubscribe(t *testing.T) {
	bus := NewBus()

	a, unsubA := bus.Subscribe(EventOrderFilled, 4)
	b, unsubB := bus.Subscribe(EventOrderFilled, 4)
	defer unsubB()

	bus.Publish(EventOrderFilled, OrderUpdate{OrderID: "o-1"})

	for name, ch := range map[string]<-chan any{"a": a, "b": b} {
		select {
		case msg := <-ch:
			update, ok := msg.(OrderUpdate)
			if !ok || update.OrderID != "o-1" {
				t.Errorf("listener %s got %v", name, msg)
			}
		default:
			t.Errorf("listener %s got nothing", name)
		}
	}

	unsubA()
	if _, open := <-a; open {
		t.Error("unsubscribed channel still open")
	}

	// unsubscribed listeners no longer receive
	bus.Publish(EventOrderFilled, OrderUpdate{OrderID: "o-2"})
	if msg := <-b; msg.(OrderUpdate).OrderID != "o-2" {
		t.Errorf("remaining listener got %v", msg)
	}
}

func TestBusDropsWhenListenerFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventBarTick, 1)
	defer unsub()

	bus.Publish(EventBarTick, BarTick{Ticker: "ACME", Close: 100})
	// buffer full: this one is dropped instead of blocking
	bus.Publish(EventBarTick, BarTick{Ticker: "ACME", Close: 101})

	first := <-ch
	if first.(BarTick).Close != 100 {
		t.Errorf("first tick = %v", first)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected second tick %v", extra)
	default:
	}
}
