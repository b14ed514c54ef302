package bus

import (
	"sync"
	"testing"
)

func TestSubscribeReceivesExactType(t *testing.T) {
	b := New(nil)
	var got []Event
	var mu sync.Mutex
	b.Subscribe("session.created", func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})

	b.Publish("session.created", "a")
	b.Publish("session.updated", "b")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Properties != "a" {
		t.Fatalf("got %+v", got)
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	b := New(nil)
	var count int
	var mu sync.Mutex
	b.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish("a.b", nil)
	b.Publish("c.d", nil)

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	var count int
	var mu sync.Mutex
	unsub := b.Subscribe("x", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish("x", nil)
	unsub()
	b.Publish("x", nil)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestPublishOrderWithinOnePublisher(t *testing.T) {
	b := New(nil)
	var order []int
	b.Subscribe("e", func(ev Event) {
		order = append(order, ev.Properties.(int))
	})

	for i := 0; i < 5; i++ {
		b.Publish("e", i)
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestHandlerPanicDoesNotStopOtherHandlers(t *testing.T) {
	b := New(nil)
	var secondCalled bool
	b.Subscribe("e", func(Event) { panic("boom") })
	b.Subscribe("e", func(Event) { secondCalled = true })

	b.Publish("e", nil)

	if !secondCalled {
		t.Fatal("second handler was not called after first panicked")
	}
}

func TestPublishNeverBlocksOnNoSubscribers(t *testing.T) {
	b := New(nil)
	b.Publish("nothing.listens", 42)
}
