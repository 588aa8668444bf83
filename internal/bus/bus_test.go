package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish(Event{Kind: "session.status_changed", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "session.status_changed" {
			t.Errorf("got kind %q, want session.status_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("roster.", 10)
	defer unsub()

	b.Publish(Event{Kind: "session.status_changed"})
	b.Publish(Event{Kind: "roster.roster_ready"})

	select {
	case evt := <-ch:
		if evt.Kind != "roster.roster_ready" {
			t.Errorf("got kind %q, want roster.roster_ready", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure session event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Publish(Event{Kind: "session.status_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestReliableSubscriptionBlocksInsteadOfDropping(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeReliable("roster.", 1)
	defer unsub()

	published := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			b.Publish(Event{Kind: "roster.contact_changed", Payload: i})
		}
		close(published)
	}()

	for i := 0; i < 3; i++ {
		evt := <-ch
		if evt.Payload.(int) != i {
			t.Fatalf("event %d payload = %v", i, evt.Payload)
		}
	}
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked")
	}
}

func TestReliableUnsubscribeReleasesPublisher(t *testing.T) {
	b := New()
	_, unsub := b.SubscribeReliable("roster.", 0)

	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: "roster.account_added"})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	unsub()
	unsub()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher not released by unsubscribe")
	}
}

func TestBlockedReliablePublishDoesNotStallOthers(t *testing.T) {
	b := New()
	roster, unsub := b.SubscribeReliable("roster.", 1)
	defer unsub()

	// The second event blocks until roster is drained.
	go func() {
		b.Publish(Event{Kind: "roster.contact_changed", Payload: 0})
		b.Publish(Event{Kind: "roster.contact_changed", Payload: 1})
	}()
	time.Sleep(20 * time.Millisecond)

	subscribed := make(chan (<-chan Event), 1)
	go func() {
		ch, _ := b.Subscribe("sync.", 4)
		subscribed <- ch
	}()

	var syncCh <-chan Event
	select {
	case syncCh = <-subscribed:
	case <-time.After(time.Second):
		t.Fatal("Subscribe blocked behind a reliable publish")
	}

	published := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: "sync.ended"})
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("sync.ended publish blocked behind a reliable publish")
	}
	if evt := <-syncCh; evt.Kind != "sync.ended" {
		t.Errorf("got kind %q, want sync.ended", evt.Kind)
	}

	for i := 0; i < 2; i++ {
		select {
		case evt := <-roster:
			if evt.Payload.(int) != i {
				t.Errorf("event %d payload = %v", i, evt.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("roster event %d not delivered", i)
		}
	}
}

func TestPublishStampsEvents(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 2)
	defer unsub()

	before := time.Now()
	b.Publish(Event{Kind: "sync.started"})
	b.Publish(NewEvent("sync.ended", 7))

	for i := 0; i < 2; i++ {
		evt := <-ch
		if evt.Timestamp.Before(before) {
			t.Errorf("%s timestamp %v predates publish", evt.Kind, evt.Timestamp)
		}
	}
}
