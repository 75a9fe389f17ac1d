package eventbus

import (
	"testing"
)

func TestSubscribeFiltersByPrefix(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	notes, unsubNotes := b.Subscribe(4, "notifier.")
	defer unsubNotes()

	b.Publish(Event{Type: TypeDelivered, ServerID: "g1"})
	b.Publish(Event{Type: TypeRecord, ServerID: "g1"})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(notes); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-notes
	if e.Type != TypeDelivered || e.Time.IsZero() {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeFailed})
	b.Publish(Event{Type: TypeFailed})

	if got := b.Dropped(); got != 1 {
		t.Fatalf("dropped=%d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	b.Publish(Event{Type: TypeRecord})
}
