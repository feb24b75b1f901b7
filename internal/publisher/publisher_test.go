package publisher

import (
	"testing"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
)

func TestPublisher_SubscribeReceivesPublishedDelta(t *testing.T) {
	p := New()
	ch, unsubscribe := p.Subscribe()
	defer unsubscribe()

	want := Delta{RequestID: "req-1", BatchNum: 1, Decisions: []models.Decision{{RegionCode: "R001"}}}
	p.Publish(want)

	select {
	case got := <-ch:
		if got.RequestID != want.RequestID || got.BatchNum != want.BatchNum {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delta")
	}
}

func TestPublisher_PublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	p := New()
	done := make(chan struct{})
	go func() {
		p.Publish(Delta{RequestID: "req-1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no subscribers")
	}
}

func TestPublisher_FullBufferDropsWithoutBlocking(t *testing.T) {
	p := New()
	ch, unsubscribe := p.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+5; i++ {
			p.Publish(Delta{RequestID: "req-1", BatchNum: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	// Drain; should have received at least one delta without panicking.
	select {
	case <-ch:
	default:
		t.Error("expected at least one buffered delta")
	}
}

func TestPublisher_UnsubscribeClosesChannel(t *testing.T) {
	p := New()
	ch, unsubscribe := p.Subscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("expected channel closed after unsubscribe")
	}
	if p.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", p.SubscriberCount())
	}
}
