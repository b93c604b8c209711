package engine

import (
	"testing"
	"time"

	"runforge/internal/model"
)

func TestEventBrokerPublishSubscribe(t *testing.T) {
	b := NewEventBroker()

	ch, unsub := b.Subscribe("ex-1")
	defer unsub()

	b.Publish("ex-1", model.StatusRunning)

	select {
	case got := <-ch:
		if got != model.StatusRunning {
			t.Errorf("received %q, want RUNNING", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBrokerIsolatesTopics(t *testing.T) {
	b := NewEventBroker()

	ch1, unsub1 := b.Subscribe("ex-1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("ex-2")
	defer unsub2()

	b.Publish("ex-2", model.StatusCompleted)

	select {
	case got := <-ch2:
		if got != model.StatusCompleted {
			t.Errorf("received %q, want COMPLETED", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case got := <-ch1:
		t.Errorf("unexpected event %q on other topic", got)
	default:
	}
}

func TestEventBrokerCloseEndsSubscribers(t *testing.T) {
	b := NewEventBroker()

	ch, unsub := b.Subscribe("ex-1")
	defer unsub()

	b.Close("ex-1")

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestEventBrokerLateSubscriberGetsClosedChannel(t *testing.T) {
	b := NewEventBroker()

	b.Close("ex-1")

	ch, unsub := b.Subscribe("ex-1")
	defer unsub()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel for finished execution")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed for late subscriber")
	}
}

func TestEventBrokerPublishAfterCloseIsNoop(t *testing.T) {
	b := NewEventBroker()
	b.Close("ex-1")

	// Must not panic or resurrect the topic.
	b.Publish("ex-1", model.StatusRunning)

	ch, unsub := b.Subscribe("ex-1")
	defer unsub()
	if _, ok := <-ch; ok {
		t.Error("closed topic delivered an event")
	}
}

func TestEventBrokerUnsubscribe(t *testing.T) {
	b := NewEventBroker()

	ch, unsub := b.Subscribe("ex-1")
	unsub()

	b.Publish("ex-1", model.StatusRunning)

	select {
	case got, ok := <-ch:
		if ok {
			t.Errorf("received %q after unsubscribe", got)
		}
	default:
	}
}
