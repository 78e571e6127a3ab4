package events_test

import (
	"testing"
	"time"

	"clusterkit/internal/events"
)

func TestOnReceivesEmittedPayload(t *testing.T) {
	h := events.NewHub()
	ch, _ := h.On(events.Ready)

	h.Emit(events.Ready, 42)

	select {
	case v := <-ch:
		if v != 42 {
			t.Fatalf("got %v want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestOffStopsDelivery(t *testing.T) {
	h := events.NewHub()
	ch, sub := h.On(events.Death)
	h.Off(sub)

	h.Emit(events.Death, "ignored")

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after Off")
	}
}

func TestEmitDoesNotCrossKinds(t *testing.T) {
	h := events.NewHub()
	readyCh, _ := h.On(events.Ready)
	_, _ = h.On(events.Disconnect)

	h.Emit(events.Disconnect, "d")

	select {
	case <-readyCh:
		t.Fatal("ready listener should not receive disconnect events")
	case <-time.After(20 * time.Millisecond):
	}
}
