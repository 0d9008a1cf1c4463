package server

import (
	"context"
	"testing"
	"time"
)

func TestFeedDispatcherDeliversToSubscribedViewer(t *testing.T) {
	dispatcher := NewFeedDispatcher()
	stream, cancel := dispatcher.Subscribe(context.Background(), "viewer-1")
	defer cancel()

	event := FeedEvent{
		ViewerID:  "viewer-1",
		EventType: FeedEventActivity,
		ActorID:   "friend-1",
		Kind:      "data_updated",
		Timestamp: time.Unix(1750000000, 0),
	}
	dispatcher.Publish(event)

	select {
	case received := <-stream:
		if received.ActorID != "friend-1" || received.EventType != FeedEventActivity {
			t.Fatalf("unexpected event: %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event delivery")
	}
}

func TestFeedDispatcherScopesEventsToViewer(t *testing.T) {
	dispatcher := NewFeedDispatcher()
	stream, cancel := dispatcher.Subscribe(context.Background(), "viewer-1")
	defer cancel()

	dispatcher.Publish(FeedEvent{
		ViewerID:  "someone-else",
		EventType: FeedEventActivity,
		ActorID:   "friend-1",
	})

	select {
	case event := <-stream:
		t.Fatalf("expected no delivery for another viewer, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedDispatcherDropsEventsWhenBufferFull(t *testing.T) {
	dispatcher := NewFeedDispatcher()
	stream, cancel := dispatcher.Subscribe(context.Background(), "viewer-1")
	defer cancel()

	for i := 0; i < dispatcher.bufferSize*2; i++ {
		dispatcher.Publish(FeedEvent{
			ViewerID:  "viewer-1",
			EventType: FeedEventActivity,
			ActorID:   "friend-1",
		})
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
		default:
			if received != dispatcher.bufferSize {
				t.Fatalf("expected exactly %d buffered events, got %d", dispatcher.bufferSize, received)
			}
			return
		}
	}
}

func TestFeedDispatcherUnsubscribesOnContextCancel(t *testing.T) {
	dispatcher := NewFeedDispatcher()
	ctx, cancelCtx := context.WithCancel(context.Background())
	_, cancel := dispatcher.Subscribe(ctx, "viewer-1")
	defer cancel()

	cancelCtx()

	deadline := time.After(time.Second)
	for {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers["viewer-1"])
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected subscription removed after context cancel")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
