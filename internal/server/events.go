package server

import (
	"context"
	"sync"
	"time"
)

const (
	// FeedEventActivity announces a new friend activity to connected viewers.
	FeedEventActivity = "feed-activity"
)

// FeedEvent is an in-process notification that a friend produced a new
// activity. Delivery is best effort; the feed endpoint remains the source of
// truth.
type FeedEvent struct {
	ViewerID  string
	EventType string
	ActorID   string
	Kind      string
	Timestamp time.Time
}

// FeedDispatcher fans feed events out to subscribed viewers.
type FeedDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*feedSubscriber
	nextID      int64
	bufferSize  int
}

type feedSubscriber struct {
	id     int64
	stream chan FeedEvent
}

// NewFeedDispatcher constructs an empty dispatcher.
func NewFeedDispatcher() *FeedDispatcher {
	return &FeedDispatcher{
		subscribers: make(map[string]map[int64]*feedSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers the viewer for feed events until ctx is cancelled.
func (d *FeedDispatcher) Subscribe(ctx context.Context, viewerID string) (<-chan FeedEvent, func()) {
	if viewerID == "" {
		ch := make(chan FeedEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &feedSubscriber{
		id:     d.nextSequence(),
		stream: make(chan FeedEvent, d.bufferSize),
	}
	d.registerSubscriber(viewerID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(viewerID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to every live subscription of the viewer,
// dropping it when a subscriber's buffer is full.
func (d *FeedDispatcher) Publish(event FeedEvent) {
	if event.ViewerID == "" || event.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.ViewerID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*feedSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *FeedDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *FeedDispatcher) registerSubscriber(viewerID string, subscriber *feedSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[viewerID]; !ok {
		d.subscribers[viewerID] = make(map[int64]*feedSubscriber)
	}
	d.subscribers[viewerID][subscriber.id] = subscriber
}

func (d *FeedDispatcher) unregisterSubscriber(viewerID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[viewerID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, viewerID)
		}
	}
	d.mu.Unlock()
}
