package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
)

const (
	RealtimeEventRecordsChanged = "records-change"
	RealtimeEventSessionChanged = "session-change"
	realtimeEventHeartbeat      = "heartbeat"
	realtimeSourceBackend       = "studyaid-backend"
	realtimeBufferSize          = 16
)

// RealtimeMessage is one change notification fanned out to the event streams of an identity.
type RealtimeMessage struct {
	Email       string
	EventType   string
	Kind        records.ChangeKind
	Collections []string
	Durable     bool
	Timestamp   time.Time
}

// RealtimeDispatcher fans store change events out to subscribed event streams. It implements
// records.ChangeNotifier and never blocks the publisher.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
	}
}

// RecordsChanged translates a store event into realtime messages. A login also tells every
// other identity's streams that the session moved on, so stale tabs can react.
func (d *RealtimeDispatcher) RecordsChanged(event records.ChangeEvent) {
	message := RealtimeMessage{
		Email:     event.Email,
		EventType: RealtimeEventRecordsChanged,
		Kind:      event.Kind,
		Durable:   event.Durable,
		Timestamp: event.At,
	}
	for _, collection := range event.Collections {
		message.Collections = append(message.Collections, string(collection))
	}
	if event.Kind == records.ChangeKindRecords {
		d.Publish(message)
		return
	}
	message.EventType = RealtimeEventSessionChanged
	if event.Kind == records.ChangeKindLogin {
		d.broadcast(message)
		return
	}
	d.Publish(message)
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, email string) (<-chan RealtimeMessage, func()) {
	if email == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(email, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(email, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message to the streams of message.Email. Full buffers drop the message.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Email == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Email]
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	deliver(copies, message)
}

func (d *RealtimeDispatcher) broadcast(message RealtimeMessage) {
	d.mu.RLock()
	var copies []*realtimeSubscriber
	for _, subscribers := range d.subscribers {
		for _, subscriber := range subscribers {
			copies = append(copies, subscriber)
		}
	}
	d.mu.RUnlock()
	deliver(copies, message)
}

func deliver(subscribers []*realtimeSubscriber, message RealtimeMessage) {
	for _, subscriber := range subscribers {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(email string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[email]; !ok {
		d.subscribers[email] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[email][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(email string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[email]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, email)
		}
	}
	d.mu.Unlock()
}
