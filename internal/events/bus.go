// Package events provides the process-wide event bus. Device events such
// as Fingerbot button presses flow from coordinators to subscribers like
// the MQTT publisher. The bus is nil-safe: Publish on a nil *Bus is a no-op.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SourceTuyaBLE identifies events published by device coordinators.
const SourceTuyaBLE = "tuya_ble"

// KindFingerbotButton signals a physical press on a Fingerbot.
// Data: address, device_id.
const KindFingerbotButton = "tuya_ble_fingerbot_button_pressed"

// Data keys used by device events.
const (
	KeyAddress  = "address"
	KeyDeviceID = "device_id"
)

// Event is a single published event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Slow subscribers miss events
// rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend lets Unsubscribe accept the receive-only channel handed
	// out by Subscribe.
	recvToSend map[<-chan Event]chan Event

	dropped atomic.Uint64
	now     func() time.Time
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
		now:        time.Now,
	}
}

// Publish sends e to every subscriber, dropping it for subscribers whose
// buffer is full.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			n := b.dropped.Add(1)
			level := slog.LevelDebug
			if e.Kind == KindFingerbotButton {
				level = slog.LevelWarn
			}
			slog.Log(context.Background(), level, "event dropped for full subscriber",
				"kind", e.Kind, "dropped_total", n)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// ButtonPressed publishes a Fingerbot button press for the device.
func (b *Bus) ButtonPressed(address, deviceID string) {
	if b == nil {
		return
	}
	b.Publish(Event{
		Timestamp: b.now(),
		Source:    SourceTuyaBLE,
		Kind:      KindFingerbotButton,
		Data: map[string]any{
			KeyAddress:  address,
			KeyDeviceID: deviceID,
		},
	})
}

// Subscribe returns a channel receiving published events. Call Unsubscribe
// when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
