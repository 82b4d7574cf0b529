// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"sync"
	"time"

	"github.com/luxfi/adpool/pkg/ad"
)

// Event types streamed on /v1/events
const (
	EventLoadingStarted  = "loading_started"
	EventLoadingFailed   = "loading_failed"
	EventLoadingFinished = "loading_finished"
	EventBlocked         = "blocked"
	EventRevenuePaid     = "revenue_paid"
	EventAvailability    = "availability"
)

// Event is one listener callback serialized for websocket subscribers
type Event struct {
	Type    string    `json:"type"`
	AdType  string    `json:"ad_type,omitempty"`
	AdID    string    `json:"ad_id,omitempty"`
	Network string    `json:"network,omitempty"`
	Revenue float64   `json:"revenue,omitempty"`
	Count   int       `json:"count"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

const subscriberBuffer = 64

// broadcaster fans events out to subscribers. Slow subscribers lose
// events instead of stalling the pool.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan Event]struct{})}
}

func (b *broadcaster) subscribe() (chan Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, false
	}
	ch := make(chan Event, subscriberBuffer)
	b.subs[ch] = struct{}{}
	return ch, true
}

func (b *broadcaster) unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *broadcaster) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *broadcaster) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

// eventSink turns listener callbacks into events
type eventSink struct {
	b   *broadcaster
	now func() time.Time
}

func (s *eventSink) adEvent(kind string, a ad.Ad) Event {
	return Event{
		Type:    kind,
		AdType:  a.Type().String(),
		AdID:    a.ID().String(),
		Network: a.Info().Network,
		Revenue: a.Info().Revenue,
		At:      s.now(),
	}
}

func (s *eventSink) OnAdLoadingStarted(adType ad.Type) {
	s.b.publish(Event{Type: EventLoadingStarted, AdType: adType.String(), At: s.now()})
}

func (s *eventSink) OnAdLoadingFailed(adType ad.Type, err error) {
	e := Event{Type: EventLoadingFailed, AdType: adType.String(), At: s.now()}
	if err != nil {
		e.Error = err.Error()
	}
	s.b.publish(e)
}

func (s *eventSink) OnAdLoadingFinished(a ad.Ad) {
	s.b.publish(s.adEvent(EventLoadingFinished, a))
}

func (s *eventSink) OnAdBlocked(a ad.Ad) {
	s.b.publish(s.adEvent(EventBlocked, a))
}

func (s *eventSink) OnAdRevenuePaid(a ad.Ad) {
	s.b.publish(s.adEvent(EventRevenuePaid, a))
}

func (s *eventSink) OnAvailableAdCountChanged(count int) {
	s.b.publish(Event{Type: EventAvailability, Count: count, At: s.now()})
}
