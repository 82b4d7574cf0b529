// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package arbitrage

import (
	"sync"

	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/listener"
)

// ListeningArbitrageur is an Arbitrageur that forwards the events of every
// client to its own listeners, so observers register once.
type ListeningArbitrageur struct {
	*Arbitrageur

	hub       *listener.Hub
	forwarder *forwarder
	closeOnce sync.Once
}

// NewListening creates an arbitrageur and subscribes it to every client
func NewListening(clients []Source, opts ...Option) (*ListeningArbitrageur, error) {
	arb, err := New(clients, opts...)
	if err != nil {
		return nil, err
	}

	l := &ListeningArbitrageur{
		Arbitrageur: arb,
		hub:         listener.NewHub(arb.log),
	}
	l.forwarder = &forwarder{owner: l}
	arb.afterUnlock = l.forwarder.drain

	for _, c := range arb.clients {
		c.AddAdLoadingListener(l.forwarder)
		c.AddAdModerationListener(l.forwarder)
		c.AddAdRevenueListener(l.forwarder)
		c.AddAvailabilityListener(l.forwarder)
	}

	return l, nil
}

// Close unsubscribes from every client. The clients stay open.
func (l *ListeningArbitrageur) Close() error {
	l.closeOnce.Do(func() {
		for _, c := range l.clients {
			c.RemoveAdLoadingListener(l.forwarder)
			c.RemoveAdModerationListener(l.forwarder)
			c.RemoveAdRevenueListener(l.forwarder)
			c.RemoveAvailabilityListener(l.forwarder)
		}
	})
	return nil
}

func (l *ListeningArbitrageur) AddAdLoadingListener(ll listener.LoadingListener) bool {
	return l.hub.AddAdLoadingListener(ll)
}

func (l *ListeningArbitrageur) RemoveAdLoadingListener(ll listener.LoadingListener) bool {
	return l.hub.RemoveAdLoadingListener(ll)
}

func (l *ListeningArbitrageur) AddAdModerationListener(ml listener.ModerationListener) bool {
	return l.hub.AddAdModerationListener(ml)
}

func (l *ListeningArbitrageur) RemoveAdModerationListener(ml listener.ModerationListener) bool {
	return l.hub.RemoveAdModerationListener(ml)
}

func (l *ListeningArbitrageur) AddAdRevenueListener(rl listener.RevenueListener) bool {
	return l.hub.AddAdRevenueListener(rl)
}

func (l *ListeningArbitrageur) RemoveAdRevenueListener(rl listener.RevenueListener) bool {
	return l.hub.RemoveAdRevenueListener(rl)
}

func (l *ListeningArbitrageur) AddAvailabilityListener(al listener.AvailabilityListener) bool {
	return l.hub.AddAvailabilityListener(al)
}

func (l *ListeningArbitrageur) RemoveAvailabilityListener(al listener.AvailabilityListener) bool {
	return l.hub.RemoveAvailabilityListener(al)
}

// forwarder is the listener registered on each client. Availability is
// re-published as the total across clients rather than one client's count.
//
// Events are queued and delivered once nobody holds the coordinator, so
// listeners may call GetAd or ReleaseAd. Whoever holds the coordinator
// when an event is queued drains the queue after unlocking.
type forwarder struct {
	owner *ListeningArbitrageur

	mu       sync.Mutex
	queue    []func()
	draining bool
}

func (f *forwarder) dispatch(event func()) {
	f.mu.Lock()
	f.queue = append(f.queue, event)
	f.mu.Unlock()

	if !f.owner.mu.TryLock() {
		return
	}
	f.owner.mu.Unlock()
	f.drain()
}

// drain delivers queued events in order. A nested call from a listener
// returns at once; the outer loop picks up what the listener queued.
func (f *forwarder) drain() {
	f.mu.Lock()
	if f.draining {
		f.mu.Unlock()
		return
	}
	f.draining = true
	for len(f.queue) > 0 {
		next := f.queue[0]
		f.queue[0] = nil
		f.queue = f.queue[1:]

		f.mu.Unlock()
		next()
		f.mu.Lock()
	}
	f.draining = false
	f.mu.Unlock()
}

func (f *forwarder) OnAdLoadingStarted(adType ad.Type) {
	f.dispatch(func() { f.owner.hub.OnAdLoadingStarted(adType) })
}

func (f *forwarder) OnAdLoadingFailed(adType ad.Type, err error) {
	f.dispatch(func() { f.owner.hub.OnAdLoadingFailed(adType, err) })
}

func (f *forwarder) OnAdLoadingFinished(a ad.Ad) {
	f.dispatch(func() { f.owner.hub.OnAdLoadingFinished(a) })
}

func (f *forwarder) OnAdBlocked(a ad.Ad) {
	f.dispatch(func() { f.owner.hub.OnAdBlocked(a) })
}

func (f *forwarder) OnAdRevenuePaid(a ad.Ad) {
	f.dispatch(func() { f.owner.hub.OnAdRevenuePaid(a) })
}

func (f *forwarder) OnAvailableAdCountChanged(int) {
	f.dispatch(func() {
		f.owner.hub.OnAvailableAdCountChanged(f.owner.GetAvailableAdCount())
	})
}
