// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package listener

import (
	"fmt"

	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/log"
)

// Hub fans every event out to the listeners registered for it. Each
// listener call is isolated: a panic is logged and delivery continues.
type Hub struct {
	loading      Set[LoadingListener]
	moderation   Set[ModerationListener]
	revenue      Set[RevenueListener]
	availability Set[AvailabilityListener]
	log          log.Logger
}

// NewHub creates an empty hub
func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.NoLog
	}
	return &Hub{log: logger}
}

func (h *Hub) AddAdLoadingListener(l LoadingListener) bool {
	return h.loading.Add(l)
}

func (h *Hub) RemoveAdLoadingListener(l LoadingListener) bool {
	return h.loading.Remove(l)
}

func (h *Hub) AddAdModerationListener(l ModerationListener) bool {
	return h.moderation.Add(l)
}

func (h *Hub) RemoveAdModerationListener(l ModerationListener) bool {
	return h.moderation.Remove(l)
}

func (h *Hub) AddAdRevenueListener(l RevenueListener) bool {
	return h.revenue.Add(l)
}

func (h *Hub) RemoveAdRevenueListener(l RevenueListener) bool {
	return h.revenue.Remove(l)
}

func (h *Hub) AddAvailabilityListener(l AvailabilityListener) bool {
	return h.availability.Add(l)
}

func (h *Hub) RemoveAvailabilityListener(l AvailabilityListener) bool {
	return h.availability.Remove(l)
}

// Count returns the number of registered listeners across all events
func (h *Hub) Count() int {
	return h.loading.Len() + h.moderation.Len() + h.revenue.Len() + h.availability.Len()
}

func (h *Hub) OnAdLoadingStarted(adType ad.Type) {
	for _, l := range h.loading.Snapshot() {
		h.invoke("loading_started", func() { l.OnAdLoadingStarted(adType) })
	}
}

func (h *Hub) OnAdLoadingFailed(adType ad.Type, err error) {
	for _, l := range h.loading.Snapshot() {
		h.invoke("loading_failed", func() { l.OnAdLoadingFailed(adType, err) })
	}
}

func (h *Hub) OnAdLoadingFinished(a ad.Ad) {
	for _, l := range h.loading.Snapshot() {
		h.invoke("loading_finished", func() { l.OnAdLoadingFinished(a) })
	}
}

func (h *Hub) OnAdBlocked(a ad.Ad) {
	for _, l := range h.moderation.Snapshot() {
		h.invoke("blocked", func() { l.OnAdBlocked(a) })
	}
}

func (h *Hub) OnAdRevenuePaid(a ad.Ad) {
	for _, l := range h.revenue.Snapshot() {
		h.invoke("revenue_paid", func() { l.OnAdRevenuePaid(a) })
	}
}

func (h *Hub) OnAvailableAdCountChanged(count int) {
	for _, l := range h.availability.Snapshot() {
		h.invoke("available_changed", func() { l.OnAvailableAdCountChanged(count) })
	}
}

func (h *Hub) invoke(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("listener panicked",
				log.String("event", event),
				log.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}
