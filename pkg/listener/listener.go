// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package listener defines the callbacks emitted by ad clients and the
// fan-out used to deliver them to many subscribers.
package listener

import "github.com/luxfi/adpool/pkg/ad"

// LoadingListener observes network fetches
type LoadingListener interface {
	OnAdLoadingStarted(adType ad.Type)
	OnAdLoadingFailed(adType ad.Type, err error)
	OnAdLoadingFinished(a ad.Ad)
}

// ModerationListener observes ads blocked by moderation
type ModerationListener interface {
	OnAdBlocked(a ad.Ad)
}

// RevenueListener observes revenue attribution
type RevenueListener interface {
	OnAdRevenuePaid(a ad.Ad)
}

// AvailabilityListener observes the number of fresh, unlocked ads
type AvailabilityListener interface {
	OnAvailableAdCountChanged(count int)
}

// Funcs implements every listener interface with optional callbacks.
// Register it by pointer.
type Funcs struct {
	LoadingStarted   func(adType ad.Type)
	LoadingFailed    func(adType ad.Type, err error)
	LoadingFinished  func(a ad.Ad)
	Blocked          func(a ad.Ad)
	RevenuePaid      func(a ad.Ad)
	AvailableChanged func(count int)
}

func (f *Funcs) OnAdLoadingStarted(adType ad.Type) {
	if f.LoadingStarted != nil {
		f.LoadingStarted(adType)
	}
}

func (f *Funcs) OnAdLoadingFailed(adType ad.Type, err error) {
	if f.LoadingFailed != nil {
		f.LoadingFailed(adType, err)
	}
}

func (f *Funcs) OnAdLoadingFinished(a ad.Ad) {
	if f.LoadingFinished != nil {
		f.LoadingFinished(a)
	}
}

func (f *Funcs) OnAdBlocked(a ad.Ad) {
	if f.Blocked != nil {
		f.Blocked(a)
	}
}

func (f *Funcs) OnAdRevenuePaid(a ad.Ad) {
	if f.RevenuePaid != nil {
		f.RevenuePaid(a)
	}
}

func (f *Funcs) OnAvailableAdCountChanged(count int) {
	if f.AvailableChanged != nil {
		f.AvailableChanged(count)
	}
}
