// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package listener

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/log"
)

type mockLoadingListener struct {
	mock.Mock
}

func (m *mockLoadingListener) OnAdLoadingStarted(adType ad.Type) {
	m.Called(adType)
}

func (m *mockLoadingListener) OnAdLoadingFailed(adType ad.Type, err error) {
	m.Called(adType, err)
}

func (m *mockLoadingListener) OnAdLoadingFinished(a ad.Ad) {
	m.Called(a)
}

func TestHubDeliversToAll(t *testing.T) {
	hub := NewHub(log.NoOp())

	first := &mockLoadingListener{}
	second := &mockLoadingListener{}
	loaded := ad.NewNative(ad.Info{Network: "alpha", Revenue: 1})
	loadErr := errors.New("no fill")

	for _, l := range []*mockLoadingListener{first, second} {
		l.On("OnAdLoadingStarted", ad.TypeNative).Once()
		l.On("OnAdLoadingFinished", loaded).Once()
		l.On("OnAdLoadingFailed", ad.TypeNative, loadErr).Once()
		require.True(t, hub.AddAdLoadingListener(l))
	}

	hub.OnAdLoadingStarted(ad.TypeNative)
	hub.OnAdLoadingFinished(loaded)
	hub.OnAdLoadingFailed(ad.TypeNative, loadErr)

	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

func TestHubIsolatesPanics(t *testing.T) {
	require := require.New(t)
	hub := NewHub(log.NoOp())

	var delivered []string
	hub.AddAdRevenueListener(&Funcs{RevenuePaid: func(ad.Ad) { delivered = append(delivered, "first") }})
	hub.AddAdRevenueListener(&Funcs{RevenuePaid: func(ad.Ad) { panic("boom") }})
	hub.AddAdRevenueListener(&Funcs{RevenuePaid: func(ad.Ad) { delivered = append(delivered, "third") }})

	require.NotPanics(func() {
		hub.OnAdRevenuePaid(ad.NewNative(ad.Info{}))
	})
	require.Equal([]string{"first", "third"}, delivered)
}

func TestHubAddRemove(t *testing.T) {
	require := require.New(t)
	hub := NewHub(nil)

	l := &Funcs{}
	require.True(hub.AddAdModerationListener(l))
	require.False(hub.AddAdModerationListener(l))
	require.True(hub.AddAvailabilityListener(l))
	require.Equal(2, hub.Count())

	require.True(hub.RemoveAdModerationListener(l))
	require.False(hub.RemoveAdModerationListener(l))
	require.True(hub.RemoveAvailabilityListener(l))
	require.Equal(0, hub.Count())
}

func TestHubAddDuringDelivery(t *testing.T) {
	require := require.New(t)
	hub := NewHub(log.NoOp())

	var counts []int
	late := &Funcs{AvailableChanged: func(n int) { counts = append(counts, -n) }}
	early := &Funcs{AvailableChanged: func(n int) {
		counts = append(counts, n)
		hub.AddAvailabilityListener(late)
	}}
	hub.AddAvailabilityListener(early)

	// late joins during the first delivery and only sees the second event
	hub.OnAvailableAdCountChanged(1)
	hub.OnAvailableAdCountChanged(2)

	require.Equal([]int{1, 2, -2}, counts)
}

func TestSetConcurrentAccess(t *testing.T) {
	var set Set[AvailabilityListener]

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := &Funcs{}
			set.Add(l)
			_ = set.Snapshot()
			set.Remove(l)
		}()
	}
	wg.Wait()

	require.Equal(t, 0, set.Len())
}
