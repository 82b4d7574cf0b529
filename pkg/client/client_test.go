// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/adpool/internal/testing/network"
	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/client"
	"github.com/luxfi/adpool/pkg/listener"
	"github.com/luxfi/adpool/pkg/log"
	"github.com/luxfi/adpool/pkg/metric"
)

func newClient(t *testing.T, cacheSize int) (*client.Client, *network.FakeLoader) {
	t.Helper()

	loader := network.NewFakeLoader()
	cfg := client.DefaultConfig("alpha", "unit-1")
	cfg.AdCacheSize = cacheSize

	c, err := client.New(cfg, loader, client.WithLogger(log.NoOp()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c, loader
}

func fetch(t *testing.T, c *client.Client) ad.Ad {
	t.Helper()

	a, err := c.FetchAd(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func TestNewValidatesConfig(t *testing.T) {
	require := require.New(t)
	loader := network.NewFakeLoader()

	cfg := client.DefaultConfig("alpha", "unit-1")
	cfg.AdCacheSize = 0
	_, err := client.New(cfg, loader)
	require.ErrorIs(err, client.ErrInvalidCacheSize)

	cfg.AdCacheSize = -3
	_, err = client.New(cfg, loader)
	require.ErrorIs(err, client.ErrInvalidCacheSize)

	cfg = client.DefaultConfig("alpha", "")
	_, err = client.New(cfg, loader)
	require.ErrorIs(err, client.ErrEmptyAdUnit)

	_, err = client.New(client.DefaultConfig("alpha", "unit-1"), nil)
	require.ErrorIs(err, client.ErrNilLoader)
}

func TestLockRoundTrip(t *testing.T) {
	require := require.New(t)
	c, _ := newClient(t, 2)

	loaded := fetch(t, c)
	require.Equal(1, c.GetAvailableAdCount(true))

	a := c.GetAvailableAd("slot-1")
	require.NotNil(a)
	require.Equal(loaded.ID(), a.ID())
	require.True(c.IsLocked(a.ID()))
	require.Equal(0, c.GetAvailableAdCount(true))
	require.Equal(1, c.GetAvailableAdCount(false))

	c.ReleaseAd(a)
	require.False(c.IsLocked(a.ID()))
	require.Equal(1, c.GetAvailableAdCount(true))
}

func TestGetAvailableAdSkipsLockedAndRendered(t *testing.T) {
	require := require.New(t)
	c, _ := newClient(t, 4)

	first := fetch(t, c)
	second := fetch(t, c)
	third := fetch(t, c)

	got := c.GetAvailableAd("a")
	require.Equal(first.ID(), got.ID())

	second.MarkRendered()
	got = c.GetAvailableAd("b")
	require.Equal(third.ID(), got.ID())

	require.Nil(c.GetAvailableAd("c"))
}

func TestServedAdAffinity(t *testing.T) {
	require := require.New(t)
	c, _ := newClient(t, 2)

	fetch(t, c)
	a := c.GetAvailableAd("slot")
	require.NotNil(a)
	a.MarkRendered()

	// locked ads are not handed out again
	require.Nil(c.GetServedAd("slot"))

	c.ReleaseAd(a)
	again := c.GetServedAd("slot")
	require.NotNil(again)
	require.Equal(a.ID(), again.ID())

	c.ReleaseAd(again)
	viaAvailable := c.GetAvailableAd("slot")
	require.NotNil(viaAvailable)
	require.Equal(a.ID(), viaAvailable.ID())

	require.Nil(c.GetServedAd(""))
	require.Nil(c.GetServedAd("unknown"))
}

func TestServedAdNotServable(t *testing.T) {
	require := require.New(t)
	c, _ := newClient(t, 2)

	fetch(t, c)
	fetch(t, c)
	a := c.GetAvailableAd("slot")
	c.ReleaseAd(a)

	a.SetModerationResult(ad.ModerationBlocked)
	require.Nil(c.GetServedAd("slot"))
}

func TestStaleMappingIsCleared(t *testing.T) {
	require := require.New(t)
	c, _ := newClient(t, 1)

	a := fetch(t, c)
	b := fetch(t, c)

	got := c.GetAvailableAd("slot")
	require.Equal(a.ID(), got.ID())
	got.MarkRendered()
	c.ReleaseAd(got)

	other := c.GetAvailableAd("other")
	require.Equal(b.ID(), other.ID())
	other.MarkRendered()

	// releasing b leaves two served ads for a cache of one, a goes away
	c.ReleaseAd(other)
	require.Equal(1, c.Snapshot().PoolSize)

	require.Nil(c.GetServedAd("slot"))
	again := c.GetServedAd("other")
	require.NotNil(again)
	require.Equal(b.ID(), again.ID())
}

func TestGetAnyAdFallsBackToRendered(t *testing.T) {
	require := require.New(t)
	c, _ := newClient(t, 2)

	require.Nil(c.GetAnyAd())

	loaded := fetch(t, c)
	a := c.GetAvailableAd("slot")
	a.MarkRendered()
	c.ReleaseAd(a)

	require.Nil(c.GetAvailableAd("other"))

	anyAd := c.GetAnyAd()
	require.NotNil(anyAd)
	require.Equal(loaded.ID(), anyAd.ID())
	require.True(c.IsLocked(anyAd.ID()))

	require.Nil(c.GetAnyAd())
}

func TestEvictionFloor(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 2)

	a := fetch(t, c)
	got := c.GetAvailableAd("slot")
	got.MarkRendered()
	c.ReleaseAd(got)

	require.Equal(1, c.Snapshot().PoolSize)
	require.Equal(0, loader.DestroyCount(a.ID()))
	require.NotNil(c.GetAnyAd())
}

func TestEvictionFloorWithCacheOfOne(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 1)

	a := fetch(t, c)
	got := c.GetAvailableAd("slot")
	got.MarkRendered()
	c.ReleaseAd(got)

	require.Equal(1, c.Snapshot().PoolSize)
	require.Equal(0, loader.DestroyCount(a.ID()))
}

func TestEvictionOrder(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 1)

	a := fetch(t, c)
	gotA := c.GetAvailableAd("a")
	require.Equal(a.ID(), gotA.ID())
	gotA.MarkRendered()

	// a is locked, so it is not recycled by the next fetch
	b := fetch(t, c)
	gotB := c.GetAvailableAd("b")
	require.Equal(b.ID(), gotB.ID())
	gotB.MarkRendered()

	c.ReleaseAd(gotA)
	require.Equal(2, c.Snapshot().PoolSize)
	require.Equal(0, loader.DestroyCount(a.ID()))

	c.ReleaseAd(gotB)
	require.Equal(1, c.Snapshot().PoolSize)
	require.Equal(1, loader.DestroyCount(a.ID()))
	require.Equal(0, loader.DestroyCount(b.ID()))

	remaining := c.GetAnyAd()
	require.Equal(b.ID(), remaining.ID())
}

func TestFreshAdsAreNeverEvicted(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 1)

	for i := 0; i < 5; i++ {
		fetch(t, c)
	}

	require.Equal(5, c.Snapshot().PoolSize)
	require.Equal(5, c.GetAvailableAdCount(true))
	require.Equal(0, loader.Destroyed())
}

func TestBlockedAdsAreEvicted(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 1)

	a := fetch(t, c)
	b := fetch(t, c)
	cAd := fetch(t, c)

	var blocked []ad.Ad
	c.AddAdModerationListener(&listener.Funcs{Blocked: func(x ad.Ad) { blocked = append(blocked, x) }})

	c.ReportModeration(a, ad.ModerationBlocked)
	require.Len(blocked, 1)
	require.Equal(3, c.Snapshot().PoolSize)

	c.ReportModeration(b, ad.ModerationBlocked)
	require.Len(blocked, 2)
	require.Equal(2, c.Snapshot().PoolSize)
	require.Equal(1, loader.DestroyCount(a.ID()))

	require.Equal(1, c.GetAvailableAdCount(true))
	got := c.GetAvailableAd("slot")
	require.Equal(cAd.ID(), got.ID())

	c.ReportModeration(got, ad.ModerationVerified)
	require.Len(blocked, 2)
}

func TestCloseIsIdempotent(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 2)

	a := fetch(t, c)
	b := fetch(t, c)

	require.NoError(c.Close())
	require.NoError(c.Close())

	require.Equal(1, loader.DestroyCount(a.ID()))
	require.Equal(1, loader.DestroyCount(b.ID()))

	require.Nil(c.GetAvailableAd("slot"))
	require.Nil(c.GetAnyAd())
	require.Equal(0, c.GetAvailableAdCount(true))
	require.True(c.Snapshot().Closed)

	_, err := c.FetchAd(context.Background())
	require.ErrorIs(err, client.ErrClientClosed)
}

func TestRegisterToLifecycle(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 2)

	a := fetch(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	c.RegisterToLifecycle(ctx)
	cancel()

	require.Eventually(func() bool {
		return loader.DestroyCount(a.ID()) == 1
	}, time.Second, 5*time.Millisecond)
	require.True(c.Snapshot().Closed)
}

func TestFetchEmitsLoadingEvents(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 2)

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	c.AddAdLoadingListener(&listener.Funcs{
		LoadingStarted:  func(ad.Type) { record("started") },
		LoadingFinished: func(ad.Ad) { record("finished") },
		LoadingFailed:   func(ad.Type, error) { record("failed") },
	})

	fetch(t, c)

	loader.Push(network.Outcome{Err: network.ErrNoFill})
	_, err := c.FetchAd(context.Background())
	require.Error(err)

	require.Equal([]string{"started", "finished", "started", "failed"}, events)
}

func TestFetchFailureIsTyped(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 2)

	var reported error
	c.AddAdLoadingListener(&listener.Funcs{LoadingFailed: func(_ ad.Type, err error) { reported = err }})

	loader.Push(network.Outcome{Err: network.ErrNoFill})
	a, err := c.FetchAd(context.Background())
	require.Nil(a)

	var loadErr *client.LoadError
	require.ErrorAs(err, &loadErr)
	require.Equal("alpha", loadErr.Network)
	require.Equal("unit-1", loadErr.AdUnit)
	require.ErrorIs(err, network.ErrNoFill)
	require.ErrorIs(reported, network.ErrNoFill)
	require.Equal(0, c.Snapshot().PoolSize)
}

func TestFetchReusesServedAd(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 1)

	a := fetch(t, c)
	got := c.GetAvailableAd("slot")
	got.MarkRendered()
	c.ReleaseAd(got)

	b := fetch(t, c)

	reused := loader.Reused()
	require.Len(reused, 1)
	require.Equal(a.ID(), reused[0].ID())
	require.Equal(1, c.Snapshot().PoolSize)
	require.Nil(c.GetServedAd("slot"))

	fresh := c.GetAvailableAd("other")
	require.Equal(b.ID(), fresh.ID())
}

func TestFetchFailureRestoresReusable(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 1)

	a := fetch(t, c)
	got := c.GetAvailableAd("slot")
	got.MarkRendered()
	c.ReleaseAd(got)

	loader.Push(network.Outcome{Err: network.ErrNoFill})
	_, err := c.FetchAd(context.Background())
	require.Error(err)

	require.Equal(1, c.Snapshot().PoolSize)
	require.Equal(0, loader.DestroyCount(a.ID()))

	restored := c.GetAnyAd()
	require.NotNil(restored)
	require.Equal(a.ID(), restored.ID())
}

func TestFetchCancellation(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 2)

	release := loader.Hold()
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.FetchAd(ctx)
		errCh <- err
	}()

	<-loader.Started()
	cancel()

	err := <-errCh
	require.ErrorIs(err, context.Canceled)
	var loadErr *client.LoadError
	require.ErrorAs(err, &loadErr)
}

func TestFetchAfterCloseDestroysLateAd(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 2)

	release := loader.Hold()
	errCh := make(chan error, 1)
	go func() {
		_, err := c.FetchAd(context.Background())
		errCh <- err
	}()

	<-loader.Started()
	require.NoError(c.Close())
	release()

	require.ErrorIs(<-errCh, client.ErrClientClosed)
	loaded := loader.Loaded()
	require.Len(loaded, 1)
	require.Equal(1, loader.DestroyCount(loaded[0].ID()))
}

func TestAvailabilityListener(t *testing.T) {
	require := require.New(t)
	c, _ := newClient(t, 2)

	var counts []int
	c.AddAvailabilityListener(&listener.Funcs{AvailableChanged: func(n int) { counts = append(counts, n) }})

	fetch(t, c)
	fetch(t, c)
	a := c.GetAvailableAd("slot")
	c.GetAvailableAdCount(true)
	c.ReleaseAd(a)

	require.Equal([]int{1, 2, 1, 2}, counts)
}

func TestRevenuePaidOnce(t *testing.T) {
	require := require.New(t)

	m, err := metric.NewMetrics()
	require.NoError(err)
	loader := network.NewFakeLoader()
	c, err := client.New(client.DefaultConfig("alpha", "unit-1"), loader, client.WithMetrics(m))
	require.NoError(err)
	defer c.Close()

	paid := 0
	c.AddAdRevenueListener(&listener.Funcs{RevenuePaid: func(ad.Ad) { paid++ }})

	a := fetch(t, c)
	c.ReportRevenuePaid(a)
	c.ReportRevenuePaid(a)
	c.ReportRevenuePaid(nil)

	require.Equal(1, paid)
	require.True(a.IsRevenuePaid())
}

func TestListenerPanicDoesNotBreakFetch(t *testing.T) {
	require := require.New(t)
	c, _ := newClient(t, 2)

	finished := 0
	c.AddAdLoadingListener(&listener.Funcs{LoadingFinished: func(ad.Ad) { panic("listener bug") }})
	c.AddAdLoadingListener(&listener.Funcs{LoadingFinished: func(ad.Ad) { finished++ }})

	a, err := c.FetchAd(context.Background())
	require.NoError(err)
	require.NotNil(a)
	require.Equal(1, finished)
	require.Equal(1, c.Snapshot().PoolSize)
}

func TestReleaseUnknownAd(t *testing.T) {
	require := require.New(t)
	c, loader := newClient(t, 2)

	fetch(t, c)
	stranger := ad.NewNative(ad.Info{Network: "beta"})

	require.NotPanics(func() {
		c.ReleaseAd(stranger)
		c.ReleaseAd(nil)
	})
	require.Equal(1, c.Snapshot().PoolSize)
	require.Equal(0, loader.DestroyCount(stranger.ID()))
}

func TestReleaseRunsReleaseHook(t *testing.T) {
	require := require.New(t)

	released := 0
	loader := &hookLoader{hook: func() { released++ }}
	c, err := client.New(client.DefaultConfig("alpha", "unit-1"), loader)
	require.NoError(err)
	defer c.Close()

	_, err = c.FetchAd(context.Background())
	require.NoError(err)

	a := c.GetAvailableAd("slot")
	c.ReleaseAd(a)
	require.Equal(1, released)
}

func TestConcurrentCheckout(t *testing.T) {
	require := require.New(t)
	c, _ := newClient(t, 10)

	for i := 0; i < 10; i++ {
		fetch(t, c)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a := c.GetAvailableAd(""); a != nil {
				mu.Lock()
				seen[a.ID().String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(seen, 10)
	for _, n := range seen {
		require.Equal(1, n)
	}
	require.Equal(0, c.GetAvailableAdCount(true))
}

func TestAwaitCallback(t *testing.T) {
	require := require.New(t)

	want := ad.NewNative(ad.Info{Network: "alpha"})
	unregistered := 0
	got, err := client.AwaitCallback(context.Background(), func(done client.Completion) func() {
		go func() {
			done(want, nil)
			done(nil, errors.New("second completion"))
		}()
		return func() { unregistered++ }
	}, nil)

	require.NoError(err)
	require.Equal(want.ID(), got.ID())
	require.Equal(1, unregistered)
}

func TestAwaitCallbackCancelled(t *testing.T) {
	require := require.New(t)

	var (
		mu        sync.Mutex
		complete  client.Completion
		discarded []ad.Ad
	)
	unregistered := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.AwaitCallback(ctx, func(done client.Completion) func() {
		mu.Lock()
		complete = done
		mu.Unlock()
		return func() { close(unregistered) }
	}, func(a ad.Ad) {
		discarded = append(discarded, a)
	})
	require.ErrorIs(err, context.Canceled)
	<-unregistered

	late := ad.NewNative(ad.Info{})
	mu.Lock()
	complete(late, nil)
	mu.Unlock()
	require.Len(discarded, 1)
	require.Equal(late.ID(), discarded[0].ID())
}

func TestLoadRequestExtra(t *testing.T) {
	require := require.New(t)

	req := client.LoadRequest{Extras: []ad.Extra{{Key: "slot", Value: 3}}}
	v, ok := req.Extra("slot")
	require.True(ok)
	require.Equal(3, v)

	_, ok = req.Extra("missing")
	require.False(ok)
}

type hookLoader struct {
	hook func()
}

func (h *hookLoader) Load(_ context.Context, req client.LoadRequest) (ad.Ad, error) {
	return ad.New(req.Type, ad.Info{Network: req.Network}, ad.WithReleaseHook(h.hook)), nil
}

func (h *hookLoader) Destroy(ad.Ad) {}

func BenchmarkCheckoutRelease(b *testing.B) {
	loader := network.NewFakeLoader()
	c, _ := client.New(client.DefaultConfig("alpha", "unit-1"), loader)
	defer c.Close()

	for i := 0; i < 8; i++ {
		c.FetchAd(context.Background())
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a := c.GetAvailableAd("slot")
		c.ReleaseAd(a)
	}
}
