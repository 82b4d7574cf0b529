// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package simulate provides a random ad network for running the daemon
// without real network endpoints.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/client"
)

var ErrNoFill = errors.New("simulate: no fill")

// Loader is a client.Loader with random latency, fill and revenue. Revenue
// is drawn uniformly from [0.5, 1.5) times MeanRevenue.
type Loader struct {
	MeanRevenue float64
	FillRate    float64
	Latency     time.Duration
	TTL         time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

var _ client.Loader = (*Loader)(nil)

// New creates a loader seeded from seed
func New(meanRevenue, fillRate float64, latency time.Duration, seed int64) *Loader {
	return &Loader{
		MeanRevenue: meanRevenue,
		FillRate:    fillRate,
		Latency:     latency,
		TTL:         time.Hour,
		rnd:         rand.New(rand.NewSource(seed)),
	}
}

// Load requests an ad and waits for the simulated SDK callback
func (l *Loader) Load(ctx context.Context, req client.LoadRequest) (ad.Ad, error) {
	a, err := client.AwaitCallback(ctx, func(done client.Completion) func() {
		return l.request(req, done)
	}, l.Destroy)
	if err != nil {
		return nil, err
	}

	if req.Reusable != nil {
		l.Destroy(req.Reusable)
	}
	return a, nil
}

// request mimics a callback based SDK: the outcome is delivered to done
// from a timer goroutine. The returned function cancels delivery.
func (l *Loader) request(req client.LoadRequest, done client.Completion) func() {
	l.mu.Lock()
	jitter := time.Duration(0)
	if l.Latency > 0 {
		jitter = time.Duration(l.rnd.Int63n(int64(l.Latency)))
	}
	filled := l.rnd.Float64() < l.FillRate
	revenue := l.MeanRevenue * (0.5 + l.rnd.Float64())
	l.mu.Unlock()

	timer := time.AfterFunc(l.Latency/2+jitter, func() {
		if !filled {
			done(nil, fmt.Errorf("%s: %w", req.Network, ErrNoFill))
			return
		}
		done(ad.New(req.Type, ad.Info{
			Network:   req.Network,
			AdUnit:    req.AdUnit,
			Placement: req.Placement,
			Revenue:   revenue,
			Currency:  "USD",
		}, ad.WithExpiry(time.Now().Add(l.TTL))), nil)
	})
	return func() { timer.Stop() }
}

// Destroy has nothing to release for simulated ads
func (l *Loader) Destroy(ad.Ad) {}
