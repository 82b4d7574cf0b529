// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package network provides a scriptable in-memory ad network for tests.
package network

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/client"
	"github.com/luxfi/adpool/pkg/ids"
)

// ErrNoFill is the default scripted load failure
var ErrNoFill = errors.New("no fill")

// Outcome scripts the result of one Load call
type Outcome struct {
	Revenue float64
	Err     error
	Delay   time.Duration
}

// FakeLoader is a scriptable client.Loader. Outcomes are consumed in order;
// once the script is empty every load succeeds with DefaultRevenue.
type FakeLoader struct {
	DefaultRevenue float64

	mu          sync.Mutex
	script      []Outcome
	gate        chan struct{}
	loads       int
	inFlight    int
	maxInFlight int
	destroyed   map[ids.ID]int
	reused      []ad.Ad
	loaded      []ad.Ad
	started     chan struct{}
}

// NewFakeLoader creates a loader that succeeds with revenue 1 by default
func NewFakeLoader() *FakeLoader {
	return &FakeLoader{
		DefaultRevenue: 1,
		destroyed:      make(map[ids.ID]int),
		started:        make(chan struct{}, 64),
	}
}

// Push appends outcomes to the script
func (f *FakeLoader) Push(outcomes ...Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.script = append(f.script, outcomes...)
}

// Hold makes subsequent loads wait until the returned function is called
func (f *FakeLoader) Hold() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	gate := make(chan struct{})
	f.gate = gate

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Started receives one value per Load call as it begins
func (f *FakeLoader) Started() <-chan struct{} {
	return f.started
}

func (f *FakeLoader) Load(ctx context.Context, req client.LoadRequest) (ad.Ad, error) {
	f.mu.Lock()
	f.loads++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	gate := f.gate
	outcome := Outcome{Revenue: f.DefaultRevenue}
	if len(f.script) > 0 {
		outcome = f.script[0]
		f.script = f.script[1:]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	select {
	case f.started <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if outcome.Delay > 0 {
		timer := time.NewTimer(outcome.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if outcome.Err != nil {
		return nil, outcome.Err
	}

	loaded := ad.New(req.Type, ad.Info{
		Network:   req.Network,
		AdUnit:    req.AdUnit,
		Placement: req.Placement,
		Revenue:   outcome.Revenue,
		Currency:  "USD",
	})

	f.mu.Lock()
	f.loaded = append(f.loaded, loaded)
	if req.Reusable != nil {
		f.reused = append(f.reused, req.Reusable)
	}
	f.mu.Unlock()

	if req.Reusable != nil {
		f.Destroy(req.Reusable)
	}

	return loaded, nil
}

func (f *FakeLoader) Destroy(a ad.Ad) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.destroyed[a.ID()]++
}

// Loads returns how many Load calls were made
func (f *FakeLoader) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.loads
}

// MaxInFlight returns the highest number of concurrent Load calls seen
func (f *FakeLoader) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.maxInFlight
}

// DestroyCount returns how many times id was destroyed
func (f *FakeLoader) DestroyCount(id ids.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.destroyed[id]
}

// Destroyed returns the number of distinct ads destroyed
func (f *FakeLoader) Destroyed() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.destroyed)
}

// Reused returns the ads handed back for recycling
func (f *FakeLoader) Reused() []ad.Ad {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]ad.Ad(nil), f.reused...)
}

// Loaded returns every ad produced so far
func (f *FakeLoader) Loaded() []ad.Ad {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]ad.Ad(nil), f.loaded...)
}
