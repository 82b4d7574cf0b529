// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/luxfi/adpool/pkg/ad"
)

// Loader is the network adapter behind a Client
type Loader interface {
	// Load performs one network round trip. It must return an error
	// describing the rejection when no ad is produced, and must honor ctx.
	Load(ctx context.Context, req LoadRequest) (ad.Ad, error)

	// Destroy releases network side resources tied to a. The client calls
	// it exactly once per ad before forgetting it.
	Destroy(a ad.Ad)
}

// LoadRequest carries everything a Loader needs for one fetch
type LoadRequest struct {
	Network   string
	AdUnit    string
	Placement string
	Type      ad.Type
	Extras    []ad.Extra

	// Reusable is a served ad taken out of the pool whose network
	// resources may be recycled. On success the loader owns it and must
	// destroy it if not reused; on failure the client takes it back.
	Reusable ad.Ad
}

// Extra returns the value of the local extra named key
func (r LoadRequest) Extra(key string) (interface{}, bool) {
	for _, e := range r.Extras {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// LoadError is returned when the network rejects a fetch
type LoadError struct {
	Network string
	AdUnit  string
	Type    ad.Type
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s ad from %s/%s: %v", e.Type, e.Network, e.AdUnit, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Completion is the one-shot callback handed to a callback based SDK
type Completion func(a ad.Ad, err error)

// AwaitCallback blocks until the callback registered by register fires or
// ctx is done. register returns a function that removes the callback; it is
// called once the wait is over either way. Completions after the first are
// ignored, and an ad delivered after cancellation is passed to discard so
// its resources can be released.
func AwaitCallback(ctx context.Context, register func(done Completion) (unregister func()), discard func(ad.Ad)) (ad.Ad, error) {
	type result struct {
		ad  ad.Ad
		err error
	}

	var (
		mu      sync.Mutex
		settled bool
		ch      = make(chan result, 1)
	)

	complete := func(a ad.Ad, err error) {
		mu.Lock()
		if settled {
			mu.Unlock()
			if a != nil && discard != nil {
				discard(a)
			}
			return
		}
		settled = true
		mu.Unlock()
		ch <- result{ad: a, err: err}
	}

	unregister := register(complete)
	if unregister != nil {
		defer unregister()
	}

	select {
	case r := <-ch:
		return r.ad, r.err
	case <-ctx.Done():
		mu.Lock()
		if settled {
			// completion won the race
			mu.Unlock()
			r := <-ch
			return r.ad, r.err
		}
		settled = true
		mu.Unlock()
		return nil, ctx.Err()
	}
}
