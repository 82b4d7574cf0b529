// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"time"

	"github.com/luxfi/adpool/pkg/arbitrage"
	"github.com/luxfi/adpool/pkg/backoff"
	"github.com/luxfi/adpool/pkg/log"
)

// fetcher is the part of the arbitrageur the refill loop drives
type fetcher interface {
	FetchAdIfNecessary(ctx context.Context, extras arbitrage.ExtrasProvider) []*arbitrage.FetchResult
}

// refiller keeps every client topped up. A round where every attempted
// fetch failed delays the next one by the backoff schedule; any success
// resets it.
type refiller struct {
	arb      fetcher
	interval time.Duration
	backoff  backoff.Config
	extras   arbitrage.ExtrasProvider
	log      log.Logger

	failures int
}

// round runs one refill pass and returns how long to wait before the next
func (r *refiller) round(ctx context.Context) time.Duration {
	results := r.arb.FetchAdIfNecessary(ctx, r.extras)

	attempted, failed := 0, 0
	for _, res := range results {
		if res == nil {
			continue
		}
		attempted++
		if res.Err != nil {
			failed++
			r.log.Debug("refill failed",
				log.String("network", res.Network),
				log.Error(res.Err))
		}
	}

	if attempted == 0 || failed < attempted {
		r.failures = 0
		return r.interval
	}

	delay, ok := r.backoff.GetDelay(r.failures)
	r.failures++
	if !ok {
		r.log.Warn("refill keeps failing, waiting max delay",
			log.Int("failures", r.failures))
		r.failures = 0
		return r.backoff.MaxDelay
	}
	return delay
}

func (r *refiller) run(ctx context.Context) {
	r.log.Info("refill loop started", log.Stringer("interval", r.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("refill loop stopped")
			return
		case <-timer.C:
			timer.Reset(r.round(ctx))
		}
	}
}
