// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package arbitrage puts several ad clients behind a single source that
// always serves the most profitable ad while keeping request affinity.
package arbitrage

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/ids"
	"github.com/luxfi/adpool/pkg/listener"
	"github.com/luxfi/adpool/pkg/log"
	"github.com/luxfi/adpool/pkg/metric"
)

var (
	ErrNoClients        = errors.New("arbitrage: no clients")
	ErrNilClient        = errors.New("arbitrage: nil client")
	ErrInvalidThreshold = errors.New("arbitrage: required available ad count must be positive")
)

// Source is the part of a client the arbitrageur drives. *client.Client
// implements it.
type Source interface {
	Network() string

	GetAvailableAdCount(filterLocked bool) int
	GetServedAd(requestID string) ad.Ad
	GetAvailableAd(requestID string) ad.Ad
	GetAnyAd() ad.Ad
	ReleaseAd(a ad.Ad)
	ForgetRequest(requestID string)
	FetchAd(ctx context.Context, extras ...ad.Extra) (ad.Ad, error)

	AddAdLoadingListener(l listener.LoadingListener) bool
	RemoveAdLoadingListener(l listener.LoadingListener) bool
	AddAdModerationListener(l listener.ModerationListener) bool
	RemoveAdModerationListener(l listener.ModerationListener) bool
	AddAdRevenueListener(l listener.RevenueListener) bool
	RemoveAdRevenueListener(l listener.RevenueListener) bool
	AddAvailabilityListener(l listener.AvailabilityListener) bool
	RemoveAvailabilityListener(l listener.AvailabilityListener) bool
}

// ExtrasProvider returns the local extras for a fetch on network
type ExtrasProvider func(network string) []ad.Extra

// FetchResult is the outcome of one attempted fetch
type FetchResult struct {
	Network string
	Ad      ad.Ad
	Err     error
	Took    time.Duration
}

// Config tunes an Arbitrageur
type Config struct {
	// RequiredAvailableAdCount is the per-client threshold below which
	// FetchAdIfNecessary refills that client.
	RequiredAvailableAdCount int
}

func DefaultConfig() Config {
	return Config{RequiredAvailableAdCount: 1}
}

func (c Config) Validate() error {
	if c.RequiredAvailableAdCount <= 0 {
		return ErrInvalidThreshold
	}
	return nil
}

// Option customizes an Arbitrageur
type Option func(*Arbitrageur)

func WithConfig(cfg Config) Option {
	return func(a *Arbitrageur) {
		a.cfg = cfg
	}
}

func WithLogger(logger log.Logger) Option {
	return func(a *Arbitrageur) {
		a.log = logger
	}
}

func WithMetrics(m *metric.Metrics) Option {
	return func(a *Arbitrageur) {
		a.metrics = m
	}
}

// Arbitrageur ranks ads across clients by revenue. Selection bookkeeping
// and per-client fetches are guarded by different mutexes, so GetAd never
// waits behind a network round trip.
//
// Client listeners run while the coordinator is held. A listener that calls
// back into the arbitrageur must be registered on a ListeningArbitrageur,
// which delivers those events after the coordinator is released.
type Arbitrageur struct {
	cfg     Config
	clients []Source
	log     log.Logger
	metrics *metric.Metrics

	// fetchLocks[i] is held while clients[i] has a fetch in flight
	fetchLocks []sync.Mutex

	mu                     sync.Mutex
	clientIndexByRequestID map[string]int
	clientIndexByAdID      map[ids.ID]int

	// afterUnlock runs every time mu is released
	afterUnlock func()
}

// New creates an arbitrageur over clients. Order matters: ties in revenue
// and the fallback path both favor earlier clients.
func New(clients []Source, opts ...Option) (*Arbitrageur, error) {
	if len(clients) == 0 {
		return nil, ErrNoClients
	}
	for _, c := range clients {
		if c == nil {
			return nil, ErrNilClient
		}
	}

	a := &Arbitrageur{
		cfg:                    DefaultConfig(),
		clients:                append([]Source(nil), clients...),
		log:                    log.NoLog,
		fetchLocks:             make([]sync.Mutex, len(clients)),
		clientIndexByRequestID: make(map[string]int),
		clientIndexByAdID:      make(map[ids.ID]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	return a, nil
}

// Clients returns the arbitrated clients in priority order
func (a *Arbitrageur) Clients() []Source {
	return append([]Source(nil), a.clients...)
}

// GetAd returns an ad for requestID, locked for the caller. An ad already
// served for requestID wins over a more profitable one.
func (a *Arbitrageur) GetAd(requestID string) ad.Ad {
	a.mu.Lock()
	defer a.unlock()

	if i, ok := a.clientIndexByRequestID[requestID]; ok {
		if served := a.clients[i].GetServedAd(requestID); served != nil {
			a.clientIndexByAdID[served.ID()] = i
			return served
		}
	}

	var (
		best      ad.Ad
		bestIndex = -1
	)
	for i, c := range a.clients {
		candidate := c.GetAvailableAd(requestID)
		if candidate == nil {
			continue
		}
		if best == nil || candidate.Info().Revenue > best.Info().Revenue {
			if best != nil {
				a.discardLocked(bestIndex, requestID, best)
			}
			best, bestIndex = candidate, i
			continue
		}
		a.discardLocked(i, requestID, candidate)
	}

	if best != nil {
		if requestID != "" {
			a.clientIndexByRequestID[requestID] = bestIndex
		}
		a.clientIndexByAdID[best.ID()] = bestIndex
		a.metrics.ObserveWin(a.clients[bestIndex].Network())
		a.log.Debug("selected ad",
			log.String("request", requestID),
			log.String("network", a.clients[bestIndex].Network()),
			log.Float64("revenue", best.Info().Revenue))
		return best
	}

	for i, c := range a.clients {
		if fallback := c.GetAnyAd(); fallback != nil {
			a.clientIndexByAdID[fallback.ID()] = i
			a.metrics.ObserveFallback()
			a.log.Debug("served fallback ad",
				log.String("request", requestID),
				log.String("network", c.Network()))
			return fallback
		}
	}

	return nil
}

func (a *Arbitrageur) unlock() {
	a.mu.Unlock()
	if a.afterUnlock != nil {
		a.afterUnlock()
	}
}

// discardLocked hands back an ad that lost the ranking. The client
// remembered it for requestID, so that affinity goes too.
func (a *Arbitrageur) discardLocked(i int, requestID string, lost ad.Ad) {
	if requestID != "" {
		a.clients[i].ForgetRequest(requestID)
	}
	a.clients[i].ReleaseAd(lost)
}

// ReleaseAd returns an ad obtained from GetAd to the client that owns it.
// Unknown ads are ignored.
func (a *Arbitrageur) ReleaseAd(released ad.Ad) {
	if released == nil {
		return
	}

	a.mu.Lock()
	defer a.unlock()

	i, ok := a.clientIndexByAdID[released.ID()]
	if !ok {
		a.log.Debug("released unknown ad", log.Stringer("ad", released.ID()))
		return
	}
	delete(a.clientIndexByAdID, released.ID())
	a.clients[i].ReleaseAd(released)
}

// ForgetRequest drops every affinity kept for requestID
func (a *Arbitrageur) ForgetRequest(requestID string) {
	a.mu.Lock()
	defer a.unlock()

	i, ok := a.clientIndexByRequestID[requestID]
	if !ok {
		return
	}
	delete(a.clientIndexByRequestID, requestID)
	a.clients[i].ForgetRequest(requestID)
}

// GetAvailableAdCount sums the fresh, unlocked ads across clients
func (a *Arbitrageur) GetAvailableAdCount() int {
	total := 0
	for _, c := range a.clients {
		total += c.GetAvailableAdCount(true)
	}
	return total
}

func (a *Arbitrageur) HasAnyAvailableAd() bool {
	for _, c := range a.clients {
		if c.GetAvailableAdCount(true) > 0 {
			return true
		}
	}
	return false
}

// FetchAdIfNecessary refills every client holding fewer fresh ads than the
// configured threshold. A client that already has a fetch in flight is
// skipped. Fetches run concurrently and a failure never cancels a sibling.
// The result has one slot per client; nil means no fetch was attempted.
func (a *Arbitrageur) FetchAdIfNecessary(ctx context.Context, extras ExtrasProvider) []*FetchResult {
	results := make([]*FetchResult, len(a.clients))

	var g errgroup.Group
	for i, c := range a.clients {
		if c.GetAvailableAdCount(true) >= a.cfg.RequiredAvailableAdCount {
			continue
		}
		if !a.fetchLocks[i].TryLock() {
			a.metrics.ObserveSkippedFetch(c.Network())
			a.log.Debug("fetch already in flight", log.String("network", c.Network()))
			continue
		}

		i, c := i, c
		g.Go(func() error {
			defer a.fetchLocks[i].Unlock()

			var local []ad.Extra
			if extras != nil {
				local = extras(c.Network())
			}

			start := time.Now()
			fetched, err := c.FetchAd(ctx, local...)
			results[i] = &FetchResult{
				Network: c.Network(),
				Ad:      fetched,
				Err:     err,
				Took:    time.Since(start),
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
