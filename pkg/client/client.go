// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"
	"sync"

	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/ids"
	"github.com/luxfi/adpool/pkg/listener"
	"github.com/luxfi/adpool/pkg/log"
	"github.com/luxfi/adpool/pkg/metric"
)

// Client pools loaded ads for one network ad unit. Every read or mutation
// of the pool happens under one mutex; listeners and network teardown run
// after it is released.
//
// Locking an ad here means checking it out to a consumer. A locked ad is
// never handed to anyone else and never evicted until it is released.
type Client struct {
	cfg     Config
	loader  Loader
	log     log.Logger
	metrics *metric.Metrics
	hub     *listener.Hub

	mu              sync.Mutex
	loadedAds       []ad.Ad
	adIDByRequestID map[string]ids.ID
	lockedAdIDs     map[ids.ID]struct{}
	lastAvailable   int
	closed          bool
	done            chan struct{}
}

// Option customizes a Client
type Option func(*Client)

func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a client. It fails on an invalid config.
func New(cfg Config, loader Loader, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, ErrNilLoader
	}
	if cfg.Type == 0 {
		cfg.Type = ad.TypeNative
	}

	c := &Client{
		cfg:             cfg,
		loader:          loader,
		log:             log.NoLog,
		adIDByRequestID: make(map[string]ids.ID),
		lockedAdIDs:     make(map[ids.ID]struct{}),
		lastAvailable:   -1,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(
		log.String("network", cfg.Network),
		log.String("ad_unit", cfg.AdUnit),
		log.Stringer("type", cfg.Type))
	c.hub = listener.NewHub(c.log)

	return c, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Network() string {
	return c.cfg.Network
}

// GetAvailableAdCount counts servable ads that were never rendered. With
// filterLocked, ads checked out to a consumer are left out.
func (c *Client) GetAvailableAdCount(filterLocked bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.countAvailableLocked(filterLocked)
}

// GetServedAd returns the ad previously handed out for requestID if it is
// still pooled, servable and not checked out. The ad is locked on return.
func (c *Client) GetServedAd(requestID string) ad.Ad {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	a := c.getServedAdLocked(requestID)
	c.unlockAndNotify(nil)

	return a
}

// GetAvailableAd returns the ad served for requestID or else the oldest
// fresh ad. The ad is locked on return and remembered for requestID.
func (c *Client) GetAvailableAd(requestID string) ad.Ad {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	a := c.getServedAdLocked(requestID)
	if a == nil {
		for _, candidate := range c.loadedAds {
			if !candidate.CanBeServed() || candidate.IsRendered() || c.isLockedLocked(candidate.ID()) {
				continue
			}
			a = candidate
			c.lockedAdIDs[a.ID()] = struct{}{}
			if requestID != "" {
				c.adIDByRequestID[requestID] = a.ID()
			}
			break
		}
	}
	c.unlockAndNotify(nil)

	return a
}

// GetAnyAd returns the oldest servable ad that is not checked out, rendered
// or not. It is the fallback when no fresh ad exists; no affinity is kept.
func (c *Client) GetAnyAd() ad.Ad {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	var found ad.Ad
	for _, a := range c.loadedAds {
		if a.CanBeServed() && !c.isLockedLocked(a.ID()) {
			found = a
			c.lockedAdIDs[a.ID()] = struct{}{}
			break
		}
	}
	c.unlockAndNotify(nil)

	return found
}

// ReleaseAd returns a checked out ad to the pool and trims the pool
func (c *Client) ReleaseAd(a ad.Ad) {
	if a == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if c.indexLocked(a.ID()) < 0 {
		delete(c.lockedAdIDs, a.ID())
		c.mu.Unlock()
		c.log.Debug("released ad not in pool", log.Stringer("ad", a.ID()))
		return
	}

	a.Release()
	delete(c.lockedAdIDs, a.ID())
	evicted := c.ensureBufferSizeLocked()
	c.unlockAndNotify(evicted)
}

// IsLocked reports whether the ad is checked out
func (c *Client) IsLocked(id ids.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isLockedLocked(id)
}

// ForgetRequest drops the affinity kept for requestID
func (c *Client) ForgetRequest(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.adIDByRequestID, requestID)
}

// ReportModeration records a moderation verdict for a pooled ad. Blocked
// ads stop being served and become eligible for eviction.
func (c *Client) ReportModeration(a ad.Ad, result ad.ModerationResult) {
	if a == nil {
		return
	}

	c.mu.Lock()
	if c.closed || c.indexLocked(a.ID()) < 0 {
		c.mu.Unlock()
		return
	}
	a.SetModerationResult(result)
	var evicted []ad.Ad
	if result == ad.ModerationBlocked {
		evicted = c.ensureBufferSizeLocked()
	}
	c.unlockAndNotify(evicted)

	if result == ad.ModerationBlocked {
		c.log.Info("ad blocked by moderation", log.Stringer("ad", a.ID()))
		c.hub.OnAdBlocked(a)
	}
}

// ReportRevenuePaid marks revenue as attributed. Listeners see each ad at
// most once.
func (c *Client) ReportRevenuePaid(a ad.Ad) {
	if a == nil || !a.MarkRevenuePaid() {
		return
	}

	c.metrics.ObserveRevenue(c.cfg.Network, a.Info().Revenue)
	c.hub.OnAdRevenuePaid(a)
}

// RegisterToLifecycle closes the client when ctx is done
func (c *Client) RegisterToLifecycle(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
}

// Close destroys every pooled ad. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)

	ads := c.loadedAds
	c.loadedAds = nil
	c.adIDByRequestID = make(map[string]ids.ID)
	c.lockedAdIDs = make(map[ids.ID]struct{})
	c.mu.Unlock()

	for _, a := range ads {
		c.loader.Destroy(a)
	}
	c.metrics.SetPool(c.cfg.Network, c.cfg.AdUnit, 0, 0)
	c.log.Info("ad client closed", log.Int("destroyed", len(ads)))

	return nil
}

// Stats is a point in time view of the pool
type Stats struct {
	Network   string       `json:"network"`
	AdUnit    string       `json:"ad_unit"`
	Type      string       `json:"type"`
	CacheSize int          `json:"cache_size"`
	PoolSize  int          `json:"pool_size"`
	Locked    int          `json:"locked"`
	Available int          `json:"available"`
	Rendered  int          `json:"rendered"`
	Closed    bool         `json:"closed"`
	Ads       []ad.Summary `json:"ads"`
}

func (c *Client) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Network:   c.cfg.Network,
		AdUnit:    c.cfg.AdUnit,
		Type:      c.cfg.Type.String(),
		CacheSize: c.cfg.AdCacheSize,
		PoolSize:  len(c.loadedAds),
		Locked:    len(c.lockedAdIDs),
		Available: c.countAvailableLocked(true),
		Closed:    c.closed,
		Ads:       make([]ad.Summary, 0, len(c.loadedAds)),
	}
	for _, a := range c.loadedAds {
		if a.IsRendered() {
			s.Rendered++
		}
		s.Ads = append(s.Ads, ad.Summarize(a))
	}

	return s
}

func (c *Client) AddAdLoadingListener(l listener.LoadingListener) bool {
	return c.hub.AddAdLoadingListener(l)
}

func (c *Client) RemoveAdLoadingListener(l listener.LoadingListener) bool {
	return c.hub.RemoveAdLoadingListener(l)
}

func (c *Client) AddAdModerationListener(l listener.ModerationListener) bool {
	return c.hub.AddAdModerationListener(l)
}

func (c *Client) RemoveAdModerationListener(l listener.ModerationListener) bool {
	return c.hub.RemoveAdModerationListener(l)
}

func (c *Client) AddAdRevenueListener(l listener.RevenueListener) bool {
	return c.hub.AddAdRevenueListener(l)
}

func (c *Client) RemoveAdRevenueListener(l listener.RevenueListener) bool {
	return c.hub.RemoveAdRevenueListener(l)
}

func (c *Client) AddAvailabilityListener(l listener.AvailabilityListener) bool {
	return c.hub.AddAvailabilityListener(l)
}

func (c *Client) RemoveAvailabilityListener(l listener.AvailabilityListener) bool {
	return c.hub.RemoveAvailabilityListener(l)
}

func (c *Client) getServedAdLocked(requestID string) ad.Ad {
	if requestID == "" {
		return nil
	}

	id, ok := c.adIDByRequestID[requestID]
	if !ok {
		return nil
	}

	i := c.indexLocked(id)
	if i < 0 {
		delete(c.adIDByRequestID, requestID)
		c.log.Debug("cleared stale request mapping", log.String("request", requestID))
		return nil
	}

	a := c.loadedAds[i]
	if !a.CanBeServed() || c.isLockedLocked(id) {
		return nil
	}
	c.lockedAdIDs[id] = struct{}{}

	return a
}

func (c *Client) countAvailableLocked(filterLocked bool) int {
	count := 0
	for _, a := range c.loadedAds {
		if !a.CanBeServed() || a.IsRendered() {
			continue
		}
		if filterLocked && c.isLockedLocked(a.ID()) {
			continue
		}
		count++
	}
	return count
}

func (c *Client) isLockedLocked(id ids.ID) bool {
	_, ok := c.lockedAdIDs[id]
	return ok
}

func (c *Client) indexLocked(id ids.ID) int {
	for i, a := range c.loadedAds {
		if a.ID() == id {
			return i
		}
	}
	return -1
}

// forgetLocked drops every reference the pool keeps to id
func (c *Client) forgetLocked(id ids.ID) {
	delete(c.lockedAdIDs, id)
	for requestID, adID := range c.adIDByRequestID {
		if adID == id {
			delete(c.adIDByRequestID, requestID)
		}
	}
}

// unlockAndNotify releases c.mu, destroys evicted ads and publishes the
// available count if it changed. c.mu must be held.
func (c *Client) unlockAndNotify(evicted []ad.Ad) {
	count := c.countAvailableLocked(true)
	changed := count != c.lastAvailable
	c.lastAvailable = count
	size := len(c.loadedAds)
	c.mu.Unlock()

	for _, a := range evicted {
		c.loader.Destroy(a)
		c.metrics.ObserveEviction(c.cfg.Network, c.cfg.AdUnit)
		c.log.Debug("evicted ad", log.Stringer("ad", a.ID()))
	}
	c.metrics.SetPool(c.cfg.Network, c.cfg.AdUnit, size, count)

	if changed {
		c.hub.OnAvailableAdCountChanged(count)
	}
}
