// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"
	"time"

	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/log"
)

// FetchAd loads one ad from the network and adds it to the pool. It blocks
// until the loader answers or ctx is done. Failures are returned as
// *LoadError and broadcast to loading listeners.
func (c *Client) FetchAd(ctx context.Context, extras ...ad.Extra) (ad.Ad, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	reusable := c.getReusableAdLocked()
	c.mu.Unlock()

	c.hub.OnAdLoadingStarted(c.cfg.Type)
	c.log.Debug("loading ad", log.Int("extras", len(extras)))

	start := time.Now()
	loaded, err := c.loader.Load(ctx, LoadRequest{
		Network:   c.cfg.Network,
		AdUnit:    c.cfg.AdUnit,
		Placement: c.cfg.Placement,
		Type:      c.cfg.Type,
		Extras:    extras,
		Reusable:  reusable,
	})
	if err == nil && loaded == nil {
		err = ErrNilAd
	}
	c.metrics.ObserveFetch(c.cfg.Network, c.cfg.AdUnit, time.Since(start), err)

	if err != nil {
		c.restoreReusable(reusable)

		loadErr := &LoadError{
			Network: c.cfg.Network,
			AdUnit:  c.cfg.AdUnit,
			Type:    c.cfg.Type,
			Err:     err,
		}
		c.log.Warn("ad load failed", log.Error(err))
		c.hub.OnAdLoadingFailed(c.cfg.Type, loadErr)
		return nil, loadErr
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.loader.Destroy(loaded)
		c.hub.OnAdLoadingFailed(c.cfg.Type, ErrClientClosed)
		return nil, ErrClientClosed
	}
	evicted := c.addLoadedAdLocked(loaded)
	c.unlockAndNotify(evicted)

	c.log.Debug("ad loaded",
		log.Stringer("ad", loaded.ID()),
		log.Float64("revenue", loaded.Info().Revenue))
	c.hub.OnAdLoadingFinished(loaded)

	return loaded, nil
}

// restoreReusable puts a reusable ad back at the front of the pool after a
// failed fetch so its network resources are not leaked.
func (c *Client) restoreReusable(reusable ad.Ad) {
	if reusable == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.loader.Destroy(reusable)
		return
	}
	c.loadedAds = append([]ad.Ad{reusable}, c.loadedAds...)
	c.unlockAndNotify(nil)
}

// getReusableAdLocked takes the oldest served, unlocked ad out of a full
// pool so the loader can recycle it.
func (c *Client) getReusableAdLocked() ad.Ad {
	if len(c.loadedAds) < c.cfg.AdCacheSize {
		return nil
	}

	for i, a := range c.loadedAds {
		if !c.isServedLocked(a) {
			continue
		}
		c.loadedAds = append(c.loadedAds[:i:i], c.loadedAds[i+1:]...)
		c.forgetLocked(a.ID())
		return a
	}
	return nil
}

func (c *Client) addLoadedAdLocked(a ad.Ad) []ad.Ad {
	c.loadedAds = append(c.loadedAds, a)
	return c.ensureBufferSizeLocked()
}

// ensureBufferSizeLocked removes the oldest served, unlocked ads until at
// most AdCacheSize of them remain. A pool holding a single ad is left
// alone. The removed ads are returned for destruction.
func (c *Client) ensureBufferSizeLocked() []ad.Ad {
	if len(c.loadedAds) <= 1 {
		return nil
	}

	served := 0
	for _, a := range c.loadedAds {
		if c.isServedLocked(a) {
			served++
		}
	}

	excess := served - c.cfg.AdCacheSize
	if excess <= 0 {
		return nil
	}

	kept := make([]ad.Ad, 0, len(c.loadedAds)-excess)
	evicted := make([]ad.Ad, 0, excess)
	for _, a := range c.loadedAds {
		if excess > 0 && c.isServedLocked(a) {
			evicted = append(evicted, a)
			excess--
			continue
		}
		kept = append(kept, a)
	}
	c.loadedAds = kept

	for _, a := range evicted {
		c.forgetLocked(a.ID())
	}

	return evicted
}

// isServedLocked reports whether a is checked in and will never be shown
// as a fresh ad again: it was rendered, blocked or has expired.
func (c *Client) isServedLocked(a ad.Ad) bool {
	if c.isLockedLocked(a.ID()) {
		return false
	}
	return a.IsRendered() || !a.CanBeServed()
}
