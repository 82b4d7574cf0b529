// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"errors"
	"fmt"

	"github.com/luxfi/adpool/pkg/ad"
)

var (
	ErrInvalidCacheSize = errors.New("ad cache size must be positive")
	ErrEmptyAdUnit      = errors.New("ad unit is required")
	ErrNilLoader        = errors.New("loader is required")
	ErrClientClosed     = errors.New("ad client closed")
	ErrNilAd            = errors.New("loader returned no ad")
)

// Config describes one network ad unit
type Config struct {
	// AdCacheSize is how many served, unlocked ads are kept for reuse
	// before the oldest are destroyed.
	AdCacheSize int
	AdUnit      string
	Placement   string
	Type        ad.Type
	Network     string
}

// DefaultConfig returns a native ad unit config with a cache of two
func DefaultConfig(network, adUnit string) Config {
	return Config{
		AdCacheSize: 2,
		AdUnit:      adUnit,
		Type:        ad.TypeNative,
		Network:     network,
	}
}

// Validate fails fast on configurations that can never work
func (c Config) Validate() error {
	if c.AdCacheSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCacheSize, c.AdCacheSize)
	}
	if c.AdUnit == "" {
		return ErrEmptyAdUnit
	}
	return nil
}
