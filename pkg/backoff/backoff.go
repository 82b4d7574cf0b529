// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package backoff

import (
	"errors"
	"math"
	"time"
)

var (
	ErrInvalidFactor = errors.New("backoff factor must be at least 1")
	ErrInvalidDelay  = errors.New("backoff delay must be positive")
)

// Config describes an exponential retry schedule with a cap on the delay and
// on the number of attempts.
type Config struct {
	Factor   float64
	Delay    time.Duration
	MaxDelay time.Duration
	MaxRetry int
}

// Default returns a schedule of 1s, 2s, 4s, 8s, 16s.
func Default() Config {
	return Config{
		Factor:   2,
		Delay:    time.Second,
		MaxDelay: 30 * time.Second,
		MaxRetry: 5,
	}
}

// Validate checks the schedule can produce delays
func (c Config) Validate() error {
	if c.Factor < 1 {
		return ErrInvalidFactor
	}
	if c.Delay <= 0 {
		return ErrInvalidDelay
	}
	return nil
}

// GetDelay returns the delay before the zero-based attempt. The second
// return value is false once attempt reaches MaxRetry.
func (c Config) GetDelay(attempt int) (time.Duration, bool) {
	if attempt < 0 || attempt >= c.MaxRetry {
		return 0, false
	}

	factor := c.Factor
	if factor == 0 {
		factor = 2
	}

	delay := float64(c.Delay) * math.Pow(factor, float64(attempt))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		return c.MaxDelay, true
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64), true
	}

	return time.Duration(delay), true
}
