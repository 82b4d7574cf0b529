// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetDelay(t *testing.T) {
	require := require.New(t)

	cfg := Config{Factor: 2, Delay: time.Second, MaxDelay: 30 * time.Second, MaxRetry: 5}

	delay, ok := cfg.GetDelay(0)
	require.True(ok)
	require.Equal(time.Second, delay)

	delay, ok = cfg.GetDelay(3)
	require.True(ok)
	require.Equal(8*time.Second, delay)

	delay, ok = cfg.GetDelay(4)
	require.True(ok)
	require.Equal(16*time.Second, delay)

	_, ok = cfg.GetDelay(5)
	require.False(ok)

	_, ok = cfg.GetDelay(10)
	require.False(ok)
}

func TestGetDelayCapped(t *testing.T) {
	require := require.New(t)

	cfg := Config{Factor: 3, Delay: time.Second, MaxDelay: 10 * time.Second, MaxRetry: 100}

	delay, ok := cfg.GetDelay(2)
	require.True(ok)
	require.Equal(9*time.Second, delay)

	delay, ok = cfg.GetDelay(3)
	require.True(ok)
	require.Equal(10*time.Second, delay)

	delay, ok = cfg.GetDelay(90)
	require.True(ok)
	require.Equal(10*time.Second, delay)
}

func TestGetDelayNegativeAttempt(t *testing.T) {
	_, ok := Default().GetDelay(-1)
	require.False(t, ok)
}

func TestValidate(t *testing.T) {
	require := require.New(t)

	require.NoError(Default().Validate())
	require.ErrorIs(Config{Factor: 0.5, Delay: time.Second}.Validate(), ErrInvalidFactor)
	require.ErrorIs(Config{Factor: 2}.Validate(), ErrInvalidDelay)
}
