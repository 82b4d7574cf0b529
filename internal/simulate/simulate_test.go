// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simulate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/client"
)

func TestLoadFills(t *testing.T) {
	require := require.New(t)

	l := New(2, 1, 0, 1)
	for i := 0; i < 20; i++ {
		got, err := l.Load(context.Background(), client.LoadRequest{
			Network: "sim",
			AdUnit:  "feed",
			Type:    ad.TypeBanner,
		})
		require.NoError(err)
		require.Equal(ad.TypeBanner, got.Type())
		require.Equal("sim", got.Info().Network)
		require.GreaterOrEqual(got.Info().Revenue, 1.0)
		require.Less(got.Info().Revenue, 3.0)
		require.False(got.IsExpired())
	}
}

func TestLoadNoFill(t *testing.T) {
	l := New(2, 0, 0, 1)
	_, err := l.Load(context.Background(), client.LoadRequest{Network: "sim"})
	require.ErrorIs(t, err, ErrNoFill)
}

func TestLoadCancelled(t *testing.T) {
	require := require.New(t)

	l := New(2, 1, time.Hour, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Load(ctx, client.LoadRequest{})
	require.ErrorIs(err, context.Canceled)
}
