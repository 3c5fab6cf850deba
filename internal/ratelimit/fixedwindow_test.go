package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowRejectsAfterMax(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	fw, err := NewFixedWindow(client, "return")
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		allowed, remaining, _, err := fw.Allow(ctx, "ip:10.0.0.1", time.Minute, 3)
		require.NoError(t, err)
		require.True(t, allowed)
		require.Equal(t, 3-(i+1), remaining)
	}
	allowed, _, reset, err := fw.Allow(ctx, "ip:10.0.0.1", time.Minute, 3)
	require.NoError(t, err)
	require.False(t, allowed)
	require.True(t, reset.After(time.Now()))

	allowed, _, _, err = fw.Allow(ctx, "ip:10.0.0.2", time.Minute, 3)
	require.NoError(t, err)
	require.True(t, allowed, "other keys keep their own budget")
}

func TestFixedWindowNilAllowsEverything(t *testing.T) {
	var fw *FixedWindow
	allowed, remaining, _, err := fw.Allow(context.Background(), "k", time.Second, 5)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 5, remaining)
}
