package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sifan077/LinkSwift/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirySweeper_Sweep(t *testing.T) {
	links := newMemoryLinks()
	cache := newMemoryCache()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	token := "tok-1"
	expired := []model.Link{
		{Key: "old001", URL: "https://a.example.com", Access: model.AccessPublic, ExpiresAt: now.Add(-time.Hour)},
		{Key: "old002", URL: "https://b.example.com", Access: model.AccessHandshake, HandshakeToken: &token, ExpiresAt: now},
	}
	live := model.Link{Key: "live01", URL: "https://c.example.com", Access: model.AccessPublic, ExpiresAt: now.Add(time.Hour)}

	for _, link := range append(expired, live) {
		links.put(link)
		entry := model.NewCachedLink(&link)
		require.NoError(t, cache.Set(ctx, entry, time.Hour))
	}
	require.NoError(t, cache.SetHandshake(ctx, token, model.NewCachedLink(&expired[1]), time.Hour))

	sweeper := NewExpirySweeper(nil, links, cache, time.Minute)
	sweeper.now = func() time.Time { return now }

	removed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	for _, link := range expired {
		_, ok := links.get(link.Key)
		assert.False(t, ok, link.Key)
		_, cached := cache.entry(link.Key)
		assert.False(t, cached, link.Key)
	}
	_, err = cache.TakeHandshake(ctx, "old002", token)
	assert.Error(t, err, "handshake entry is dropped with its link")

	_, ok := links.get("live01")
	assert.True(t, ok)
	_, cached := cache.entry("live01")
	assert.True(t, cached)
}

func TestExpirySweeper_Batches(t *testing.T) {
	links := newMemoryLinks()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	total := sweepBatch + 25
	for i := 0; i < total; i++ {
		links.put(model.Link{
			Key:       fmt.Sprintf("k%05d", i),
			URL:       "https://example.com",
			Access:    model.AccessPublic,
			ExpiresAt: now.Add(-time.Minute),
		})
	}

	sweeper := NewExpirySweeper(nil, links, nil, time.Minute)
	sweeper.now = func() time.Time { return now }

	removed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, total, removed)

	keys, err := links.ActiveKeys(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestExpirySweeper_StartStop(t *testing.T) {
	sweeper := NewExpirySweeper(nil, newMemoryLinks(), newMemoryCache(), 5*time.Millisecond)
	sweeper.Start()
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
