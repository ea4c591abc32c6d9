package entitlement

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsSubscribe(t *testing.T) {
	ctx := context.Background()
	settings := NewSettings(NewMemoryBackend(nil), quietLogger())

	ch, cancel := settings.Subscribe()
	defer cancel()

	require.NoError(t, settings.SetOverride(ctx, "x", PlanSet{PlanFree}))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}

	// Notifications coalesce rather than block the writer.
	require.NoError(t, settings.SetOverride(ctx, "x", PlanSet{PlanPremium}))
	require.NoError(t, settings.ClearOverride(ctx, "x"))
	<-ch

	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestSettingsReloadReplacesSnapshot(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(map[string]PlanSet{"a": {PlanFree}})
	settings := NewSettings(backend, quietLogger())
	require.NoError(t, settings.Reload(ctx))

	// A write made by another process lands in the backend only.
	require.NoError(t, backend.Save(ctx, "b", PlanSet{PlanEternal}))
	require.NoError(t, backend.Delete(ctx, "a"))
	_, ok := settings.Override("b")
	assert.False(t, ok)

	require.NoError(t, settings.Reload(ctx))
	plans, ok := settings.Override("b")
	require.True(t, ok)
	assert.Equal(t, PlanSet{PlanEternal}, plans)
	_, ok = settings.Override("a")
	assert.False(t, ok)
}

func TestSettingsRejectsUnknownPlan(t *testing.T) {
	settings := NewSettings(NewMemoryBackend(nil), quietLogger())
	assert.Error(t, settings.SetOverride(context.Background(), "x", PlanSet{"platinum"}))
	assert.Empty(t, settings.Overrides())
}

func TestSettingsWatchWithoutWatcher(t *testing.T) {
	settings := NewSettings(NewMemoryBackend(nil), quietLogger())
	assert.NoError(t, settings.Watch(context.Background()))
}

func TestRedisBackendPropagatesChanges(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Del(ctx, redisOverridesKey).Err())

	writer := NewSettings(NewRedisBackend(client), quietLogger())
	reader := NewSettings(NewRedisBackend(client), quietLogger())
	require.NoError(t, reader.Reload(ctx))

	changed, unsubscribe := reader.Subscribe()
	defer unsubscribe()
	go reader.Watch(ctx)
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, writer.SetOverride(ctx, "video_upload", PlanSet{PlanFree}))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-changed:
			if plans, ok := reader.Override("video_upload"); ok {
				assert.Equal(t, PlanSet{PlanFree}, plans)
				return
			}
		case <-deadline:
			t.Fatal("override never reached the second process")
		}
	}
}
