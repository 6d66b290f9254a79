package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"xox/internal/engine"
	"xox/internal/storage"
)

type fakeStats struct {
	st      engine.Stats
	err     error
	expired int
	maxIdle *time.Duration
}

func (f fakeStats) Stats(ctx context.Context) (engine.Stats, error) {
	return f.st, f.err
}

func (f fakeStats) ExpireIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	if f.maxIdle != nil {
		*f.maxIdle = maxIdle
	}
	return f.expired, f.err
}

func newRunner(t *testing.T, subs SubscriptionStore, eng SessionSource) (*Runner, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	r, err := New(subs, eng, zap.New(core), time.Second, time.Hour)
	require.NoError(t, err)
	return r, logs
}

func TestExpireSubscriptions(t *testing.T) {
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000)
	for _, addr := range []string{"0xold", "0xnew"} {
		_, err := store.EnsureUser(ctx, addr)
		require.NoError(t, err)
	}
	_, err = store.Subscribe(ctx, "0xold", now.Add(-time.Hour), 10)
	require.NoError(t, err)
	_, err = store.Subscribe(ctx, "0xnew", now.Add(time.Hour), 10)
	require.NoError(t, err)

	r, logs := newRunner(t, store, fakeStats{})
	r.now = func() time.Time { return now }
	r.ExpireSubscriptions()

	old, err := store.GetUser(ctx, "0xold")
	require.NoError(t, err)
	assert.False(t, old.IsSubscribed)
	assert.True(t, old.HasNFT)
	fresh, err := store.GetUser(ctx, "0xnew")
	require.NoError(t, err)
	assert.True(t, fresh.IsSubscribed)

	entries := logs.FilterMessage("expired subscriptions").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["count"])
}

type failingSubs struct{}

func (failingSubs) ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestExpireSubscriptionsError(t *testing.T) {
	r, logs := newRunner(t, failingSubs{}, fakeStats{})
	r.ExpireSubscriptions()
	assert.Equal(t, 1, logs.FilterMessage("expire subscriptions").Len())
}

func TestLogStats(t *testing.T) {
	r, logs := newRunner(t, failingSubs{}, fakeStats{st: engine.Stats{
		Queued:   map[int]int{3: 2, 4: 0},
		Sessions: 5,
	}})
	r.LogStats()

	entries := logs.FilterMessage("engine stats").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(5), fields["sessions"])
	assert.Equal(t, int64(2), fields["queued_3x3"])
	assert.Equal(t, int64(0), fields["queued_4x4"])
}

func TestLogStatsEngineStopped(t *testing.T) {
	r, logs := newRunner(t, failingSubs{}, fakeStats{err: engine.ErrStopped})
	r.LogStats()
	entries := logs.FilterMessage("engine stats").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
}

func TestExpireIdleSessions(t *testing.T) {
	var got time.Duration
	r, logs := newRunner(t, failingSubs{}, fakeStats{expired: 2, maxIdle: &got})
	r.ExpireIdleSessions()

	assert.Equal(t, time.Hour, got)
	entries := logs.FilterMessage("expired idle sessions").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["count"])
}

func TestExpireIdleSessionsNothingIdle(t *testing.T) {
	r, logs := newRunner(t, failingSubs{}, fakeStats{})
	r.ExpireIdleSessions()
	assert.Equal(t, 0, logs.FilterMessage("expired idle sessions").Len())
}

func TestExpireIdleSessionsEngineStopped(t *testing.T) {
	r, logs := newRunner(t, failingSubs{}, fakeStats{err: engine.ErrStopped})
	r.ExpireIdleSessions()
	entries := logs.FilterMessage("expire idle sessions").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
}

func TestStartStop(t *testing.T) {
	r, _ := newRunner(t, failingSubs{}, fakeStats{})
	assert.Len(t, r.cron.Entries(), 3)
	r.Start()
	r.Stop()
}
