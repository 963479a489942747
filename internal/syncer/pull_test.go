package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/cache"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/remote"
)

const hour = time.Hour

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", Incremental, false},
		{"incremental", Incremental, false},
		{"full", Full, false},
		{"FULL", 0, true},
		{"partial", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "Mode(7)", Mode(7).String())
}

func TestPull_FirstPullIsFull(t *testing.T) {
	backend := remote.NewMemoryBackend()
	a := startDevice(t, backend, "a")
	b := startDevice(t, backend, "b")
	startGoal(t, a, "g1", 5)

	res, err := b.svc.Pull(context.Background(), Incremental)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Mode: Full, Downloaded: 1, Added: 1}, res)

	st := b.svc.Status()
	assert.Equal(t, CacheVersion, st.CacheVersion)
	assert.Equal(t, backend.Events("u1")[0].ServerTimestamp, st.Watermark)
	assert.Equal(t, CacheVersion, b.persist.Last().CacheVersion)
}

func TestPull_Incremental(t *testing.T) {
	backend := remote.NewMemoryBackend()
	a := startDevice(t, backend, "a")
	b := startDevice(t, backend, "b", withSnapshot(&cache.Snapshot{CacheVersion: CacheVersion}))
	ctx := context.Background()

	startGoal(t, a, "g1", 5)
	res, err := b.svc.Pull(ctx, Incremental)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Mode: Incremental, Downloaded: 1, Added: 1}, res)

	logGoal(t, a, "g1")
	res, err = b.svc.Pull(ctx, Incremental)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Mode: Incremental, Downloaded: 1, Added: 1}, res, "only events after the watermark")

	res, err = b.svc.Pull(ctx, Incremental)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Mode: Incremental}, res)

	// b's own push comes back on the next pull and is deduplicated.
	logGoal(t, b, "g1")
	res, err = b.svc.Pull(ctx, Incremental)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Mode: Incremental, Downloaded: 1, Added: 0}, res)

	assert.Len(t, b.svc.Events(), 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(b.metrics.PulledEvents))
	assert.Equal(t, 4.0, testutil.ToFloat64(b.metrics.Pulls.WithLabelValues("incremental", "ok")))
}

func TestPull_PushDoesNotAdvanceWatermark(t *testing.T) {
	backend := remote.NewMemoryBackend()
	a := startDevice(t, backend, "a")
	b := startDevice(t, backend, "b", withSnapshot(&cache.Snapshot{CacheVersion: CacheVersion}))

	// a's insert lands on the server before b's, but b has not pulled it.
	startGoal(t, a, "g1", 5)
	logGoal(t, b, "g1")
	assert.Empty(t, b.svc.Status().Watermark)

	res, err := b.svc.Pull(context.Background(), Incremental)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added, "a's earlier insert is not skipped")
}

func TestPull_FullReplacesKeepingPending(t *testing.T) {
	backend := remote.NewMemoryBackend()
	a := startDevice(t, backend, "a")
	startGoal(t, a, "g1", 5)

	stray := event.Event{Kind: event.KindGoalLogged, ClientID: "s1", ClientTimestamp: "2026-01-06T09:00:00.000Z", Payload: event.P("goalId", "g1")}
	pending := event.Event{Kind: event.KindGoalLogged, ClientID: "p1", ClientTimestamp: "2026-01-06T10:00:00.000Z", Payload: event.P("goalId", "g1")}
	b := startDevice(t, backend, "b", withSnapshot(&cache.Snapshot{
		Events:            []event.Event{stray, pending},
		PendingUploadIDs:  []string{"p1"},
		LastSyncTimestamp: "2030-01-01T00:00:00Z",
		CacheVersion:      CacheVersion,
	}))

	res, err := b.svc.Pull(context.Background(), Full)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Mode: Full, Downloaded: 1, Added: 1}, res)

	events := b.svc.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "aaa", events[0].ClientID)
	assert.Equal(t, "p1", events[1].ClientID)
	assert.Equal(t, []string{"p1"}, b.svc.PendingIDs())
	assert.Equal(t, backend.Events("u1")[0].ServerTimestamp, b.svc.Status().Watermark, "watermark ignores the stale value")
}

func TestPull_VersionMismatchForcesFull(t *testing.T) {
	backend := remote.NewMemoryBackend()
	b := startDevice(t, backend, "b", withSnapshot(&cache.Snapshot{
		Events:       []event.Event{{Kind: event.KindGoalLogged, ClientID: "old", ClientTimestamp: "2026-01-06T09:00:00Z", Payload: event.P("goalId", "g1")}},
		CacheVersion: CacheVersion + 1,
	}))

	res, err := b.svc.Pull(context.Background(), Incremental)
	require.NoError(t, err)
	assert.Equal(t, Full, res.Mode)
	assert.Empty(t, b.svc.Events(), "stale cache replaced by the empty remote")
	assert.Equal(t, CacheVersion, b.svc.Status().CacheVersion)
}

func TestPull_NetworkFailureKeepsLog(t *testing.T) {
	backend := remote.NewMemoryBackend()
	seed := &cache.Snapshot{
		Events:            []event.Event{{Kind: event.KindGoalLogged, ClientID: "c1", ClientTimestamp: "2026-01-06T09:00:00Z", Payload: event.P("goalId", "g1")}},
		LastSyncTimestamp: "2026-01-06T09:00:01Z",
		CacheVersion:      CacheVersion,
	}
	b := startDevice(t, backend, "b", withSnapshot(seed))
	backend.FailSince(errOffline)

	for _, mode := range []Mode{Incremental, Full} {
		_, err := b.svc.Pull(context.Background(), mode)
		require.Error(t, err)
		assert.True(t, remote.IsNetwork(err))
		assert.Equal(t, seed.Events, b.svc.Events())
		assert.Equal(t, seed.LastSyncTimestamp, b.svc.Status().Watermark)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.Pulls.WithLabelValues("full", "error")))
	assert.Nil(t, b.persist.Last())
}

func TestPull_NotConfigured(t *testing.T) {
	d := startDevice(t, remote.NewMemoryBackend(), "a", withClient(nil))

	_, err := d.svc.Pull(context.Background(), Incremental)
	assert.True(t, remote.IsNotConfigured(err))
}

// Two devices logging out of order converge to the same state once both
// have pulled.
func TestTwoDevicesConverge(t *testing.T) {
	backend := remote.NewMemoryBackend()
	a := startDevice(t, backend, "a")
	b := startDevice(t, backend, "b")
	ctx := context.Background()

	a.clock.Set(jan7.Add(-hour))
	startGoal(t, a, "g1", 5)
	_, err := b.svc.Pull(ctx, Incremental)
	require.NoError(t, err)

	// b logs at 12:00 and reaches the server first; a logs at 11:00.
	b.clock.Set(jan7.Add(3 * hour))
	logGoal(t, b, "g1")
	a.clock.Set(jan7.Add(2 * hour))
	logGoal(t, a, "g1")

	_, err = a.svc.Pull(ctx, Incremental)
	require.NoError(t, err)
	_, err = b.svc.Pull(ctx, Incremental)
	require.NoError(t, err)

	now := jan7.Add(4 * hour)
	stA, stB := a.svc.State(now), b.svc.State(now)
	fpA, err := stA.Fingerprint()
	require.NoError(t, err)
	fpB, err := stB.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)

	g, ok := stA.Goal("g1")
	require.True(t, ok)
	require.Len(t, g.Logs, 2)
	assert.True(t, g.Logs[0].Timestamp.Before(g.Logs[1].Timestamp), "logs follow client time, not arrival")
	assert.Equal(t, 2, stA.Water.Used)
}
