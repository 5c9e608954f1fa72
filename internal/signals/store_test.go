package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore() (*Store, *MemoryBackend) {
	backend := NewMemoryBackend()
	return NewStore(backend), backend
}

func TestCountRecentFreshUserIsZero(t *testing.T) {
	s, _ := newTestStore()
	n, err := s.CountRecent(context.Background(), "nobody", base, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordActivityCountsSameSecondEntries(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	// Four records inside ten seconds, two in the same second.
	require.NoError(t, s.RecordActivity(ctx, "u1", base))
	require.NoError(t, s.RecordActivity(ctx, "u1", base))
	require.NoError(t, s.RecordActivity(ctx, "u1", base.Add(4*time.Second)))
	require.NoError(t, s.RecordActivity(ctx, "u1", base.Add(9*time.Second)))

	n, err := s.CountRecent(ctx, "u1", base.Add(9*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestCountRecentWindowExcludesOldEntries(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.RecordActivity(ctx, "u1", base))
	require.NoError(t, s.RecordActivity(ctx, "u1", base.Add(90*time.Second)))

	n, err := s.CountRecent(ctx, "u1", base.Add(90*time.Second), 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecordActivityPrunesBeyondRetention(t *testing.T) {
	s, backend := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.RecordActivity(ctx, "u1", base))
	require.NoError(t, s.RecordActivity(ctx, "u1", base.Add(25*time.Hour)))

	assert.Len(t, backend.Members("user:u1:tx_times"), 1)
}

func TestMedianAmount(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	// No data reads as zero.
	m, err := s.MedianAmount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, m)

	require.NoError(t, s.RecordAmount(ctx, "u1", 50, 10))
	m, err = s.MedianAmount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, m)

	// Odd count: middle element.
	require.NoError(t, s.RecordAmount(ctx, "u1", 10, 10))
	require.NoError(t, s.RecordAmount(ctx, "u1", 90, 10))
	m, err = s.MedianAmount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, m)

	// Even count: average of the two middles.
	require.NoError(t, s.RecordAmount(ctx, "u1", 70, 10))
	m, err = s.MedianAmount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 60.0, m)
}

func TestRecordAmountEvictsOldest(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	// Cap of 3: a huge early amount falls out of the history.
	require.NoError(t, s.RecordAmount(ctx, "u1", 10000, 3))
	require.NoError(t, s.RecordAmount(ctx, "u1", 10, 3))
	require.NoError(t, s.RecordAmount(ctx, "u1", 20, 3))
	require.NoError(t, s.RecordAmount(ctx, "u1", 30, 3))

	m, err := s.MedianAmount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, m)
}

func TestRecordDeviceFirstSeenOnce(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	added, err := s.RecordDevice(ctx, "u1", "dev-a", base)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.RecordDevice(ctx, "u1", "dev-a", base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, added)

	// Different user, same device id: independent sets.
	added, err = s.RecordDevice(ctx, "u2", "dev-a", base)
	require.NoError(t, err)
	assert.True(t, added)
}

func TestRecordDeviceBlankIsNoop(t *testing.T) {
	s, backend := newTestStore()

	added, err := s.RecordDevice(context.Background(), "u1", "", base)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, backend.Members("user:u1:devices"))
}

func TestDeviceSeenWithinDays(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	_, err := s.RecordDevice(ctx, "u1", "dev-a", base)
	require.NoError(t, err)

	recent, err := s.DeviceSeenWithinDays(ctx, "u1", "dev-a", base.Add(3*24*time.Hour), 7)
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = s.DeviceSeenWithinDays(ctx, "u1", "dev-a", base.Add(8*24*time.Hour), 7)
	require.NoError(t, err)
	assert.False(t, recent)

	// Unknown device reports false.
	recent, err = s.DeviceSeenWithinDays(ctx, "u1", "dev-x", base, 7)
	require.NoError(t, err)
	assert.False(t, recent)
}

func TestLastLocationRoundTrip(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	loc, err := s.LastLocation(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, loc)

	require.NoError(t, s.SetLastLocation(ctx, "u1", 51.5074, -0.1278, base))

	loc, err = s.LastLocation(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 51.5074, loc.Lat)
	assert.Equal(t, -0.1278, loc.Lon)
	assert.Equal(t, base.Unix(), loc.EpochSec)

	// Overwrite wins.
	require.NoError(t, s.SetLastLocation(ctx, "u1", 40.7128, -74.006, base.Add(time.Hour)))
	loc, err = s.LastLocation(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 40.7128, loc.Lat)
}

func TestHaversineKm(t *testing.T) {
	// Distance to self is zero.
	assert.Zero(t, HaversineKm(51.5074, -0.1278, 51.5074, -0.1278))

	// London to Paris is roughly 344 km.
	d := HaversineKm(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, 344, d, 5)

	// Symmetric.
	assert.InDelta(t, d, HaversineKm(48.8566, 2.3522, 51.5074, -0.1278), 1e-9)
}

func TestMemoryBackendLazyExpiry(t *testing.T) {
	backend := NewMemoryBackend()
	now := base
	backend.WithClock(func() time.Time { return now })
	s := NewStore(backend)
	ctx := context.Background()

	require.NoError(t, s.RecordAmount(ctx, "u1", 42, 10))

	// Past the idle TTL the history reads as empty.
	now = base.Add(31 * 24 * time.Hour)
	m, err := s.MedianAmount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, m)
}
