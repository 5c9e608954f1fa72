package signals

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/frauddesk/sentinel/internal/idgen"
)

// Retention horizons. Each per-user key expires independently; writing one
// signal never refreshes another.
const (
	activityRetention = 24 * time.Hour      // entries older than this are pruned on write
	activityIdleTTL   = 48 * time.Hour      // whole key expires after this much silence
	amountTTL         = 30 * 24 * time.Hour // spend history idle horizon
	noveltyTTL        = 90 * 24 * time.Hour // device/IP set idle horizon
	locationTTL       = 30 * 24 * time.Hour // last-location idle horizon
)

// LastLocation is the single most recent reported position for a user.
type LastLocation struct {
	Lat      float64
	Lon      float64
	EpochSec int64
}

// Store exposes the per-user signal operations the decision engine and the
// feature builder consume. All operations are keyed by user id and safe to
// call concurrently across users; same-user ordering is the delivery
// guarantee's job, not the store's.
type Store struct {
	backend Backend
}

// NewStore wraps a backend with the per-user key scheme.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

func activityKey(userID string) string { return fmt.Sprintf("user:%s:tx_times", userID) }
func amountKey(userID string) string   { return fmt.Sprintf("user:%s:amounts", userID) }
func deviceKey(userID string) string   { return fmt.Sprintf("user:%s:devices", userID) }
func ipKey(userID string) string       { return fmt.Sprintf("user:%s:ips", userID) }
func locationKey(userID string) string { return fmt.Sprintf("user:%s:last_loc", userID) }

// RecordActivity appends the current transaction to the user's activity
// log, prunes entries beyond the retention horizon, and refreshes the key's
// idle expiry. Members carry a random marker so same-second transactions
// remain distinct entries.
func (s *Store) RecordActivity(ctx context.Context, userID string, now time.Time) error {
	key := activityKey(userID)
	epoch := now.Unix()
	member := fmt.Sprintf("%d:%s", epoch, idgen.Hex(4))
	if err := s.backend.ZAdd(ctx, key, member, float64(epoch)); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	cutoff := epoch - int64(activityRetention/time.Second)
	if err := s.backend.ZRemRangeByScore(ctx, key, 0, float64(cutoff)); err != nil {
		return fmt.Errorf("prune activity: %w", err)
	}
	return s.backend.Expire(ctx, key, activityIdleTTL)
}

// CountRecent returns how many activity entries fall in [now-window, now].
// A user with no history counts as zero.
func (s *Store) CountRecent(ctx context.Context, userID string, now time.Time, window time.Duration) (int64, error) {
	epoch := now.Unix()
	min := float64(epoch - int64(window/time.Second))
	return s.backend.ZCount(ctx, activityKey(userID), min, float64(epoch))
}

// RecordAmount appends an amount to the user's bounded spend history,
// evicting the oldest entry once historyCap is exceeded.
func (s *Store) RecordAmount(ctx context.Context, userID string, amount float64, historyCap int) error {
	key := amountKey(userID)
	if err := s.backend.RPush(ctx, key, strconv.FormatFloat(amount, 'f', -1, 64)); err != nil {
		return fmt.Errorf("record amount: %w", err)
	}
	if err := s.backend.LTrimLast(ctx, key, int64(historyCap)); err != nil {
		return fmt.Errorf("trim amount history: %w", err)
	}
	return s.backend.Expire(ctx, key, amountTTL)
}

// MedianAmount estimates the median of the current spend history. Zero
// means "no data": callers must skip spend-deviation logic rather than
// treat it as a legitimate median.
func (s *Store) MedianAmount(ctx context.Context, userID string) (float64, error) {
	raw, err := s.backend.LRange(ctx, amountKey(userID))
	if err != nil {
		return 0, fmt.Errorf("read amount history: %w", err)
	}
	amounts := make([]float64, 0, len(raw))
	for _, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		amounts = append(amounts, f)
	}
	if len(amounts) == 0 {
		return 0, nil
	}
	sort.Float64s(amounts)
	mid := len(amounts) / 2
	if len(amounts)%2 == 1 {
		return amounts[mid], nil
	}
	return (amounts[mid-1] + amounts[mid]) / 2, nil
}

// RecordDevice inserts a device id into the user's seen set and reports
// whether it was newly added. The member's score keeps the first-seen epoch
// so recency checks stay answerable. Blank values are a no-op.
func (s *Store) RecordDevice(ctx context.Context, userID, deviceID string, now time.Time) (bool, error) {
	return s.recordNovelty(ctx, deviceKey(userID), deviceID, now)
}

// RecordIP is RecordDevice for IP addresses.
func (s *Store) RecordIP(ctx context.Context, userID, ip string, now time.Time) (bool, error) {
	return s.recordNovelty(ctx, ipKey(userID), ip, now)
}

func (s *Store) recordNovelty(ctx context.Context, key, value string, now time.Time) (bool, error) {
	if value == "" {
		return false, nil
	}
	added, err := s.backend.ZAddNX(ctx, key, value, float64(now.Unix()))
	if err != nil {
		return false, fmt.Errorf("record novelty: %w", err)
	}
	if err := s.backend.Expire(ctx, key, noveltyTTL); err != nil {
		return added, fmt.Errorf("refresh novelty expiry: %w", err)
	}
	return added, nil
}

// DeviceSeenWithinDays reports whether the device was first observed for
// this user within the last N days. Unknown values report false.
func (s *Store) DeviceSeenWithinDays(ctx context.Context, userID, deviceID string, now time.Time, days int) (bool, error) {
	return s.seenWithinDays(ctx, deviceKey(userID), deviceID, now, days)
}

// IPSeenWithinDays is DeviceSeenWithinDays for IP addresses.
func (s *Store) IPSeenWithinDays(ctx context.Context, userID, ip string, now time.Time, days int) (bool, error) {
	return s.seenWithinDays(ctx, ipKey(userID), ip, now, days)
}

func (s *Store) seenWithinDays(ctx context.Context, key, value string, now time.Time, days int) (bool, error) {
	if value == "" {
		return false, nil
	}
	firstSeen, ok, err := s.backend.ZScore(ctx, key, value)
	if err != nil {
		return false, fmt.Errorf("novelty lookup: %w", err)
	}
	if !ok {
		return false, nil
	}
	return now.Unix()-int64(firstSeen) <= int64(days)*86400, nil
}

// LastLocation returns the user's last known position, or nil when none is
// stored (a common, valid state).
func (s *Store) LastLocation(ctx context.Context, userID string) (*LastLocation, error) {
	fields, err := s.backend.HGetAll(ctx, locationKey(userID))
	if err != nil {
		return nil, fmt.Errorf("read last location: %w", err)
	}
	latRaw, okLat := fields["lat"]
	lonRaw, okLon := fields["lon"]
	tsRaw, okTs := fields["ts"]
	if !okLat || !okLon || !okTs {
		return nil, nil
	}
	lat, err1 := strconv.ParseFloat(latRaw, 64)
	lon, err2 := strconv.ParseFloat(lonRaw, 64)
	ts, err3 := strconv.ParseInt(tsRaw, 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, nil
	}
	return &LastLocation{Lat: lat, Lon: lon, EpochSec: ts}, nil
}

// SetLastLocation overwrites the user's last known position unconditionally.
func (s *Store) SetLastLocation(ctx context.Context, userID string, lat, lon float64, now time.Time) error {
	key := locationKey(userID)
	err := s.backend.HSet(ctx, key, map[string]string{
		"lat": strconv.FormatFloat(lat, 'f', -1, 64),
		"lon": strconv.FormatFloat(lon, 'f', -1, 64),
		"ts":  strconv.FormatInt(now.Unix(), 10),
	})
	if err != nil {
		return fmt.Errorf("set last location: %w", err)
	}
	return s.backend.Expire(ctx, key, locationTTL)
}

const earthRadiusKm = 6371.0

// HaversineKm computes the great-circle distance between two points in
// kilometers on a spherical earth.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
