// Package signals maintains the per-user behavioral state behind fraud
// scoring: sliding-window activity logs, bounded spend history, device/IP
// novelty sets, and last known location.
//
// State lives in an external key-partitioned backend so that independent
// worker processes observe the same signals. Each primitive is atomic at
// the storage layer; cross-primitive sequences are not transactional (see
// the engine package for the accepted at-least-once semantics).
package signals

import (
	"context"
	"time"
)

// Backend is the minimal set of atomic primitives the store is built on:
// sorted sets scored by epoch seconds, bounded lists, hashes, and key TTLs.
// Implementations must tolerate missing keys: absence is an empty result,
// never an error.
type Backend interface {
	// ZAdd inserts or updates a sorted-set member.
	ZAdd(ctx context.Context, key, member string, score float64) error
	// ZAddNX inserts a member only if absent and reports whether it was
	// newly added. This is the race-safe "insert, report whether new"
	// primitive novelty detection relies on.
	ZAddNX(ctx context.Context, key, member string, score float64) (bool, error)
	// ZScore returns a member's score; the bool is false when the member
	// (or the key) does not exist.
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	// ZCount counts members with score in [min, max].
	ZCount(ctx context.Context, key string, min, max float64) (int64, error)
	// ZRemRangeByScore removes members with score in [min, max].
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	// RPush appends to a list.
	RPush(ctx context.Context, key, value string) error
	// LTrimLast trims a list to its last n elements.
	LTrimLast(ctx context.Context, key string, n int64) error
	// LRange returns the full list, oldest first.
	LRange(ctx context.Context, key string) ([]string, error)

	// HSet writes hash fields.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HGetAll returns all hash fields; empty map for a missing key.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Expire sets or refreshes a key's idle TTL.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
