package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is the decoded form of a rank-set member. Members are stored as
// opaque printable strings encoding the display row.
type Entry struct {
	TID         string `json:"tid"`
	Name        string `json:"name"`
	Affiliation string `json:"affiliation"`
}

// Ranked pairs an entry with its ordering score.
type Ranked struct {
	Entry Entry
	Score float64
}

// EncodeEntry renders the member string stored in the sorted set.
func EncodeEntry(e Entry) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeEntry parses a member string back into its display row.
func DecodeEntry(s string) (Entry, error) {
	var e Entry
	err := json.Unmarshal([]byte(s), &e)
	return e, err
}

// Store is the Cache/Rank surface: a keyed JSON cache with TTLs for
// memoized reads, and sorted sets for ranked scoreboards. Both the
// redis-backed and the in-memory implementations satisfy it; every
// value is derivable from the durable store on demand.
type Store interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	RankAdd(ctx context.Context, key string, member Entry, score float64) error
	RankRemove(ctx context.Context, key string, member Entry) error
	RankRange(ctx context.Context, key string, start, stop int64, desc bool) ([]Ranked, error)
	RankPosition(ctx context.Context, key string, member Entry, desc bool) (int64, bool, error)
	RankScore(ctx context.Context, key string, member Entry) (float64, bool, error)
	RankCard(ctx context.Context, key string) (int64, error)
	RankSearch(ctx context.Context, key, namePrefix string) ([]Ranked, error)
	RankClear(ctx context.Context, key string) error
}

// Memoize returns the cached value under key, or computes, stores, and
// returns it. reset forces recomputation and overwrite.
func Memoize[T any](ctx context.Context, s Store, key string, ttl time.Duration, reset bool, compute func() (T, error)) (T, error) {
	var out T
	if !reset {
		hit, err := s.GetJSON(ctx, key, &out)
		if err == nil && hit {
			return out, nil
		}
	}

	out, err := compute()
	if err != nil {
		return out, err
	}
	// A failed cache write is not fatal; the value is still correct.
	_ = s.SetJSON(ctx, key, out, ttl)
	return out, nil
}
