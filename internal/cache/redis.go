package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a redis connection. Scoreboard sets are
// redis sorted sets keyed by scoreboard id or group id.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dest)
}

func (s *RedisStore) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, data, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisStore) RankAdd(ctx context.Context, key string, member Entry, score float64) error {
	m, err := EncodeEntry(member)
	if err != nil {
		return err
	}
	// A team's previous member string must not linger when its name or
	// affiliation changed; scan for the tid and drop stale encodings.
	existing, err := s.rdb.ZRange(ctx, key, 0, -1).Result()
	if err == nil {
		for _, raw := range existing {
			e, derr := DecodeEntry(raw)
			if derr == nil && e.TID == member.TID && raw != m {
				s.rdb.ZRem(ctx, key, raw)
			}
		}
	}
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: m}).Err()
}

// RankRemove drops the member by tid, tolerating a stale name or
// affiliation in the caller's entry.
func (s *RedisStore) RankRemove(ctx context.Context, key string, member Entry) error {
	m, err := EncodeEntry(member)
	if err != nil {
		return err
	}
	if err := s.rdb.ZRem(ctx, key, m).Err(); err != nil {
		return err
	}
	raws, err := s.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, raw := range raws {
		e, derr := DecodeEntry(raw)
		if derr == nil && e.TID == member.TID {
			if err := s.rdb.ZRem(ctx, key, raw).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *RedisStore) RankRange(ctx context.Context, key string, start, stop int64, desc bool) ([]Ranked, error) {
	var zs []redis.Z
	var err error
	if desc {
		zs, err = s.rdb.ZRevRangeWithScores(ctx, key, start, stop).Result()
	} else {
		zs, err = s.rdb.ZRangeWithScores(ctx, key, start, stop).Result()
	}
	if err != nil {
		return nil, err
	}
	return decodeZs(zs)
}

// RankPosition finds a member by tid; lookups tolerate a stale name or
// affiliation in the caller's entry.
func (s *RedisStore) RankPosition(ctx context.Context, key string, member Entry, desc bool) (int64, bool, error) {
	m, err := EncodeEntry(member)
	if err != nil {
		return 0, false, err
	}
	var rank int64
	if desc {
		rank, err = s.rdb.ZRevRank(ctx, key, m).Result()
	} else {
		rank, err = s.rdb.ZRank(ctx, key, m).Result()
	}
	if err == nil {
		return rank, true, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, false, err
	}

	// Exact member miss; fall back to matching by tid.
	raws, err := s.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, false, err
	}
	for _, raw := range raws {
		e, derr := DecodeEntry(raw)
		if derr != nil || e.TID != member.TID {
			continue
		}
		if desc {
			rank, err = s.rdb.ZRevRank(ctx, key, raw).Result()
		} else {
			rank, err = s.rdb.ZRank(ctx, key, raw).Result()
		}
		if err != nil {
			return 0, false, err
		}
		return rank, true, nil
	}
	return 0, false, nil
}

func (s *RedisStore) RankScore(ctx context.Context, key string, member Entry) (float64, bool, error) {
	m, err := EncodeEntry(member)
	if err != nil {
		return 0, false, err
	}
	score, err := s.rdb.ZScore(ctx, key, m).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

func (s *RedisStore) RankCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, key).Result()
}

// RankSearch returns entries whose team name starts with namePrefix,
// best-ranked first. Member strings carry the tid first, so this is a
// decode-and-filter pass rather than a lexicographic range.
func (s *RedisStore) RankSearch(ctx context.Context, key, namePrefix string) ([]Ranked, error) {
	zs, err := s.rdb.ZRevRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	all, err := decodeZs(zs)
	if err != nil {
		return nil, err
	}
	prefix := strings.ToLower(namePrefix)
	var out []Ranked
	for _, r := range all {
		if strings.HasPrefix(strings.ToLower(r.Entry.Name), prefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RedisStore) RankClear(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func decodeZs(zs []redis.Z) ([]Ranked, error) {
	out := make([]Ranked, 0, len(zs))
	for _, z := range zs {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}
		e, err := DecodeEntry(raw)
		if err != nil {
			continue
		}
		out = append(out, Ranked{Entry: e, Score: z.Score})
	}
	return out, nil
}
