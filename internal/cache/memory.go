package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and redis-less
// deployments. Semantics mirror the redis implementation.
type MemoryStore struct {
	mu    sync.RWMutex
	kv    map[string]memoryValue
	ranks map[string]map[string]float64 // key -> member -> score
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:    make(map[string]memoryValue),
		ranks: make(map[string]map[string]float64),
	}
}

func (s *MemoryStore) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	s.mu.RLock()
	v, ok := s.kv[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !v.expiresAt.IsZero() && time.Now().After(v.expiresAt) {
		s.mu.Lock()
		delete(s.kv, key)
		s.mu.Unlock()
		return false, nil
	}
	return true, json.Unmarshal(v.data, dest)
}

func (s *MemoryStore) SetJSON(_ context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// Redis rejects negative expirations; treat them as already expired
	// so both stores agree. Zero means no expiry.
	var exp time.Time
	if ttl != 0 {
		exp = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.kv[key] = memoryValue{data: data, expiresAt: exp}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.kv, k)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) RankAdd(_ context.Context, key string, member Entry, score float64) error {
	m, err := EncodeEntry(member)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.ranks[key]
	if !ok {
		set = make(map[string]float64)
		s.ranks[key] = set
	}
	for raw := range set {
		e, derr := DecodeEntry(raw)
		if derr == nil && e.TID == member.TID && raw != m {
			delete(set, raw)
		}
	}
	set[m] = score
	return nil
}

// RankRemove drops every member encoding carrying the tid, so removal
// works even when the caller's name or affiliation is stale.
func (s *MemoryStore) RankRemove(_ context.Context, key string, member Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for raw := range s.ranks[key] {
		e, err := DecodeEntry(raw)
		if err == nil && e.TID == member.TID {
			delete(s.ranks[key], raw)
		}
	}
	return nil
}

func (s *MemoryStore) sorted(key string, desc bool) []Ranked {
	set := s.ranks[key]
	out := make([]Ranked, 0, len(set))
	for raw, score := range set {
		e, err := DecodeEntry(raw)
		if err != nil {
			continue
		}
		out = append(out, Ranked{Entry: e, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			if desc {
				return out[i].Score > out[j].Score
			}
			return out[i].Score < out[j].Score
		}
		// Stable order for equal scores, matching redis member ordering.
		return out[i].Entry.TID < out[j].Entry.TID
	})
	return out
}

func (s *MemoryStore) RankRange(_ context.Context, key string, start, stop int64, desc bool) ([]Ranked, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.sorted(key, desc)
	n := int64(len(all))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start >= n || start > stop {
		return []Ranked{}, nil
	}
	return all[start : stop+1], nil
}

func (s *MemoryStore) RankPosition(_ context.Context, key string, member Entry, desc bool) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, r := range s.sorted(key, desc) {
		if r.Entry.TID == member.TID {
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

func (s *MemoryStore) RankScore(_ context.Context, key string, member Entry) (float64, bool, error) {
	m, err := EncodeEntry(member)
	if err != nil {
		return 0, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.ranks[key][m]
	return score, ok, nil
}

func (s *MemoryStore) RankCard(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.ranks[key])), nil
}

func (s *MemoryStore) RankSearch(_ context.Context, key, namePrefix string) ([]Ranked, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := strings.ToLower(namePrefix)
	var out []Ranked
	for _, r := range s.sorted(key, true) {
		if strings.HasPrefix(strings.ToLower(r.Entry.Name), prefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) RankClear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.ranks, key)
	s.mu.Unlock()
	return nil
}
