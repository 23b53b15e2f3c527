package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"signaldesk/internal/analysis/indicator"
	"signaldesk/internal/market"
	"signaldesk/internal/signal"
)

// MemoryStore 是进程内实现，用于测试和未配置数据库时的降级运行。
// K 线按 symbol@interval 分片存放，信号与快照共用一把锁。
type MemoryStore struct {
	shards []candleShard

	mu        sync.RWMutex
	nextID    uint
	signals   map[uint]signal.Signal
	snapshots map[uint]indicator.Snapshot
}

type candleShard struct {
	mu   sync.RWMutex
	data map[string][]market.Candle
}

const defaultShardCount = 32

func NewMemoryStore() *MemoryStore {
	return newMemoryStore(defaultShardCount)
}

func newMemoryStore(shards int) *MemoryStore {
	if shards <= 0 {
		shards = 1
	}
	out := &MemoryStore{
		shards:    make([]candleShard, shards),
		signals:   make(map[uint]signal.Signal),
		snapshots: make(map[uint]indicator.Snapshot),
	}
	for i := range out.shards {
		out.shards[i] = candleShard{data: make(map[string][]market.Candle)}
	}
	return out
}

func (s *MemoryStore) shardFor(key string) *candleShard {
	idx := hashKey(key) % uint32(len(s.shards))
	return &s.shards[idx]
}

func seriesKey(symbol, interval string) string {
	return strings.ToUpper(symbol) + "@" + interval
}

func (s *MemoryStore) UpsertCandles(ctx context.Context, candles []market.Candle) error {
	for _, c := range candles {
		if c.Symbol == "" || c.Interval == "" {
			return errors.New("candle symbol/interval cannot be empty")
		}
		k := seriesKey(c.Symbol, c.Interval)
		sh := s.shardFor(k)
		sh.mu.Lock()
		cur := sh.data[k]
		idx := sort.Search(len(cur), func(i int) bool { return cur[i].OpenTime >= c.OpenTime })
		switch {
		case idx < len(cur) && cur[idx].OpenTime == c.OpenTime:
			cur[idx] = c
		default:
			cur = append(cur, market.Candle{})
			copy(cur[idx+1:], cur[idx:])
			cur[idx] = c
		}
		sh.data[k] = cur
		sh.mu.Unlock()
	}
	return nil
}

func (s *MemoryStore) ListCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	k := seriesKey(symbol, interval)
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[k]
	if limit <= 0 || limit > len(cur) {
		limit = len(cur)
	}
	out := make([]market.Candle, limit)
	copy(out, cur[len(cur)-limit:])
	return out, nil
}

func (s *MemoryStore) InsertSignal(ctx context.Context, sig signal.Signal) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sig.ID = s.nextID
	s.signals[sig.ID] = sig
	return sig.ID, nil
}

func (s *MemoryStore) InsertIndicatorSnapshot(ctx context.Context, signalID uint, snap indicator.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[signalID]; !ok {
		return ErrNotFound
	}
	if _, dup := s.snapshots[signalID]; dup {
		return errors.New("indicator snapshot already exists for signal")
	}
	s.snapshots[signalID] = snap
	return nil
}

func (s *MemoryStore) DeleteSignal(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, id)
	delete(s.signals, id)
	return nil
}

func (s *MemoryStore) GetSignal(ctx context.Context, id uint) (signal.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	if !ok {
		return signal.Signal{}, ErrNotFound
	}
	return sig, nil
}

func (s *MemoryStore) ListSignals(ctx context.Context, symbol string, limit int) ([]signal.Signal, error) {
	s.mu.RLock()
	out := make([]signal.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		if symbol != "" && !strings.EqualFold(sig.Symbol, symbol) {
			continue
		}
		out = append(out, sig)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetIndicatorSnapshot(ctx context.Context, signalID uint) (indicator.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[signalID]
	if !ok {
		return indicator.Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *MemoryStore) Close() error { return nil }

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

var _ Store = (*MemoryStore)(nil)
