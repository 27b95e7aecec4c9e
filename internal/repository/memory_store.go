package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"FinPulse/internal/domain/models"
	domrepo "FinPulse/internal/domain/repository"
)

// Approximate per-row footprint used for the size cap.
const (
	memCandleRowBytes  = 160
	memAnomalyRowBytes = 320
)

type anomalyKey struct {
	symbol   string
	ts       int64
	interval string
}

// MemoryStore is an in-process Store with the same semantics as PostgresStore.
type MemoryStore struct {
	writeMu sync.Mutex   // serializes mutations, including triggered sweeps
	dataMu  sync.RWMutex // guards the maps below
	candles map[string]map[int64]models.Candle
	anoms   map[anomalyKey]models.AnomalyResult
	closed  bool

	opts    storeOptions
	trigger *retentionTrigger
}

var _ domrepo.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store and marks the first sweep as done.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	o := newStoreOptions(opts)
	s := &MemoryStore{
		candles: make(map[string]map[int64]models.Candle),
		anoms:   make(map[anomalyKey]models.AnomalyResult),
		opts:    o,
		trigger: newRetentionTrigger(o),
	}
	s.trigger.mark()
	return s
}

func (s *MemoryStore) UpsertCandle(ctx context.Context, c models.Candle) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("upsert candle: %w", err)
	}
	if c.IngestedAt.IsZero() {
		c.IngestedAt = s.opts.now()
	}
	c.Closed = false

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.dataMu.Lock()
	if s.closed {
		s.dataMu.Unlock()
		return ErrStoreClosed
	}
	bySym, ok := s.candles[c.Symbol]
	if !ok {
		bySym = make(map[int64]models.Candle)
		s.candles[c.Symbol] = bySym
	}
	bySym[c.OpenTime] = c
	s.dataMu.Unlock()

	s.trigger.maybeSweep(ctx, s)
	return nil
}

func (s *MemoryStore) RecentCandles(_ context.Context, symbol string, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	bySym := s.candles[symbol]
	out := make([]models.Candle, 0, len(bySym))
	for _, c := range bySym {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) CandleCount(_ context.Context, symbol string) (int, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.candles[symbol]), nil
}

func (s *MemoryStore) Symbols(_ context.Context) ([]string, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]string, 0, len(s.candles))
	for sym, rows := range s.candles {
		if len(rows) > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) UpsertAnomalyResult(ctx context.Context, r models.AnomalyResult) error {
	if r.Symbol == "" || r.IntervalType == "" {
		return fmt.Errorf("upsert anomaly: symbol and interval_type are required")
	}
	r.CreatedAt = s.opts.now()
	r.Reasons = append([]models.Reason(nil), r.Reasons...)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.dataMu.Lock()
	if s.closed {
		s.dataMu.Unlock()
		return ErrStoreClosed
	}
	s.anoms[anomalyKey{r.Symbol, r.Timestamp, r.IntervalType}] = r
	s.dataMu.Unlock()

	s.trigger.maybeSweep(ctx, s)
	return nil
}

func (s *MemoryStore) RecentAnomalyResults(_ context.Context, interval domrepo.Interval, sinceHours, limit int) ([]models.AnomalyResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	since := s.opts.now().Add(-time.Duration(sinceHours) * time.Hour).Unix()

	s.dataMu.RLock()
	if s.closed {
		s.dataMu.RUnlock()
		return nil, ErrStoreClosed
	}
	out := make([]models.AnomalyResult, 0)
	for k, r := range s.anoms {
		if k.interval == string(interval) && r.Timestamp >= since {
			out = append(out, r)
		}
	}
	s.dataMu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AnomalyScore != out[j].AnomalyScore {
			return out[i].AnomalyScore > out[j].AnomalyScore
		}
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].Symbol < out[j].Symbol
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RetentionSweep(ctx context.Context, p models.RetentionPolicy) (models.SweepReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.sweepLocked(ctx, p)
}

func (s *MemoryStore) sweepLocked(_ context.Context, p models.RetentionPolicy) (models.SweepReport, error) {
	var rep models.SweepReport
	now := s.opts.now()

	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if s.closed {
		return rep, ErrStoreClosed
	}

	if cutoff, ok := ageCutoff(now, p); ok {
		for sym, rows := range s.candles {
			for ot, c := range rows {
				if !c.IngestedAt.After(cutoff) {
					delete(rows, ot)
					rep.Candles++
				}
			}
			if len(rows) == 0 {
				delete(s.candles, sym)
			}
		}
	}

	if p.MaxRowsPerSymbol > 0 {
		for _, rows := range s.candles {
			excess := len(rows) - p.MaxRowsPerSymbol
			if excess <= 0 {
				continue
			}
			keys := make([]int64, 0, len(rows))
			for ot := range rows {
				keys = append(keys, ot)
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
			for _, ot := range keys[:excess] {
				delete(rows, ot)
				rep.CandlesExcess++
			}
		}
	}

	if cutoff, ok := ageCutoff(now, p); ok {
		for k, r := range s.anoms {
			if !r.CreatedAt.After(cutoff) {
				delete(s.anoms, k)
				rep.Anomalies++
			}
		}
	}

	if s.trigger.shouldVacuum(rep) {
		s.compactLocked()
		rep.Vacuumed = true
	}
	return rep, nil
}

// compactLocked rebuilds the maps so deleted buckets are released.
func (s *MemoryStore) compactLocked() {
	candles := make(map[string]map[int64]models.Candle, len(s.candles))
	for sym, rows := range s.candles {
		cp := make(map[int64]models.Candle, len(rows))
		for k, v := range rows {
			cp[k] = v
		}
		candles[sym] = cp
	}
	anoms := make(map[anomalyKey]models.AnomalyResult, len(s.anoms))
	for k, v := range s.anoms {
		anoms[k] = v
	}
	s.candles, s.anoms = candles, anoms
}

func (s *MemoryStore) Stats(_ context.Context) (models.StoreStats, error) {
	var st models.StoreStats
	dayAgo := s.opts.now().Add(-24 * time.Hour).Unix()

	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	if s.closed {
		return st, ErrStoreClosed
	}
	for _, rows := range s.candles {
		if len(rows) == 0 {
			continue
		}
		st.SymbolCount++
		for _, c := range rows {
			st.CandleCount++
			if st.OldestCandle == nil || c.IngestedAt.Before(*st.OldestCandle) {
				t := c.IngestedAt
				st.OldestCandle = &t
			}
		}
	}
	for _, r := range s.anoms {
		st.AnomalyCount++
		if r.Timestamp >= dayAgo {
			st.Anomalies24h++
		}
		if st.OldestAnomaly == nil || r.CreatedAt.Before(*st.OldestAnomaly) {
			t := r.CreatedAt
			st.OldestAnomaly = &t
		}
	}
	st.SizeBytes = st.CandleCount*memCandleRowBytes + st.AnomalyCount*memAnomalyRowBytes
	return st, nil
}

func (s *MemoryStore) Health(_ context.Context) error {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.dataMu.Lock()
	s.closed = true
	s.dataMu.Unlock()
	return nil
}

func (s *MemoryStore) sizeBytes(_ context.Context) (int64, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var n int64
	for _, rows := range s.candles {
		n += int64(len(rows)) * memCandleRowBytes
	}
	n += int64(len(s.anoms)) * memAnomalyRowBytes
	return n, nil
}

func (s *MemoryStore) overRowCap(_ context.Context, limit int) (string, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	for sym, rows := range s.candles {
		if len(rows) > limit {
			return sym, nil
		}
	}
	return "", nil
}
