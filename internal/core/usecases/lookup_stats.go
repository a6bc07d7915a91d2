package usecases

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samirrijal/wayline/internal/core/domain"
)

// LookupCount aggregates the events of one kind and outcome.
type LookupCount struct {
	Kind          string    `json:"kind"`
	Outcome       string    `json:"outcome"`
	Count         int64     `json:"count"`
	AvgDurationMS float64   `json:"avg_duration_ms"`
	LastAt        time.Time `json:"last_at"`
}

type lookupKey struct{ kind, outcome string }

type lookupAgg struct {
	count   int64
	totalMS int64
	lastAt  time.Time
}

// LookupStats keeps running totals of lookup events consumed from the broker.
type LookupStats struct {
	mu   sync.Mutex
	aggs map[lookupKey]*lookupAgg
}

func NewLookupStats() *LookupStats {
	return &LookupStats{aggs: make(map[lookupKey]*lookupAgg)}
}

var knownKinds = map[string]bool{
	domain.LookupRoute:          true,
	domain.LookupGeocode:        true,
	domain.LookupReverseGeocode: true,
	domain.LookupRoads:          true,
	domain.LookupNearestAddress: true,
	domain.LookupAddress:        true,
}

// Record adds one event. Events of an unknown kind are rejected.
func (s *LookupStats) Record(_ context.Context, event domain.LookupEvent) error {
	if !knownKinds[event.Kind] {
		return fmt.Errorf("%w: lookup kind %q", domain.ErrInvalidFormat, event.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := lookupKey{event.Kind, event.Outcome}
	agg, ok := s.aggs[key]
	if !ok {
		agg = &lookupAgg{}
		s.aggs[key] = agg
	}
	agg.count++
	agg.totalMS += event.DurationMS
	if event.At.After(agg.lastAt) {
		agg.lastAt = event.At
	}
	return nil
}

// Snapshot returns the current totals ordered by kind, then outcome.
func (s *LookupStats) Snapshot() []LookupCount {
	s.mu.Lock()
	out := make([]LookupCount, 0, len(s.aggs))
	for key, agg := range s.aggs {
		out = append(out, LookupCount{
			Kind:          key.kind,
			Outcome:       key.outcome,
			Count:         agg.count,
			AvgDurationMS: float64(agg.totalMS) / float64(agg.count),
			LastAt:        agg.lastAt,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Outcome < out[j].Outcome
	})
	return out
}
