package hypothesis

import (
	"sync"
	"time"

	"github.com/openlotse/lotse/pkg/models"
)

// Stats aggregates generation outcomes across the service lifetime.
type Stats struct {
	mu            sync.Mutex
	total         int
	perConfidence map[models.Confidence]int
	withGaps      int
	withoutGaps   int
	criticalGaps  int
	fallbacks     int
	avgMs         float64
}

func newStats() *Stats {
	return &Stats{perConfidence: make(map[models.Confidence]int)}
}

func (s *Stats) record(h *Hypothesis, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.perConfidence[h.Confidence]++
	if len(h.Gaps) > 0 {
		s.withGaps++
	} else {
		s.withoutGaps++
	}
	if h.HasCriticalGaps() {
		s.criticalGaps++
	}
	if h.Fallback {
		s.fallbacks++
	}

	// Running average without keeping history.
	ms := float64(elapsed.Milliseconds())
	s.avgMs += (ms - s.avgMs) / float64(s.total)
}

// StatsSnapshot is a point-in-time copy of the statistics.
type StatsSnapshot struct {
	Total            int
	PerConfidence    map[models.Confidence]int
	WithGaps         int
	WithoutGaps      int
	WithCriticalGaps int
	Fallbacks        int
	FallbackRate     float64
	AvgGenerationMs  float64
}

func (s *Stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	per := make(map[models.Confidence]int, len(s.perConfidence))
	for k, v := range s.perConfidence {
		per[k] = v
	}
	snap := StatsSnapshot{
		Total:            s.total,
		PerConfidence:    per,
		WithGaps:         s.withGaps,
		WithoutGaps:      s.withoutGaps,
		WithCriticalGaps: s.criticalGaps,
		Fallbacks:        s.fallbacks,
		AvgGenerationMs:  s.avgMs,
	}
	if s.total > 0 {
		snap.FallbackRate = float64(s.fallbacks) / float64(s.total)
	}
	return snap
}
