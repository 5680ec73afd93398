package aggregator

import (
	"sort"
	"time"

	"github.com/bisheshkhanal/ragebaiter/internal/pipeline"
	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

// Summary condenses the outcomes of one screening run.
type Summary struct {
	Total         int
	ByStage       map[pipeline.Stage]int
	ByLevel       map[stance.Level]int
	Analyzed      int
	CacheHits     int
	Interventions int
	Suppressed    int
	Errors        int
	MeanDistance  float64
	TotalDuration time.Duration
	Flagged       []pipeline.Outcome
}

// Summarize counts outcomes per stage and verdict level. MeanDistance covers
// only posts that reached the decision engine. Flagged holds every outcome
// with a non-none verdict, most severe first.
func Summarize(outcomes []pipeline.Outcome) Summary {
	s := Summary{
		Total:   len(outcomes),
		ByStage: make(map[pipeline.Stage]int),
		ByLevel: make(map[stance.Level]int),
	}

	var distanceSum float64
	for _, out := range outcomes {
		s.ByStage[out.Stage]++
		s.TotalDuration += out.Duration
		if out.CacheHit {
			s.CacheHits++
		}
		if out.Failed() {
			s.Errors++
		}
		if out.Intervention != nil && !out.Failed() {
			s.Interventions++
		}

		v := out.Verdict
		if v == nil {
			continue
		}
		s.Analyzed++
		s.ByLevel[v.Level]++
		distanceSum += v.Distance
		if v.Cooldown.Active {
			s.Suppressed++
		}
		if v.Level != stance.LevelNone {
			s.Flagged = append(s.Flagged, out)
		}
	}

	if s.Analyzed > 0 {
		s.MeanDistance = distanceSum / float64(s.Analyzed)
	}

	sort.SliceStable(s.Flagged, func(i, j int) bool {
		a, b := s.Flagged[i].Verdict, s.Flagged[j].Verdict
		if a.Level.Rank() != b.Level.Rank() {
			return a.Level.Rank() > b.Level.Rank()
		}
		return a.Distance < b.Distance
	})

	return s
}
