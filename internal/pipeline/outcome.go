package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bisheshkhanal/ragebaiter/internal/ai"
	"github.com/bisheshkhanal/ragebaiter/internal/config"
	"github.com/bisheshkhanal/ragebaiter/internal/decision"
	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

// Stage names the last step a post reached in Process.
type Stage string

const (
	StageSkipped        Stage = "skipped"
	StageKeywordFilter  Stage = "keyword_filter"
	StageCacheHit       Stage = "cache_hit"
	StageBackendAnalyze Stage = "backend_analyze"
	StageDecision       Stage = "decision"
	StageInjected       Stage = "injected"
)

const errBackendUnavailable = "backend analysis unavailable"

type Outcome struct {
	PostID       string            `json:"postId"`
	Stage        Stage             `json:"stage"`
	CacheHit     bool              `json:"cacheHit,omitempty"`
	Verdict      *decision.Verdict `json:"verdict,omitempty"`
	Intervention *Intervention     `json:"intervention,omitempty"`
	Err          string            `json:"error,omitempty"`
	Duration     time.Duration     `json:"duration"`
}

func (o Outcome) Failed() bool {
	return o.Err != ""
}

// Intervention is the payload delivered to wherever the post came from.
type Intervention struct {
	PostID            string        `json:"postId"`
	Context           string        `json:"context,omitempty"`
	Level             stance.Level  `json:"level"`
	Reason            string        `json:"reason"`
	CounterArgument   string        `json:"counterArgument,omitempty"`
	Mechanism         string        `json:"mechanism,omitempty"`
	DataCheck         string        `json:"dataCheck,omitempty"`
	ChallengeQuestion string        `json:"challengeQuestion,omitempty"`
	Vector            stance.Vector `json:"vector"`
}

type FilterResult struct {
	IsPolitical     bool     `json:"isPolitical"`
	MatchedKeywords []string `json:"matchedKeywords"`
	Confidence      float64  `json:"confidence"`
}

type Analyzer interface {
	Analyze(ctx context.Context, req ai.Request, timeout time.Duration) *stance.AnalysisResult
}

// Screener is the cheap pre-filter run before any cache or network access.
type Screener interface {
	Filter(text string, sensitivity config.Sensitivity) FilterResult
}

// Gate decides whether the pipeline runs for a post's originating URL.
type Gate interface {
	Allow(rawURL string) bool
}

type Profiles interface {
	Profile(ctx context.Context, viewerID string) (stance.ViewerProfile, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, iv Intervention) error
}

func newIntervention(post stance.Post, analysis *stance.AnalysisResult, v decision.Verdict) *Intervention {
	return &Intervention{
		PostID:            post.ID,
		Context:           post.Context,
		Level:             v.Level,
		Reason:            reason(v),
		CounterArgument:   analysis.CounterArgument,
		Mechanism:         analysis.Mechanism,
		DataCheck:         analysis.DataCheck,
		ChallengeQuestion: analysis.ChallengeQuestion,
		Vector:            v.Trace.PostVector,
	}
}

func reason(v decision.Verdict) string {
	fallacies := make([]string, 0, len(v.Trace.FallacyWeights))
	for _, f := range v.Trace.FallacyWeights {
		fallacies = append(fallacies, f.Name)
	}

	switch v.Level {
	case stance.LevelCritical:
		return fmt.Sprintf("This post closely matches your own views and relies on %s.", joinNames(fallacies))
	case stance.LevelMedium:
		return fmt.Sprintf("This post leans toward your views and uses several weak arguments: %s.", joinNames(fallacies))
	case stance.LevelLow:
		return "This post closely matches your own views. Consider looking for other perspectives on it."
	default:
		return ""
	}
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return "no named fallacies"
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
