package stance

import (
	"math"
	"time"
)

type Level string

const (
	LevelNone     Level = "none"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelCritical Level = "critical"
)

var levelRank = map[Level]int{
	LevelNone:     0,
	LevelLow:      1,
	LevelMedium:   2,
	LevelCritical: 3,
}

func (l Level) IsValid() bool {
	_, ok := levelRank[l]
	return ok
}

func (l Level) Rank() int {
	return levelRank[l]
}

type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Vector is a position in the three-axis ideology space. Every component is
// expected in [-1, 1]; call Clamp before using values from outside.
type Vector struct {
	Social   float64 `json:"social"`
	Economic float64 `json:"economic"`
	Populist float64 `json:"populist"`
}

func (v Vector) Clamp() Vector {
	return Vector{
		Social:   ClampUnit(v.Social),
		Economic: ClampUnit(v.Economic),
		Populist: ClampUnit(v.Populist),
	}
}

func (v Vector) Distance(o Vector) float64 {
	ds := v.Social - o.Social
	de := v.Economic - o.Economic
	dp := v.Populist - o.Populist
	return math.Sqrt(ds*ds + de*de + dp*dp)
}

// ClampUnit maps x into [-1, 1]; NaN and infinities become 0.
func ClampUnit(x float64) float64 {
	return clamp(x, -1, 1)
}

// ClampConfidence maps x into [0, 1]; NaN and infinities become 0.
func ClampConfidence(x float64) float64 {
	return clamp(x, 0, 1)
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

type AnalysisResult struct {
	PostID            string   `json:"postId"`
	Text              string   `json:"text"`
	Vector            Vector   `json:"vector"`
	Fallacies         []string `json:"fallacies"`
	Topic             string   `json:"topic"`
	Confidence        float64  `json:"confidence"`
	CounterArgument   string   `json:"counterArgument,omitempty"`
	Mechanism         string   `json:"mechanism,omitempty"`
	DataCheck         string   `json:"dataCheck,omitempty"`
	ChallengeQuestion string   `json:"challengeQuestion,omitempty"`
}

type Thresholds struct {
	EchoChamberMaxDistance float64 `json:"echoChamberMaxDistance"`
	MildBiasMaxDistance    float64 `json:"mildBiasMaxDistance"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		EchoChamberMaxDistance: 0.2,
		MildBiasMaxDistance:    0.4,
	}
}

type ViewerProfile struct {
	ViewerID   string
	Vector     Vector
	Thresholds *Thresholds
	Cooldown   *time.Duration
}

type Post struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	URL     string `json:"url,omitempty"`
	Context string `json:"context,omitempty"`
}
