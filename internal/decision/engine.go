package decision

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bisheshkhanal/ragebaiter/internal/metrics"
	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

const DefaultCooldown = 30 * time.Second

const (
	ActionNone     = "NO_INTERVENTION"
	actionSkip     = "SKIP_COOLDOWN(%s)"
	actionTemplate = "%s_INTERVENTION"
)

// Engine converts a post analysis and a viewer profile into a verdict. The
// only mutable state is each viewer's last-intervention time, held in that
// viewer's Context.
type Engine struct {
	clock           clockwork.Clock
	defaultCooldown time.Duration
	weights         weightTable
	logger          *zap.Logger
	metrics         *metrics.Metrics

	mu       sync.Mutex
	contexts map[string]*Context
}

type Option func(*Engine)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithDefaultCooldown(d time.Duration) Option {
	return func(e *Engine) { e.defaultCooldown = d }
}

func WithWeights(weights map[string]float64) Option {
	return func(e *Engine) { e.weights = newWeightTable(weights) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:           clockwork.NewRealClock(),
		defaultCooldown: DefaultCooldown,
		weights:         newWeightTable(DefaultWeights),
		logger:          zap.NewNop(),
		contexts:        make(map[string]*Context),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Context holds one viewer's cooldown state for the life of the process.
type Context struct {
	ViewerID string

	mu               sync.Mutex
	lastIntervention *time.Time
}

func NewContext(viewerID string) *Context {
	return &Context{ViewerID: viewerID}
}

func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastIntervention = nil
}

func (c *Context) LastIntervention() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastIntervention == nil {
		return time.Time{}, false
	}
	return *c.lastIntervention, true
}

// Context returns the decision context for viewerID, creating it on first use.
func (e *Engine) Context(viewerID string) *Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	dc, ok := e.contexts[viewerID]
	if !ok {
		dc = NewContext(viewerID)
		e.contexts[viewerID] = dc
	}
	return dc
}

func (e *Engine) ResetCooldown(viewerID string) {
	e.Context(viewerID).Reset()
}

type Cooldown struct {
	Active                  bool          `json:"active"`
	Remaining               time.Duration `json:"remaining"`
	WouldHaveTriggeredLevel stance.Level  `json:"wouldHaveTriggeredLevel,omitempty"`
}

type Verdict struct {
	Level                stance.Level    `json:"level"`
	BaseLevel            stance.Level    `json:"baseLevel"`
	Distance             float64         `json:"distance"`
	FallacyCount         int             `json:"fallacyCount"`
	WeightedFallacyScore float64         `json:"weightedFallacyScore"`
	WeightedFallacyCount float64         `json:"weightedFallacyCount"`
	Severity             stance.Severity `json:"severity"`
	Cooldown             Cooldown        `json:"cooldown"`
	Action               string          `json:"action"`
	Trace                Trace           `json:"trace"`
}

func (v Verdict) ShouldIntervene() bool {
	return v.Level != stance.LevelNone
}

type FallacyWeight struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// RawVector is an input vector as received, formatted so that NaN and
// infinities survive JSON encoding.
type RawVector struct {
	Social   string `json:"social"`
	Economic string `json:"economic"`
	Populist string `json:"populist"`
}

func rawVector(v stance.Vector) RawVector {
	return RawVector{
		Social:   strconv.FormatFloat(v.Social, 'g', -1, 64),
		Economic: strconv.FormatFloat(v.Economic, 'g', -1, 64),
		Populist: strconv.FormatFloat(v.Populist, 'g', -1, 64),
	}
}

// Trace records every intermediate value of one evaluation.
type Trace struct {
	ViewerID                string            `json:"viewerId"`
	PostID                  string            `json:"postId"`
	Topic                   string            `json:"topic"`
	EvaluatedAt             time.Time         `json:"evaluatedAt"`
	PostVectorRaw           RawVector         `json:"postVectorRaw"`
	PostVector              stance.Vector     `json:"postVector"`
	ViewerVectorRaw         RawVector         `json:"viewerVectorRaw"`
	ViewerVector            stance.Vector     `json:"viewerVector"`
	Thresholds              stance.Thresholds `json:"thresholds"`
	CooldownWindowMs        int64             `json:"cooldownWindowMs"`
	Distance                float64           `json:"distance"`
	FallacyCount            int               `json:"fallacyCount"`
	FallacyWeights          []FallacyWeight   `json:"fallacyWeights"`
	WeightedFallacyScore    float64           `json:"weightedFallacyScore"`
	WeightedFallacyCount    float64           `json:"weightedFallacyCount"`
	BaseLevel               stance.Level      `json:"baseLevel"`
	FinalLevel              stance.Level      `json:"finalLevel"`
	Severity                stance.Severity   `json:"severity"`
	CooldownActive          bool              `json:"cooldownActive"`
	CooldownRemainingMs     int64             `json:"cooldownRemainingMs"`
	LastInterventionAt      *time.Time        `json:"lastInterventionAt,omitempty"`
	WouldHaveTriggeredLevel stance.Level      `json:"wouldHaveTriggeredLevel,omitempty"`
	Action                  string            `json:"action"`
}

// Evaluate scores analysis against profile. A nil dc uses the engine's
// context for profile.ViewerID.
func (e *Engine) Evaluate(dc *Context, analysis *stance.AnalysisResult, profile stance.ViewerProfile) Verdict {
	if dc == nil {
		dc = e.Context(profile.ViewerID)
	}

	postVec := analysis.Vector.Clamp()
	viewerVec := profile.Vector.Clamp()
	distance := round3(postVec.Distance(viewerVec))

	weights := make([]FallacyWeight, 0, len(analysis.Fallacies))
	var score, inflated float64
	for _, name := range analysis.Fallacies {
		w := e.weights.weight(name)
		weights = append(weights, FallacyWeight{Name: name, Weight: w})
		score += w
		inflated += 0.5 + w/2
	}
	score = round3(score)
	inflated = round3(inflated)
	fallacyCount := len(analysis.Fallacies)

	thresholds := stance.DefaultThresholds()
	if profile.Thresholds != nil {
		thresholds = *profile.Thresholds
	}
	cooldownWindow := e.defaultCooldown
	if profile.Cooldown != nil {
		cooldownWindow = *profile.Cooldown
	}

	base := BaseLevel(distance, fallacyCount, thresholds)

	now := e.clock.Now()
	level := base
	var cooldown Cooldown
	var lastAt *time.Time

	dc.mu.Lock()
	if dc.lastIntervention != nil {
		t := *dc.lastIntervention
		lastAt = &t
	}
	if base != stance.LevelNone && lastAt != nil {
		if elapsed := now.Sub(*lastAt); elapsed < cooldownWindow {
			level = stance.LevelNone
			cooldown = Cooldown{
				Active:                  true,
				Remaining:               cooldownWindow - elapsed,
				WouldHaveTriggeredLevel: base,
			}
		}
	}
	if !cooldown.Active && base != stance.LevelNone {
		t := now
		dc.lastIntervention = &t
	}
	dc.mu.Unlock()

	severity := SeverityFor(score)
	action := actionLabel(level, cooldown)

	v := Verdict{
		Level:                level,
		BaseLevel:            base,
		Distance:             distance,
		FallacyCount:         fallacyCount,
		WeightedFallacyScore: score,
		WeightedFallacyCount: inflated,
		Severity:             severity,
		Cooldown:             cooldown,
		Action:               action,
		Trace: Trace{
			ViewerID:                profile.ViewerID,
			PostID:                  analysis.PostID,
			Topic:                   analysis.Topic,
			EvaluatedAt:             now,
			PostVectorRaw:           rawVector(analysis.Vector),
			PostVector:              postVec,
			ViewerVectorRaw:         rawVector(profile.Vector),
			ViewerVector:            viewerVec,
			Thresholds:              thresholds,
			CooldownWindowMs:        cooldownWindow.Milliseconds(),
			Distance:                distance,
			FallacyCount:            fallacyCount,
			FallacyWeights:          weights,
			WeightedFallacyScore:    score,
			WeightedFallacyCount:    inflated,
			BaseLevel:               base,
			FinalLevel:              level,
			Severity:                severity,
			CooldownActive:          cooldown.Active,
			CooldownRemainingMs:     cooldown.Remaining.Milliseconds(),
			LastInterventionAt:      lastAt,
			WouldHaveTriggeredLevel: cooldown.WouldHaveTriggeredLevel,
			Action:                  action,
		},
	}

	e.metrics.Verdict(string(level), cooldown.Active)
	e.logger.Debug("decision evaluated",
		zap.String("viewer_id", profile.ViewerID),
		zap.String("post_id", analysis.PostID),
		zap.Float64("distance", distance),
		zap.Int("fallacy_count", fallacyCount),
		zap.Float64("weighted_fallacy_score", score),
		zap.Float64("weighted_fallacy_count", inflated),
		zap.String("base_level", string(base)),
		zap.String("level", string(level)),
		zap.String("action", action),
	)

	return v
}

// BaseLevel resolves the intervention level before cooldown is applied.
func BaseLevel(distance float64, fallacyCount int, t stance.Thresholds) stance.Level {
	switch {
	case distance < t.EchoChamberMaxDistance && fallacyCount > 0:
		return stance.LevelCritical
	case distance < t.EchoChamberMaxDistance:
		return stance.LevelLow
	case distance <= t.MildBiasMaxDistance && fallacyCount > 1:
		return stance.LevelMedium
	default:
		return stance.LevelNone
	}
}

func SeverityFor(score float64) stance.Severity {
	switch {
	case score <= 0:
		return stance.SeverityNone
	case score < 0.9:
		return stance.SeverityLow
	case score < 1.6:
		return stance.SeverityMedium
	default:
		return stance.SeverityHigh
	}
}

func actionLabel(level stance.Level, cooldown Cooldown) string {
	if cooldown.Active {
		return fmt.Sprintf(actionSkip, strings.ToUpper(string(cooldown.WouldHaveTriggeredLevel)))
	}
	if level == stance.LevelNone {
		return ActionNone
	}
	return fmt.Sprintf(actionTemplate, strings.ToUpper(string(level)))
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
