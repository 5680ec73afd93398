package decision

import (
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

func newTestEngine() (*Engine, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewEngine(WithClock(clock)), clock
}

func analysis(v stance.Vector, fallacies ...string) *stance.AnalysisResult {
	return &stance.AnalysisResult{PostID: "p1", Vector: v, Fallacies: fallacies, Topic: "economy"}
}

func viewer(v stance.Vector) stance.ViewerProfile {
	return stance.ViewerProfile{ViewerID: "alice", Vector: v}
}

func TestEvaluate_EchoChamberWithFallacyIsCritical(t *testing.T) {
	e, _ := newTestEngine()

	v := e.Evaluate(nil, analysis(stance.Vector{}, "Strawman"), viewer(stance.Vector{}))

	assert.Equal(t, stance.LevelCritical, v.Level)
	assert.Equal(t, stance.LevelCritical, v.BaseLevel)
	assert.Equal(t, 0.0, v.Distance)
	assert.Equal(t, 1, v.FallacyCount)
	assert.Equal(t, 0.9, v.WeightedFallacyScore)
	assert.Equal(t, 0.95, v.WeightedFallacyCount)
	assert.Equal(t, stance.SeverityMedium, v.Severity)
	assert.Equal(t, "CRITICAL_INTERVENTION", v.Action)
	assert.False(t, v.Cooldown.Active)
	assert.True(t, v.ShouldIntervene())
}

func TestEvaluate_MildBiasWithTwoFallaciesIsMedium(t *testing.T) {
	e, _ := newTestEngine()

	v := e.Evaluate(nil,
		analysis(stance.Vector{Social: 0.3}, "Ad Hominem", "Red Herring"),
		viewer(stance.Vector{}))

	assert.Equal(t, 0.3, v.Distance)
	assert.Equal(t, stance.LevelMedium, v.Level)
	assert.Equal(t, 1.6, v.WeightedFallacyScore)
	assert.Equal(t, 1.8, v.WeightedFallacyCount)
	assert.Equal(t, stance.SeverityHigh, v.Severity)
	assert.Equal(t, "MEDIUM_INTERVENTION", v.Action)
}

func TestEvaluate_CooldownSuppressesSecondIntervention(t *testing.T) {
	e, clock := newTestEngine()
	post := analysis(stance.Vector{Social: 0.3}, "Ad Hominem", "Red Herring")
	profile := viewer(stance.Vector{})

	first := e.Evaluate(nil, post, profile)
	require.Equal(t, stance.LevelMedium, first.Level)

	clock.Advance(10 * time.Second)
	second := e.Evaluate(nil, post, profile)

	assert.Equal(t, stance.LevelMedium, second.BaseLevel)
	assert.Equal(t, stance.LevelNone, second.Level)
	assert.True(t, second.Cooldown.Active)
	assert.Equal(t, stance.LevelMedium, second.Cooldown.WouldHaveTriggeredLevel)
	assert.Equal(t, 20*time.Second, second.Cooldown.Remaining)
	assert.Equal(t, "SKIP_COOLDOWN(MEDIUM)", second.Action)
	assert.False(t, second.ShouldIntervene())
	require.NotNil(t, second.Trace.LastInterventionAt)

	// A suppressed verdict does not extend the window.
	clock.Advance(20 * time.Second)
	third := e.Evaluate(nil, post, profile)
	assert.Equal(t, stance.LevelMedium, third.Level)
	assert.False(t, third.Cooldown.Active)
}

func TestEvaluate_NoneDoesNotStartCooldown(t *testing.T) {
	e, _ := newTestEngine()
	profile := viewer(stance.Vector{})

	far := e.Evaluate(nil, analysis(stance.Vector{Social: 1, Economic: 1}, "Strawman"), profile)
	assert.Equal(t, stance.LevelNone, far.Level)
	assert.Equal(t, "NO_INTERVENTION", far.Action)

	_, ok := e.Context("alice").LastIntervention()
	assert.False(t, ok)

	near := e.Evaluate(nil, analysis(stance.Vector{}, "Strawman"), profile)
	assert.Equal(t, stance.LevelCritical, near.Level)
}

func TestEvaluate_ResetCooldown(t *testing.T) {
	e, _ := newTestEngine()
	post := analysis(stance.Vector{})
	profile := viewer(stance.Vector{})

	require.Equal(t, stance.LevelLow, e.Evaluate(nil, post, profile).Level)
	require.Equal(t, stance.LevelNone, e.Evaluate(nil, post, profile).Level)

	e.ResetCooldown("alice")

	assert.Equal(t, stance.LevelLow, e.Evaluate(nil, post, profile).Level)
}

func TestEvaluate_CooldownIsPerViewer(t *testing.T) {
	e, _ := newTestEngine()
	post := analysis(stance.Vector{}, "Strawman")

	a := e.Evaluate(nil, post, stance.ViewerProfile{ViewerID: "alice"})
	b := e.Evaluate(nil, post, stance.ViewerProfile{ViewerID: "bob"})

	assert.Equal(t, stance.LevelCritical, a.Level)
	assert.Equal(t, stance.LevelCritical, b.Level)
}

func TestEvaluate_ExplicitContext(t *testing.T) {
	e, _ := newTestEngine()
	dc := NewContext("scratch")
	post := analysis(stance.Vector{}, "Strawman")

	require.Equal(t, stance.LevelCritical, e.Evaluate(dc, post, viewer(stance.Vector{})).Level)

	// The engine-owned context for alice is untouched.
	assert.Equal(t, stance.LevelCritical, e.Evaluate(nil, post, viewer(stance.Vector{})).Level)
	assert.Equal(t, stance.LevelNone, e.Evaluate(dc, post, viewer(stance.Vector{})).Level)
}

func TestEvaluate_ProfileOverrides(t *testing.T) {
	e, clock := newTestEngine()
	cooldown := 5 * time.Second
	profile := stance.ViewerProfile{
		ViewerID:   "carol",
		Thresholds: &stance.Thresholds{EchoChamberMaxDistance: 0.5, MildBiasMaxDistance: 0.8},
		Cooldown:   &cooldown,
	}
	post := analysis(stance.Vector{Social: 0.4}, "Bandwagon")

	first := e.Evaluate(nil, post, profile)
	assert.Equal(t, stance.LevelCritical, first.Level)
	assert.Equal(t, int64(5000), first.Trace.CooldownWindowMs)

	clock.Advance(5 * time.Second)
	assert.Equal(t, stance.LevelCritical, e.Evaluate(nil, post, profile).Level)
}

func TestEvaluate_ClampsVectors(t *testing.T) {
	e, _ := newTestEngine()

	v := e.Evaluate(nil,
		analysis(stance.Vector{Social: 5, Economic: math.NaN(), Populist: math.Inf(-1)}),
		viewer(stance.Vector{Social: 1}))

	assert.Equal(t, 0.0, v.Distance)
	assert.Equal(t, stance.Vector{Social: 1}, v.Trace.PostVector)
	assert.Equal(t, "5", v.Trace.PostVectorRaw.Social)
	assert.Equal(t, "NaN", v.Trace.PostVectorRaw.Economic)
	assert.Equal(t, "-Inf", v.Trace.PostVectorRaw.Populist)
	assert.Equal(t, stance.LevelLow, v.Level)
}

func TestEvaluate_NonFiniteViewerTraceEncodes(t *testing.T) {
	e, _ := newTestEngine()

	v := e.Evaluate(nil,
		analysis(stance.Vector{Social: 0.5}),
		viewer(stance.Vector{Social: math.NaN(), Economic: math.Inf(1)}))

	assert.Equal(t, stance.Vector{}, v.Trace.ViewerVector)
	assert.Equal(t, "NaN", v.Trace.ViewerVectorRaw.Social)
	assert.Equal(t, "+Inf", v.Trace.ViewerVectorRaw.Economic)

	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v.Trace)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"viewerVectorRaw":{"social":"NaN","economic":"+Inf","populist":"0"}`)
}

func TestEvaluate_NonFiniteWeightsIgnored(t *testing.T) {
	e := NewEngine(WithClock(clockwork.NewFakeClock()), WithWeights(map[string]float64{"Strawman": math.NaN()}))

	v := e.Evaluate(nil, analysis(stance.Vector{}, "Strawman"), viewer(stance.Vector{}))

	assert.False(t, math.IsNaN(v.WeightedFallacyScore))
}

func TestEvaluate_Deterministic(t *testing.T) {
	post := analysis(stance.Vector{Social: 0.12, Economic: -0.34, Populist: 0.56}, "Strawman", "Whataboutism", "Unheard Of")
	profile := viewer(stance.Vector{Social: 0.2, Economic: -0.1, Populist: 0.3})

	e1, _ := newTestEngine()
	e2, _ := newTestEngine()
	a := e1.Evaluate(nil, post, profile)
	b := e2.Evaluate(nil, post, profile)

	assert.Equal(t, a.BaseLevel, b.BaseLevel)
	assert.Equal(t, a.Distance, b.Distance)
	assert.Equal(t, a.WeightedFallacyScore, b.WeightedFallacyScore)
	assert.Equal(t, a.WeightedFallacyCount, b.WeightedFallacyCount)
	assert.Equal(t, 0.363, a.Distance)
	assert.Equal(t, 2.1, a.WeightedFallacyScore)
}

func TestEvaluate_FallacyNamesNormalised(t *testing.T) {
	e, _ := newTestEngine()

	v := e.Evaluate(nil, analysis(stance.Vector{Social: 1}, "  ad   hominem ", "STRAWMAN", "Mystery"), viewer(stance.Vector{}))

	require.Len(t, v.Trace.FallacyWeights, 3)
	assert.Equal(t, 1.0, v.Trace.FallacyWeights[0].Weight)
	assert.Equal(t, 0.9, v.Trace.FallacyWeights[1].Weight)
	assert.Equal(t, DefaultFallacyWeight, v.Trace.FallacyWeights[2].Weight)
	assert.Equal(t, 2.4, v.WeightedFallacyScore)
}

func TestEvaluate_CustomWeights(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewEngine(WithClock(clock), WithWeights(map[string]float64{"Strawman": 2}))

	v := e.Evaluate(nil, analysis(stance.Vector{}, "strawman", "Ad Hominem"), viewer(stance.Vector{}))

	assert.Equal(t, 2.5, v.WeightedFallacyScore)
}

func TestBaseLevel(t *testing.T) {
	th := stance.DefaultThresholds()
	tests := []struct {
		name      string
		distance  float64
		fallacies int
		want      stance.Level
	}{
		{"echo with fallacy", 0.1, 1, stance.LevelCritical},
		{"echo without fallacy", 0.1, 0, stance.LevelLow},
		{"lower mild bound", 0.2, 2, stance.LevelMedium},
		{"upper mild bound", 0.4, 2, stance.LevelMedium},
		{"mild single fallacy", 0.3, 1, stance.LevelNone},
		{"far", 0.41, 5, stance.LevelNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BaseLevel(tt.distance, tt.fallacies, th))
		})
	}
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, stance.SeverityNone, SeverityFor(0))
	assert.Equal(t, stance.SeverityLow, SeverityFor(0.3))
	assert.Equal(t, stance.SeverityLow, SeverityFor(0.899))
	assert.Equal(t, stance.SeverityMedium, SeverityFor(0.9))
	assert.Equal(t, stance.SeverityMedium, SeverityFor(1.599))
	assert.Equal(t, stance.SeverityHigh, SeverityFor(1.6))
}
