package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bisheshkhanal/ragebaiter/internal/ai"
	"github.com/bisheshkhanal/ragebaiter/internal/config"
	"github.com/bisheshkhanal/ragebaiter/internal/decision"
	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

const politicalText = "The senate vote on taxes shows how broken immigration politics has become."

// --- Test doubles ---

type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    []ai.Request
	timeouts []time.Duration
	result   func(req ai.Request) *stance.AnalysisResult
	started  chan string
	release  chan struct{}
	delay    time.Duration
	active   int
	peak     int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req ai.Request, timeout time.Duration) *stance.AnalysisResult {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.timeouts = append(f.timeouts, timeout)
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.started != nil {
		f.started <- req.PostID
	}
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.result == nil {
		return nil
	}
	return f.result(req)
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAnalyzer) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func echoAnalysis(req ai.Request) *stance.AnalysisResult {
	return &stance.AnalysisResult{
		PostID:            req.PostID,
		Text:              req.Text,
		Vector:            stance.Vector{Social: 0.1},
		Fallacies:         []string{"Strawman"},
		Topic:             "immigration",
		Confidence:        0.8,
		CounterArgument:   "Consider the data.",
		ChallengeQuestion: "What would change your mind?",
	}
}

func farAnalysis(req ai.Request) *stance.AnalysisResult {
	return &stance.AnalysisResult{PostID: req.PostID, Text: req.Text, Vector: stance.Vector{Social: -1, Economic: -1}, Topic: "taxes"}
}

type staticProfiles struct {
	profile stance.ViewerProfile
	err     error
}

func (s staticProfiles) Profile(_ context.Context, viewerID string) (stance.ViewerProfile, error) {
	if s.err != nil {
		return stance.ViewerProfile{}, s.err
	}
	p := s.profile
	p.ViewerID = viewerID
	return p, nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []Intervention
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, iv Intervention) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, iv)
	return nil
}

type stubScreener struct {
	political bool
}

func (s stubScreener) Filter(string, config.Sensitivity) FilterResult {
	return FilterResult{IsPolitical: s.political}
}

type panicScreener struct{}

func (panicScreener) Filter(string, config.Sensitivity) FilterResult {
	panic("lexicon exploded")
}

type panicDispatcher struct{}

func (panicDispatcher) Dispatch(context.Context, Intervention) error {
	panic("socket gone")
}

type denyGate struct{}

func (denyGate) Allow(string) bool { return false }

func defaultSettings() config.Pipeline {
	return config.Pipeline{MaxConcurrency: 3, BackendTimeout: 2 * time.Second, Sensitivity: config.SensitivityMedium}
}

func newTestOrchestrator(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Profiles == nil {
		deps.Profiles = staticProfiles{}
	}
	if deps.Settings == nil {
		deps.Settings = defaultSettings()
	}
	if deps.Engine == nil {
		deps.Engine = decision.NewEngine(decision.WithClock(clockwork.NewFakeClock()))
	}
	o, err := New(deps)
	require.NoError(t, err)
	return o
}

// --- Tests ---

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{Profiles: staticProfiles{}, Settings: defaultSettings()})
	assert.EqualError(t, err, "analyzer is required")

	_, err = New(Deps{Analyzer: &fakeAnalyzer{}, Settings: defaultSettings()})
	assert.EqualError(t, err, "profile provider is required")

	_, err = New(Deps{Analyzer: &fakeAnalyzer{}, Profiles: staticProfiles{}})
	assert.EqualError(t, err, "settings accessor is required")
}

func TestProcess_NotPoliticalStopsAtKeywordFilter(t *testing.T) {
	analyzer := &fakeAnalyzer{result: echoAnalysis}
	o := newTestOrchestrator(t, Deps{Analyzer: analyzer})

	out := o.Process(context.Background(), stance.Post{ID: "p1", Text: "Look at my cat sleeping in the sun."}, "alice")

	assert.Equal(t, "p1", out.PostID)
	assert.Equal(t, StageKeywordFilter, out.Stage)
	assert.Empty(t, out.Err)
	assert.Nil(t, out.Verdict)
	assert.Equal(t, 0, o.Cache().Len())
	assert.Equal(t, 0, analyzer.callCount())
}

func TestProcess_InjectsIntervention(t *testing.T) {
	analyzer := &fakeAnalyzer{result: echoAnalysis}
	dispatcher := &recordingDispatcher{}
	o := newTestOrchestrator(t, Deps{Analyzer: analyzer, Dispatcher: dispatcher})

	post := stance.Post{ID: "p1", Text: politicalText, URL: "https://x.com/a/status/1", Context: "tab-7"}
	out := o.Process(context.Background(), post, "alice")

	require.Equal(t, StageInjected, out.Stage, out.Err)
	require.NotNil(t, out.Verdict)
	assert.Equal(t, stance.LevelCritical, out.Verdict.Level)
	assert.False(t, out.CacheHit)
	require.NotNil(t, out.Intervention)
	assert.Equal(t, "tab-7", out.Intervention.Context)
	assert.Equal(t, "Consider the data.", out.Intervention.CounterArgument)
	assert.Contains(t, out.Intervention.Reason, "Strawman")

	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, *out.Intervention, dispatcher.sent[0])
	assert.Equal(t, 1, o.Cache().Len())
	assert.Equal(t, []time.Duration{2 * time.Second}, analyzer.timeouts)
}

func TestProcess_WithoutDispatcherReturnsIntervention(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Analyzer: &fakeAnalyzer{result: echoAnalysis}})

	out := o.Process(context.Background(), stance.Post{ID: "p1", Text: politicalText}, "alice")

	assert.Equal(t, StageInjected, out.Stage)
	assert.NotNil(t, out.Intervention)
}

func TestProcess_NoInterventionStopsAtDecision(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	o := newTestOrchestrator(t, Deps{Analyzer: &fakeAnalyzer{result: farAnalysis}, Dispatcher: dispatcher})

	out := o.Process(context.Background(), stance.Post{ID: "p1", Text: politicalText}, "alice")

	assert.Equal(t, StageDecision, out.Stage)
	assert.Empty(t, out.Err)
	require.NotNil(t, out.Verdict)
	assert.Equal(t, stance.LevelNone, out.Verdict.Level)
	assert.Nil(t, out.Intervention)
	assert.Empty(t, dispatcher.sent)
}

func TestProcess_CacheHitSkipsBackend(t *testing.T) {
	analyzer := &fakeAnalyzer{result: echoAnalysis}
	o := newTestOrchestrator(t, Deps{Analyzer: analyzer})
	post := stance.Post{ID: "p1", Text: politicalText}

	first := o.Process(context.Background(), post, "alice")
	second := o.Process(context.Background(), post, "alice")

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	require.NotNil(t, second.Verdict)
	assert.True(t, second.Verdict.Cooldown.Active)
	assert.Equal(t, StageDecision, second.Stage)
	assert.Equal(t, 1, analyzer.callCount())
}

func TestProcess_BackendUnavailable(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	o := newTestOrchestrator(t, Deps{Analyzer: analyzer})

	out := o.Process(context.Background(), stance.Post{ID: "p1", Text: politicalText}, "alice")

	assert.Equal(t, StageBackendAnalyze, out.Stage)
	assert.Equal(t, "backend analysis unavailable", out.Err)
	assert.Nil(t, out.Verdict)
	assert.Equal(t, 0, o.Cache().Len())
	assert.Equal(t, 0, o.InFlight())
}

func TestProcess_DispatchFailureKeepsVerdict(t *testing.T) {
	dispatcher := &recordingDispatcher{err: errors.New("tab closed")}
	o := newTestOrchestrator(t, Deps{Analyzer: &fakeAnalyzer{result: echoAnalysis}, Dispatcher: dispatcher})

	out := o.Process(context.Background(), stance.Post{ID: "p1", Text: politicalText}, "alice")

	assert.Equal(t, StageDecision, out.Stage)
	assert.Equal(t, "dispatch failed: tab closed", out.Err)
	require.NotNil(t, out.Verdict)
	assert.Equal(t, stance.LevelCritical, out.Verdict.Level)
	assert.NotNil(t, out.Intervention)
}

func TestProcess_DispatchPanicKeepsVerdict(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Analyzer: &fakeAnalyzer{result: echoAnalysis}, Dispatcher: panicDispatcher{}})

	var out Outcome
	require.NotPanics(t, func() {
		out = o.Process(context.Background(), stance.Post{ID: "p1", Text: politicalText}, "alice")
	})

	assert.Equal(t, StageDecision, out.Stage)
	assert.Equal(t, "dispatch failed: panic: socket gone", out.Err)
	require.NotNil(t, out.Verdict)
	assert.Equal(t, stance.LevelCritical, out.Verdict.Level)
	require.NotNil(t, out.Intervention)
	assert.Equal(t, "p1", out.Intervention.PostID)
	assert.Equal(t, 0, o.InFlight())
}

func TestProcess_ProfileFailure(t *testing.T) {
	o := newTestOrchestrator(t, Deps{
		Analyzer: &fakeAnalyzer{result: echoAnalysis},
		Profiles: staticProfiles{err: errors.New("redis down")},
	})

	out := o.Process(context.Background(), stance.Post{ID: "p1", Text: politicalText}, "alice")

	assert.Equal(t, StageDecision, out.Stage)
	assert.Equal(t, "profile lookup failed: redis down", out.Err)
	assert.Equal(t, 1, o.Cache().Len())
}

func TestProcess_GateRejects(t *testing.T) {
	analyzer := &fakeAnalyzer{result: echoAnalysis}
	o := newTestOrchestrator(t, Deps{Analyzer: analyzer, Gate: denyGate{}})

	out := o.Process(context.Background(), stance.Post{ID: "p1", Text: politicalText, URL: "https://example.com"}, "alice")
	assert.Equal(t, StageSkipped, out.Stage)
	assert.Equal(t, 0, analyzer.callCount())

	// Posts without an originating URL are not gated.
	out = o.Process(context.Background(), stance.Post{ID: "p2", Text: politicalText}, "alice")
	assert.Equal(t, StageInjected, out.Stage)
}

func TestProcess_DuplicateInFlightIsSkipped(t *testing.T) {
	analyzer := &fakeAnalyzer{
		result:  echoAnalysis,
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	o := newTestOrchestrator(t, Deps{Analyzer: analyzer})
	post := stance.Post{ID: "dup", Text: politicalText}

	first := make(chan Outcome, 1)
	go func() { first <- o.Process(context.Background(), post, "alice") }()

	select {
	case <-analyzer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first call never reached the analyzer")
	}

	second := o.Process(context.Background(), post, "alice")
	assert.Equal(t, StageSkipped, second.Stage)

	close(analyzer.release)
	out := <-first
	assert.Equal(t, StageInjected, out.Stage)
	assert.Equal(t, 1, analyzer.callCount())
	assert.Equal(t, 0, o.InFlight())
}

func TestProcess_RecoversPanic(t *testing.T) {
	analyzer := &fakeAnalyzer{result: echoAnalysis}
	o := newTestOrchestrator(t, Deps{Analyzer: analyzer, Screener: panicScreener{}})

	var out Outcome
	require.NotPanics(t, func() {
		out = o.Process(context.Background(), stance.Post{ID: "p1", Text: politicalText}, "alice")
	})

	assert.Equal(t, "p1", out.PostID)
	assert.Equal(t, StageKeywordFilter, out.Stage)
	assert.Equal(t, "panic: lexicon exploded", out.Err)
	assert.Equal(t, 0, o.InFlight())
}

func TestProcess_ReadsSettingsPerCall(t *testing.T) {
	live := config.NewLive(config.Pipeline{MaxConcurrency: 1, BackendTimeout: time.Second, Sensitivity: config.SensitivityLow}, nil, nil)
	analyzer := &fakeAnalyzer{result: farAnalysis}
	o := newTestOrchestrator(t, Deps{Analyzer: analyzer, Settings: live})

	// Two keywords: below the low-sensitivity bar of three.
	text := "Another election, another president."
	out := o.Process(context.Background(), stance.Post{ID: "p1", Text: text}, "alice")
	assert.Equal(t, StageKeywordFilter, out.Stage)

	live.Store(config.Pipeline{MaxConcurrency: 4, BackendTimeout: 3 * time.Second, Sensitivity: config.SensitivityHigh})

	out = o.Process(context.Background(), stance.Post{ID: "p1", Text: text}, "alice")
	assert.Equal(t, StageDecision, out.Stage)
	assert.Equal(t, []time.Duration{3 * time.Second}, analyzer.timeouts)
	assert.Equal(t, 4, o.Semaphore().Max())
}

func TestProcessBatch_BoundedAndOrdered(t *testing.T) {
	analyzer := &fakeAnalyzer{result: farAnalysis, delay: 20 * time.Millisecond}
	settings := defaultSettings()
	settings.MaxConcurrency = 2
	o := newTestOrchestrator(t, Deps{Analyzer: analyzer, Settings: settings})

	posts := make([]stance.Post, 8)
	for i := range posts {
		posts[i] = stance.Post{ID: fmt.Sprintf("p%d", i), Text: politicalText}
	}
	posts = append(posts, stance.Post{ID: "cat", Text: "cat pictures"})

	outcomes := o.ProcessBatch(context.Background(), posts, "alice")

	require.Len(t, outcomes, len(posts))
	for i, out := range outcomes {
		assert.Equal(t, posts[i].ID, out.PostID)
	}
	assert.Equal(t, StageKeywordFilter, outcomes[8].Stage)
	assert.Equal(t, 8, analyzer.callCount())
	assert.LessOrEqual(t, analyzer.peakConcurrency(), 2)
	assert.Equal(t, 0, o.InFlight())
}

func TestProcess_StubScreenerBypassesLexicon(t *testing.T) {
	analyzer := &fakeAnalyzer{result: farAnalysis}
	o := newTestOrchestrator(t, Deps{Analyzer: analyzer, Screener: stubScreener{political: true}})

	out := o.Process(context.Background(), stance.Post{ID: "p1", Text: "no keywords at all"}, "alice")

	assert.Equal(t, StageDecision, out.Stage)
	assert.Equal(t, 1, analyzer.callCount())
}

func TestProcess_ResizeWhileWaitingKeepsCapAndOrder(t *testing.T) {
	live := config.NewLive(config.Pipeline{MaxConcurrency: 2, BackendTimeout: time.Second, Sensitivity: config.SensitivityMedium}, nil, nil)
	analyzer := &fakeAnalyzer{
		result:  farAnalysis,
		started: make(chan string, 6),
		release: make(chan struct{}),
	}
	o := newTestOrchestrator(t, Deps{Analyzer: analyzer, Settings: live})

	outcomes := make(chan Outcome, 6)
	run := func(id string) {
		go func() { outcomes <- o.Process(context.Background(), stance.Post{ID: id, Text: politicalText}, "alice") }()
	}
	nextStarted := func() string {
		select {
		case id := <-analyzer.started:
			return id
		case <-time.After(2 * time.Second):
			t.Fatal("analyzer call never started")
			return ""
		}
	}

	run("a")
	run("b")
	assert.ElementsMatch(t, []string{"a", "b"}, []string{nextStarted(), nextStarted()})

	run("c")
	require.Eventually(t, func() bool { return o.Semaphore().Waiting() == 1 }, 2*time.Second, time.Millisecond)

	live.Store(config.Pipeline{MaxConcurrency: 3, BackendTimeout: time.Second, Sensitivity: config.SensitivityMedium})
	run("d")
	run("e")
	run("f")

	assert.Equal(t, "c", nextStarted())
	require.Eventually(t, func() bool { return o.Semaphore().Waiting() == 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 3, o.Semaphore().InUse())
	assert.Equal(t, 3, analyzer.peakConcurrency())

	close(analyzer.release)
	for i := 0; i < 6; i++ {
		out := <-outcomes
		assert.Equal(t, StageDecision, out.Stage)
	}
	assert.LessOrEqual(t, analyzer.peakConcurrency(), 3)
	assert.Equal(t, 0, o.Semaphore().InUse())
}
