package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bisheshkhanal/ragebaiter/internal/ai"
	"github.com/bisheshkhanal/ragebaiter/internal/cache"
	"github.com/bisheshkhanal/ragebaiter/internal/config"
	"github.com/bisheshkhanal/ragebaiter/internal/decision"
	"github.com/bisheshkhanal/ragebaiter/internal/metrics"
	"github.com/bisheshkhanal/ragebaiter/internal/semaphore"
	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

// Deps are the collaborators an Orchestrator is built from. Analyzer,
// Profiles and Settings are required; the rest fall back to defaults.
type Deps struct {
	Analyzer   Analyzer
	Screener   Screener
	Gate       Gate
	Profiles   Profiles
	Dispatcher Dispatcher
	Settings   config.Accessor
	Engine     *decision.Engine
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Orchestrator runs posts through filter, cache, analysis, decision and
// dispatch. It is safe for concurrent use; Process never panics or returns an
// error to its caller.
type Orchestrator struct {
	deps  Deps
	cache *cache.ResultCache
	clock clockwork.Clock
	log   *zap.Logger

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	sem *semaphore.Semaphore
}

type Option func(*Orchestrator)

func WithCache(c *cache.ResultCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if deps.Profiles == nil {
		return nil, fmt.Errorf("profile provider is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings accessor is required")
	}
	if deps.Screener == nil {
		deps.Screener = NewKeywordFilter(nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Engine == nil {
		deps.Engine = decision.NewEngine(decision.WithLogger(deps.Logger), decision.WithMetrics(deps.Metrics))
	}

	o := &Orchestrator{
		deps:     deps,
		clock:    clockwork.NewRealClock(),
		log:      deps.Logger,
		inFlight: make(map[string]struct{}),
		sem:      semaphore.New(deps.Settings.Current().MaxConcurrency),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = cache.New(cache.DefaultCapacity, cache.WithMetrics(deps.Metrics))
	}
	return o, nil
}

func (o *Orchestrator) Cache() *cache.ResultCache {
	return o.cache
}

// Process screens one post for viewerID.
func (o *Orchestrator) Process(ctx context.Context, post stance.Post, viewerID string) (out Outcome) {
	start := o.clock.Now()
	stage := StageSkipped
	log := o.log.With(zap.String("post_id", post.ID), zap.String("viewer_id", viewerID))

	defer func() {
		out.PostID = post.ID
		out.Duration = o.clock.Since(start)
		o.deps.Metrics.ObserveOutcome(string(out.Stage), out.Failed(), out.Duration)
	}()

	if !o.markInFlight(post.ID) {
		log.Debug("post already in flight")
		return Outcome{Stage: StageSkipped}
	}
	defer o.unmarkInFlight(post.ID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered panic in pipeline", zap.String("stage", string(stage)), zap.Any("panic", r))
			// Keep whatever verdict was already computed.
			out.Stage = stage
			out.Err = fmt.Sprintf("panic: %v", r)
		}
	}()

	if post.URL != "" && o.deps.Gate != nil && !o.deps.Gate.Allow(post.URL) {
		log.Debug("gate rejected post", zap.String("url", post.URL))
		return Outcome{Stage: StageSkipped}
	}

	settings := o.deps.Settings.Current()

	stage = StageKeywordFilter
	screen := o.deps.Screener.Filter(post.Text, settings.Sensitivity)
	if !screen.IsPolitical {
		log.Debug("post not political",
			zap.Strings("matched", screen.MatchedKeywords),
			zap.String("sensitivity", string(settings.Sensitivity)),
		)
		return Outcome{Stage: StageKeywordFilter}
	}

	analysis, hit := o.cache.Get(post.ID)
	if hit {
		stage = StageCacheHit
		log.Debug("analysis cache hit")
	} else {
		stage = StageBackendAnalyze
		analysis = o.analyze(ctx, post, settings)
		if analysis == nil {
			return Outcome{Stage: StageBackendAnalyze, Err: errBackendUnavailable}
		}
		o.cache.Set(post.ID, analysis)
	}

	stage = StageDecision
	profile, err := o.deps.Profiles.Profile(ctx, viewerID)
	if err != nil {
		log.Warn("viewer profile lookup failed", zap.Error(err))
		return Outcome{Stage: StageDecision, CacheHit: hit, Err: fmt.Sprintf("profile lookup failed: %v", err)}
	}
	if profile.ViewerID == "" {
		profile.ViewerID = viewerID
	}

	verdict := o.deps.Engine.Evaluate(o.deps.Engine.Context(viewerID), analysis, profile)
	out = Outcome{Stage: StageDecision, CacheHit: hit, Verdict: &verdict}
	if !verdict.ShouldIntervene() {
		return out
	}

	out.Intervention = newIntervention(post, analysis, verdict)
	if o.deps.Dispatcher != nil {
		if err := o.dispatch(ctx, *out.Intervention); err != nil {
			o.deps.Metrics.DispatchFailed()
			log.Warn("intervention dispatch failed", zap.String("level", string(verdict.Level)), zap.Error(err))
			out.Err = fmt.Sprintf("dispatch failed: %v", err)
			return out
		}
	}

	log.Info("intervention issued", zap.String("level", string(verdict.Level)), zap.String("action", verdict.Action))
	out.Stage = StageInjected
	return out
}

// ProcessBatch runs Process for every post concurrently and returns the
// outcomes in input order. Outbound calls are still bounded by the shared
// semaphore.
func (o *Orchestrator) ProcessBatch(ctx context.Context, posts []stance.Post, viewerID string) []Outcome {
	outcomes := make([]Outcome, len(posts))
	var g errgroup.Group
	for i, post := range posts {
		g.Go(func() error {
			outcomes[i] = o.Process(ctx, post, viewerID)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) analyze(ctx context.Context, post stance.Post, settings config.Pipeline) *stance.AnalysisResult {
	sem := o.sem
	if sem.Resize(settings.MaxConcurrency) {
		o.log.Info("resized analysis semaphore", zap.Int("max", sem.Max()))
	}
	if err := sem.Acquire(ctx); err != nil {
		o.log.Debug("semaphore wait abandoned", zap.String("post_id", post.ID), zap.Error(err))
		return nil
	}
	o.deps.Metrics.SetInFlight(sem.InUse())
	defer func() {
		sem.Release()
		o.deps.Metrics.SetInFlight(sem.InUse())
	}()

	return o.deps.Analyzer.Analyze(ctx, ai.Request{PostID: post.ID, Text: post.Text}, settings.BackendTimeout)
}

// dispatch delivers iv, turning a panicking Dispatcher into an error.
func (o *Orchestrator) dispatch(ctx context.Context, iv Intervention) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.deps.Dispatcher.Dispatch(ctx, iv)
}

// Semaphore exposes the permit pool bounding backend calls.
func (o *Orchestrator) Semaphore() *semaphore.Semaphore {
	return o.sem
}

func (o *Orchestrator) markInFlight(id string) bool {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	if _, ok := o.inFlight[id]; ok {
		return false
	}
	o.inFlight[id] = struct{}{}
	return true
}

func (o *Orchestrator) unmarkInFlight(id string) {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	delete(o.inFlight, id)
}

func (o *Orchestrator) InFlight() int {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	return len(o.inFlight)
}
