package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bisheshkhanal/ragebaiter/internal/metrics"
	"github.com/bisheshkhanal/ragebaiter/internal/rate"
	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

// Chatter issues a single completion call.
type Chatter interface {
	Chat(ctx context.Context, requestID, systemPrompt, userPrompt string) (string, error)
}

// Analyzer turns a post into a structured analysis, retrying transient
// upstream failures. It never returns an error: nil means no analysis is
// available for the post.
type Analyzer struct {
	client      Chatter
	limiter     *rate.Limiter
	clock       clockwork.Clock
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

type AnalyzerOption func(*Analyzer)

func WithClock(clock clockwork.Clock) AnalyzerOption {
	return func(a *Analyzer) { a.clock = clock }
}

func WithMaxAttempts(n int) AnalyzerOption {
	return func(a *Analyzer) { a.maxAttempts = n }
}

func WithBaseDelay(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) { a.baseDelay = d }
}

func WithLogger(logger *zap.Logger) AnalyzerOption {
	return func(a *Analyzer) { a.logger = logger }
}

func WithMetrics(m *metrics.Metrics) AnalyzerOption {
	return func(a *Analyzer) { a.metrics = m }
}

func NewAnalyzer(client Chatter, limiter *rate.Limiter, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		client:      client,
		limiter:     limiter,
		clock:       clockwork.NewRealClock(),
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.maxAttempts < 1 {
		a.maxAttempts = 1
	}
	return a
}

// Analyze runs up to maxAttempts upstream calls, each bounded by timeout.
func (a *Analyzer) Analyze(ctx context.Context, req Request, timeout time.Duration) *stance.AnalysisResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	systemPrompt, userPrompt := BuildPrompt(req.Text)
	bo := a.newBackOff()
	log := a.logger.With(zap.String("post_id", req.PostID))

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := a.limiter.Acquire(ctx); err != nil {
			log.Debug("rate limiter wait abandoned", zap.Error(err))
			return nil
		}

		content, err := a.attempt(ctx, req.PostID, systemPrompt, userPrompt, timeout)
		delay := bo.NextBackOff()

		if err == nil {
			result, perr := parseAnalysis(content, req)
			if perr != nil {
				a.metrics.Attempt("malformed")
				log.Warn("unusable analysis payload", zap.Int("attempt", attempt), zap.Error(perr))
				return nil
			}
			a.metrics.Attempt("ok")
			log.Debug("analysis complete", zap.Int("attempt", attempt), zap.String("topic", result.Topic))
			return result
		}

		var reqErr RequestError
		if !errors.As(err, &reqErr) {
			if errors.Is(err, ErrMalformedResponse) {
				a.metrics.Attempt("malformed")
			}
			log.Warn("analysis request aborted", zap.Int("attempt", attempt), zap.Error(err))
			return nil
		}

		a.metrics.Attempt(string(reqErr.Kind()))

		if !Retryable(reqErr) {
			log.Warn("analysis request failed permanently", zap.Int("attempt", attempt), zap.Error(err))
			return nil
		}
		if attempt == a.maxAttempts {
			log.Warn("analysis attempts exhausted", zap.Int("attempts", attempt), zap.Error(err))
			return nil
		}

		if d, ok := serverDelay(reqErr); ok {
			delay = d
		}

		a.metrics.Retry()
		log.Info("retrying analysis request",
			zap.Int("attempt", attempt),
			zap.String("kind", string(reqErr.Kind())),
			zap.Duration("backoff", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-a.clock.After(delay):
		}
	}

	return nil
}

func (a *Analyzer) attempt(ctx context.Context, postID, systemPrompt, userPrompt string, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return a.client.Chat(attemptCtx, postID, systemPrompt, userPrompt)
}

// newBackOff yields baseDelay * 2^(attempt-1) on successive calls, without
// jitter and without an overall deadline.
func (a *Analyzer) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.baseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = time.Hour
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func parseAnalysis(content string, req Request) (*stance.AnalysisResult, error) {
	payload := extractJSON(stripCodeFences(content))
	if payload == "" {
		return nil, fmt.Errorf("no JSON object found in model output")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse model output: %w", err)
	}

	vec, ok := raw["vector"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("vector is not an object")
	}
	var axes [3]float64
	for i, name := range []string{"social", "economic", "populist"} {
		n, ok := vec[name].(float64)
		if !ok {
			return nil, fmt.Errorf("vector.%s is not a number", name)
		}
		axes[i] = n
	}

	rawFallacies, ok := raw["fallacies"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("fallacies is not an array")
	}
	fallacies := make([]string, 0, len(rawFallacies))
	for _, f := range rawFallacies {
		s, ok := f.(string)
		if !ok {
			return nil, fmt.Errorf("fallacies contains a non-string")
		}
		fallacies = append(fallacies, s)
	}

	topic, ok := raw["topic"].(string)
	if !ok {
		return nil, fmt.Errorf("topic is not a string")
	}

	confidence, ok := raw["confidence"].(float64)
	if !ok {
		return nil, fmt.Errorf("confidence is not a number")
	}

	return &stance.AnalysisResult{
		PostID: req.PostID,
		Text:   req.Text,
		Vector: stance.Vector{
			Social:   axes[0],
			Economic: axes[1],
			Populist: axes[2],
		}.Clamp(),
		Fallacies:         fallacies,
		Topic:             topic,
		Confidence:        stance.ClampConfidence(confidence),
		CounterArgument:   optionalString(raw, "counterArgument"),
		Mechanism:         optionalString(raw, "mechanism"),
		DataCheck:         optionalString(raw, "dataCheck"),
		ChallengeQuestion: optionalString(raw, "challengeQuestion"),
	}, nil
}

func optionalString(raw map[string]interface{}, key string) string {
	s, _ := raw[key].(string)
	return s
}

func stripCodeFences(content string) string {
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```JSON", "")
	return strings.ReplaceAll(content, "```", "")
}

func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}
