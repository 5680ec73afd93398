package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/bisheshkhanal/ragebaiter/internal/metrics"
	"github.com/bisheshkhanal/ragebaiter/internal/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultWebhookTimeout = 5 * time.Second

type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Metrics

	// Breaker tuning; zero values use the defaults below.
	MaxFailures uint32
	OpenFor     time.Duration
}

// Webhook POSTs each intervention as JSON. A circuit breaker stops calling
// an endpoint that keeps failing and fails fast until it has had time to
// recover.
type Webhook struct {
	url     string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}

	m := cfg.Metrics
	logger := cfg.Logger
	maxFailures := cfg.MaxFailures

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "intervention-webhook",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			m.SetBreakerState(stateValue(to))
		},
	})

	return &Webhook{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		client:  cfg.HTTPClient,
		breaker: breaker,
		logger:  logger,
	}, nil
}

func (w *Webhook) Dispatch(ctx context.Context, iv pipeline.Intervention) error {
	body, err := json.Marshal(iv)
	if err != nil {
		return fmt.Errorf("failed to marshal intervention: %w", err)
	}

	_, err = w.breaker.Execute(func() (interface{}, error) {
		return nil, w.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("webhook delivery for %s: %w", iv.PostID, err)
	}

	w.logger.Debug("intervention delivered", zap.String("post_id", iv.PostID), zap.String("level", string(iv.Level)))
	return nil
}

func (w *Webhook) State() gobreaker.State {
	return w.breaker.State()
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
