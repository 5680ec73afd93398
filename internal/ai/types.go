package ai

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout     = 25 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	HTTPClient  *http.Client
}

// Request is what the pipeline asks the upstream to analyze.
type Request struct {
	PostID string
	Text   string
}
