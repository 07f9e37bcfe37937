package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/automatoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// Client executes automations on the external automation service.
type Client interface {
	// Execute runs one automation and blocks until it finishes, fails, or
	// the timeout elapses.
	Execute(
		ctx context.Context,
		externalID string,
		inputs map[string]any,
		timeout time.Duration,
	) (*Result, error)

	// Mode returns "mock" or "live" for logging.
	Mode() string
}

// Result is the response of a successful automation call.
type Result struct {
	RunID    string         `json:"run_id"`
	Status   string         `json:"status"`
	Output   map[string]any `json:"output"`
	Metadata map[string]any `json:"metadata"`

	// Raw holds the full decoded response body, including unknown fields.
	Raw map[string]any `json:"-"`
}

// Payload returns the response as a JSON-compatible map.
func (r *Result) Payload() map[string]any {
	if r.Raw != nil {
		return r.Raw
	}

	return map[string]any{
		"run_id":   r.RunID,
		"status":   r.Status,
		"output":   r.Output,
		"metadata": r.Metadata,
	}
}

// ErrMissingCredential is wrapped by ConfigurationError when live mode has
// no api key.
var ErrMissingCredential = errors.New(
	"automation api key is required when mock mode is disabled",
)

// ConfigurationError reports a client that cannot run with its settings.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ExecutionError reports a failed call to the automation service.
// StatusCode is zero for transport failures.
type ExecutionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ExecutionError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf(
				"execution error: status %d: %v: %s", e.StatusCode, e.Err, e.Body,
			)
		}

		return fmt.Sprintf("execution error: status %d: %v", e.StatusCode, e.Err)
	}

	return fmt.Sprintf("execution error: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewClient returns the mock client when mock mode is enabled and the
// live HTTP client otherwise.
func NewClient(log logrus.FieldLogger, cfg *config.AutomationConfig) Client {
	if cfg.MockMode {
		return NewMockClient(log, cfg.MockDelayMin(), cfg.MockDelayMax())
	}

	return NewLiveClient(log, cfg)
}
