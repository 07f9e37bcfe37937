package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethpandaops/automatoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 512

// ErrUnexpectedStatus is the cause of an ExecutionError for a non-2xx
// response. The status code is carried on the error itself.
var ErrUnexpectedStatus = errors.New("unexpected status")

type liveClient struct {
	log        logrus.FieldLogger
	cfg        *config.AutomationConfig
	httpClient *http.Client
}

// Ensure interface compliance.
var _ Client = (*liveClient)(nil)

// NewLiveClient creates a client that calls the external automation
// service over HTTP.
func NewLiveClient(
	log logrus.FieldLogger,
	cfg *config.AutomationConfig,
) Client {
	return &liveClient{
		log:        log.WithField("component", "automation-live"),
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

func (c *liveClient) Mode() string {
	return "live"
}

type executeRequest struct {
	AutomationID string         `json:"automation_id"`
	Inputs       map[string]any `json:"inputs"`
}

// Execute posts the automation id and inputs to the configured endpoint.
// A missing api key fails before any request is made.
func (c *liveClient) Execute(
	ctx context.Context,
	externalID string,
	inputs map[string]any,
	timeout time.Duration,
) (*Result, error) {
	if c.cfg.APIKey == "" {
		return nil, &ConfigurationError{Err: ErrMissingCredential}
	}

	if inputs == nil {
		inputs = map[string]any{}
	}

	body, err := json.Marshal(executeRequest{
		AutomationID: externalID,
		Inputs:       inputs,
	})
	if err != nil {
		return nil, &ExecutionError{
			Err: fmt.Errorf("encoding request: %w", err),
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.EndpointPath

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, bytes.NewReader(body),
	)
	if err != nil {
		return nil, &ExecutionError{
			Err: fmt.Errorf("creating request: %w", err),
		}
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	c.log.WithFields(logrus.Fields{
		"automation_id": externalID,
		"url":           url,
		"timeout":       timeout,
	}).Debug("Calling automation service")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ExecutionError{
			Err: fmt.Errorf("sending request: %w", err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExecutionError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("reading response: %w", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ExecutionError{
			StatusCode: resp.StatusCode,
			Body:       errorSnippet(respBody),
			Err:        ErrUnexpectedStatus,
		}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &ExecutionError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decoding response: %w", err),
		}
	}

	if err := json.Unmarshal(respBody, &result.Raw); err != nil {
		return nil, &ExecutionError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decoding response: %w", err),
		}
	}

	return &result, nil
}

// errorSnippet returns at most maxErrorBody bytes of body as valid UTF-8.
// A rune split by the cut is dropped.
func errorSnippet(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	return strings.TrimSpace(strings.ToValidUTF8(string(body), ""))
}
