package automation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const mockModel = "mock-model-v1"

type mockClient struct {
	log      logrus.FieldLogger
	minDelay time.Duration
	maxDelay time.Duration
}

// Ensure interface compliance.
var _ Client = (*mockClient)(nil)

// NewMockClient creates a client that simulates work by sleeping for a
// uniformly random duration in [minDelay, maxDelay] and always succeeds.
func NewMockClient(
	log logrus.FieldLogger,
	minDelay, maxDelay time.Duration,
) Client {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	return &mockClient{
		log:      log.WithField("component", "automation-mock"),
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (c *mockClient) Mode() string {
	return "mock"
}

// Execute ignores the timeout: the simulated delay is already bounded.
func (c *mockClient) Execute(
	_ context.Context,
	externalID string,
	_ map[string]any,
	_ time.Duration,
) (*Result, error) {
	c.log.WithField("automation_id", externalID).
		Info("Simulating automation run")

	delay := c.minDelay
	if span := c.maxDelay - c.minDelay; span > 0 {
		delay += rand.N(span + 1)
	}

	// Not cut short by cancellation: a mock run never fails.
	time.Sleep(delay)

	return &Result{
		RunID:  "mock_run_" + uuid.NewString(),
		Status: "completed",
		Output: map[string]any{
			"response": fmt.Sprintf(
				"This is a mock response for automation %s", externalID,
			),
			"tokens_generated": 50 + rand.IntN(151),
			"model":            mockModel,
		},
		Metadata: map[string]any{
			"execution_time_ms": 500 + rand.Float64()*1500,
		},
	}, nil
}
