package store

import (
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run status constants. A run moves pending -> running -> completed|failed.
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// JSONMap is a free-form JSON object column.
type JSONMap map[string]any

// Automation is a reusable external execution target.
type Automation struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"size:255;not null;index" json:"name"`
	ExternalID    string    `gorm:"column:tinyfish_automation_id;size:255;not null" json:"tinyfish_automation_id"`
	Description   *string   `gorm:"type:text" json:"description"`
	DefaultInputs JSONMap   `gorm:"type:text;serializer:json" json:"default_inputs"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Scenario is a named benchmark configuration bound to one automation.
type Scenario struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"size:255;not null;index" json:"name"`
	AutomationID   uint      `gorm:"not null;index" json:"automation_id"`
	Description    *string   `gorm:"type:text" json:"description"`
	InputsTemplate JSONMap   `gorm:"type:text;serializer:json" json:"inputs_template"`
	RunSettings    JSONMap   `gorm:"type:text;serializer:json" json:"run_settings"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Run is one timed execution attempt of a scenario.
type Run struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ScenarioID      uint       `gorm:"not null;index" json:"scenario_id"`
	Status          RunStatus  `gorm:"size:50;not null;default:pending;index" json:"status"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	TotalDurationMs *float64   `json:"total_duration_ms"`

	// Streaming metrics, populated only when the service reports them.
	TTFTMs          *float64 `gorm:"column:ttft_ms" json:"ttft_ms"`
	InterTokenStats JSONMap  `gorm:"type:text;serializer:json" json:"inter_token_stats"`

	Error           *string   `gorm:"type:text" json:"error"`
	ExternalRunID   *string   `gorm:"column:tinyfish_run_id;size:255" json:"tinyfish_run_id"`
	ResponsePayload JSONMap   `gorm:"column:response_json;type:text;serializer:json" json:"response_json"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// RunFilter narrows run queries. Zero values match everything.
type RunFilter struct {
	ScenarioID uint
	Status     RunStatus
}

// Page is an offset/limit window. A zero Limit means no limit.
type Page struct {
	Offset int
	Limit  int
}
