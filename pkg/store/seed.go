package store

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Fixtures describes automations and scenarios to seed.
type Fixtures struct {
	Automations []AutomationFixture `yaml:"automations"`
}

// AutomationFixture is a seeded automation with its scenarios.
type AutomationFixture struct {
	Name          string            `yaml:"name"`
	ExternalID    string            `yaml:"tinyfish_automation_id"`
	Description   string            `yaml:"description,omitempty"`
	DefaultInputs map[string]any    `yaml:"default_inputs,omitempty"`
	Scenarios     []ScenarioFixture `yaml:"scenarios,omitempty"`
}

// ScenarioFixture is a seeded scenario.
type ScenarioFixture struct {
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description,omitempty"`
	InputsTemplate map[string]any `yaml:"inputs_template,omitempty"`
	RunSettings    map[string]any `yaml:"run_settings,omitempty"`
}

// LoadFixtures reads a YAML fixtures file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures file: %w", err)
	}

	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixtures file: %w", err)
	}

	for i, a := range f.Automations {
		if a.Name == "" || a.ExternalID == "" {
			return nil, fmt.Errorf(
				"automation %d: name and tinyfish_automation_id are required", i,
			)
		}

		for j, sc := range a.Scenarios {
			if sc.Name == "" {
				return nil, fmt.Errorf(
					"automation %q scenario %d: name is required", a.Name, j,
				)
			}
		}
	}

	return &f, nil
}

// Seed upserts fixture automations and scenarios keyed by name. Existing
// records keep their ids; their attributes are replaced by the fixture.
func (s *store) Seed(ctx context.Context, fixtures *Fixtures) error {
	var scenarioCount int

	for _, af := range fixtures.Automations {
		automation := Automation{
			Name:          af.Name,
			ExternalID:    af.ExternalID,
			Description:   optionalString(af.Description),
			DefaultInputs: JSONMap(af.DefaultInputs),
		}

		if err := s.db.WithContext(ctx).
			Where("name = ?", af.Name).
			Assign(automation).
			FirstOrCreate(&automation).Error; err != nil {
			return fmt.Errorf("seeding automation %q: %w", af.Name, err)
		}

		for _, sf := range af.Scenarios {
			scenario := Scenario{
				Name:           sf.Name,
				AutomationID:   automation.ID,
				Description:    optionalString(sf.Description),
				InputsTemplate: JSONMap(sf.InputsTemplate),
				RunSettings:    JSONMap(sf.RunSettings),
			}

			if err := s.db.WithContext(ctx).
				Where("name = ? AND automation_id = ?", sf.Name, automation.ID).
				Assign(scenario).
				FirstOrCreate(&scenario).Error; err != nil {
				return fmt.Errorf("seeding scenario %q: %w", sf.Name, err)
			}

			scenarioCount++
		}
	}

	s.log.WithFields(logrus.Fields{
		"automations": len(fixtures.Automations),
		"scenarios":   scenarioCount,
	}).Info("Seeded fixtures")

	return nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}

	return &v
}
