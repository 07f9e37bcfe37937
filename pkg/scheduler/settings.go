package scheduler

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron expressions and descriptors
// such as @hourly and @every 30s.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// RunSettings are the scheduling keys read from a scenario's run_settings.
// Unknown keys are ignored.
type RunSettings struct {
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	Schedule        string `mapstructure:"schedule"`
	Enabled         *bool  `mapstructure:"enabled"`
}

// ParseRunSettings decodes run_settings, accepting loosely typed values
// such as "60" for an integer.
func ParseRunSettings(raw map[string]any) (RunSettings, error) {
	var rs RunSettings
	if len(raw) == 0 {
		return rs, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &rs,
	})
	if err != nil {
		return rs, fmt.Errorf("creating decoder: %w", err)
	}

	if err := dec.Decode(raw); err != nil {
		return rs, fmt.Errorf("decoding run_settings: %w", err)
	}

	return rs, nil
}

// Spec returns the cron spec for the settings. ok is false when the
// scenario is not scheduled. An explicit schedule wins over an interval.
func (rs RunSettings) Spec() (spec string, ok bool, err error) {
	if rs.Enabled != nil && !*rs.Enabled {
		return "", false, nil
	}

	switch {
	case rs.Schedule != "":
		spec = rs.Schedule
	case rs.IntervalSeconds > 0:
		spec = fmt.Sprintf("@every %ds", rs.IntervalSeconds)
	case rs.IntervalSeconds < 0:
		return "", false, fmt.Errorf("interval_seconds must be positive, got %d", rs.IntervalSeconds)
	default:
		return "", false, nil
	}

	if _, err := cronParser.Parse(spec); err != nil {
		return "", false, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	return spec, true, nil
}
