package scheduler

import (
	"fmt"
	"strings"
	"time"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
)

// Schedule fires at fixed interval boundaries aligned to UTC
type Schedule struct {
	Interval time.Duration
}

var presets = map[string]time.Duration{
	"@hourly": time.Hour,
	"@daily":  24 * time.Hour,
	"@weekly": 7 * 24 * time.Hour,
}

// ParseSchedule accepts @hourly, @daily, @weekly or a Go duration such as "30m"
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))
	if d, ok := presets[expr]; ok {
		return Schedule{Interval: d}, nil
	}

	d, err := time.ParseDuration(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: schedule %q: %v", errors.ErrConfigInvalid, expr, err)
	}
	if d < time.Second {
		return Schedule{}, fmt.Errorf("%w: schedule %q is shorter than one second", errors.ErrConfigInvalid, expr)
	}
	return Schedule{Interval: d}, nil
}

// Next returns the first boundary strictly after t. Weekly boundaries fall
// on Monday 00:00 UTC.
func (s Schedule) Next(t time.Time) time.Time {
	return t.UTC().Truncate(s.Interval).Add(s.Interval)
}

// LogicalDate is the start of the interval that closes at boundary
func (s Schedule) LogicalDate(boundary time.Time) time.Time {
	return boundary.Add(-s.Interval)
}

func (s Schedule) String() string {
	for name, d := range presets {
		if d == s.Interval {
			return name
		}
	}
	return s.Interval.String()
}
