package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Durations surface as millisecond counts in the HTTP API and audit
// journal, so config durations share that resolution.
const (
	durationResolution = time.Millisecond
	maxDurationMS      = math.MaxInt64 / int64(durationResolution)
)

// ParseDurationField reads a duration config value. It accepts a Go
// duration string ("1500ms", "2m") or a bare integer taken as
// milliseconds, the unit the console's ttl_ms fields use. Empty means 0.
// Negative values and non-zero values finer than a millisecond are
// rejected. path names the config key in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("%s: duration must be >= 0", path)
		}
		if ms > maxDurationMS {
			return 0, fmt.Errorf("%s: %d ms exceeds the maximum of %d", path, ms, maxDurationMS)
		}
		return time.Duration(ms) * durationResolution, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d > 0 && d%durationResolution != 0:
		return 0, fmt.Errorf("%s: %s is finer than %s", path, d, durationResolution)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted when
// the value is absent or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
