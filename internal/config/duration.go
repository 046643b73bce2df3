package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration parses one of the config's duration knobs ("30s", "5m").
// Knobs are plain strings so the file stays readable; they are parsed once at
// load/validate time. A blank value means the knob was omitted and resolves
// to def, as does an explicit zero. Negative values are rejected.
func ParseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}
