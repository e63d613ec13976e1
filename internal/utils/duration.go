package utils

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrBadDuration = errors.New("durations look like 30m, 2h, 1d12h, 1w or permanent")

var durationUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseDuration reads compact durations such as "90m" or "1w2d". It returns
// zero for "permanent".
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "permanent", "perm", "forever":
		return 0, nil
	case "":
		return 0, ErrBadDuration
	}

	var total time.Duration
	for len(raw) > 0 {
		i := 0
		for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
			i++
		}
		if i == 0 || i == len(raw) {
			return 0, ErrBadDuration
		}
		n, err := strconv.Atoi(raw[:i])
		if err != nil {
			return 0, ErrBadDuration
		}
		unit, ok := durationUnits[raw[i]]
		if !ok {
			return 0, ErrBadDuration
		}
		if int64(n) > math.MaxInt64/int64(unit) {
			return 0, ErrBadDuration
		}
		term := time.Duration(n) * unit
		if total > math.MaxInt64-term {
			return 0, ErrBadDuration
		}
		total += term
		raw = raw[i+1:]
	}
	if total <= 0 {
		return 0, ErrBadDuration
	}
	return total, nil
}
