package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var intervalUnits = map[byte]time.Duration{
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseInterval 把 K 线周期（"15m"、"4H"、"1d"、"1w"）转成调度间隔。
func ParseInterval(interval string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(interval))
	if len(s) < 2 {
		return 0, fmt.Errorf("interval %q too short", interval)
	}
	unit, ok := intervalUnits[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("interval %q: unknown unit %q", interval, s[len(s)-1:])
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("interval %q: count must be a positive integer", interval)
	}
	return time.Duration(n) * unit, nil
}
