package server

import (
	"fmt"
	"strings"
	"time"
)

// humanDuration renders a duration as its two most significant units,
// e.g. "2 hours and 13 minutes" or "45 seconds".
func humanDuration(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	total := int64(d.Seconds())

	units := []struct {
		name string
		secs int64
	}{
		{"day", 86400},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}

	var parts []string
	for _, u := range units {
		if n := total / u.secs; n > 0 {
			label := u.name
			if n != 1 {
				label += "s"
			}
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
			total -= n * u.secs
		}
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 0 {
		return "1 second"
	}
	return strings.Join(parts, " and ")
}
