package chat

import (
	"fmt"
	"time"
)

// FormatAgo renders the age of t relative to now, e.g. "3 hours ago".
// Values are truncated, never rounded.
func FormatAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "under 1 minute"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d days ago", int(d/(24*time.Hour)))
	}
}

// Now returns the current UTC time at millisecond precision, the resolution
// every store keeps.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
