package presentation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatScore renders a score with one decimal, e.g. "91.4"
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 1, 64)
}

// FormatProcessingTime renders seconds as "420ms" below one second, "1.25s" above
func FormatProcessingTime(seconds float64) string {
	if seconds < 1 {
		return fmt.Sprintf("%.0fms", seconds*1000)
	}
	return fmt.Sprintf("%.2fs", seconds)
}

// FormatFileSize renders a byte count in binary units
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatConfidence renders a [0,1] confidence as a whole percentage
func FormatConfidence(confidence float64) string {
	return fmt.Sprintf("%.0f%%", confidence*100)
}

// FormatRelativeTime describes t relative to now. Anything older than a week is
// shown as a date.
func FormatRelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < 7*24*time.Hour:
		return humanize.RelTime(t, now, "ago", "from now")
	default:
		return t.Format("2006-01-02")
	}
}

// AxisLabel turns an axis type such as "main_diagonal" into "Main Diagonal"
func AxisLabel(axis string) string {
	words := strings.Fields(strings.ReplaceAll(axis, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
