package judge

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	markerApproved = "Approved"
	markerRejected = "Rejected"
)

var percentilePattern = regexp.MustCompile(`Percentile:\s*(-?\d+)`)

// parseVerdict checks raw against the output format. On failure the
// returned reason is non-empty.
func parseVerdict(raw string) (approved bool, score int, reason string) {
	text := strings.TrimSpace(raw)
	switch {
	case text == "":
		return false, 0, "empty output"
	case strings.HasPrefix(text, markerRejected):
		return false, 0, ""
	case !strings.HasPrefix(text, markerApproved):
		return false, 0, "output starts with neither Approved nor Rejected"
	}

	m := percentilePattern.FindStringSubmatch(text)
	if m == nil {
		return false, 0, "approved output has no Percentile field"
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return false, 0, "percentile is not an integer"
	}
	if n < 0 || n > 100 {
		return false, 0, "percentile " + m[1] + " outside [0,100]"
	}
	return true, n, ""
}

// parseQuickVerdict accepts the same markers; anything after the rejection
// marker is the reason.
func parseQuickVerdict(raw string) (approved bool, rejectionReason, reason string) {
	text := strings.TrimSpace(raw)
	switch {
	case text == "":
		return false, "", "empty output"
	case strings.HasPrefix(text, markerApproved):
		return true, "", ""
	case strings.HasPrefix(text, markerRejected):
		rest := strings.TrimPrefix(text, markerRejected)
		return false, strings.TrimSpace(strings.TrimLeft(rest, ".:-– ")), ""
	}
	return false, "", "output starts with neither Approved nor Rejected"
}
