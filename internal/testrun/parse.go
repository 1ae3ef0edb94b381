package testrun

import "strings"

// maxErrorLines caps the summary produced by ParseErrors.
const maxErrorLines = 10

// NoSpecificErrors is returned when output has no recognizable error lines.
const NoSpecificErrors = "No specific errors found in test output"

var errorKeywords = []string{"error", "fail", "exception", "traceback"}

// ParseErrors extracts the first lines of output that mention an error.
func ParseErrors(output string) string {
	if output == "" {
		return ""
	}

	var found []string
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range errorKeywords {
			if strings.Contains(lower, kw) {
				found = append(found, line)
				break
			}
		}
		if len(found) == maxErrorLines {
			break
		}
	}
	if len(found) == 0 {
		return NoSpecificErrors
	}
	return strings.Join(found, "\n")
}
