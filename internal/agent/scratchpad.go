package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// scratchpadHeader opens a fresh turn history.
const scratchpadHeader = "Previous action observations:"

var stepNumberRe = regexp.MustCompile(`^\d+`)

// AppendObservation appends observation to the step-numbered turn history and
// returns the updated text. An empty prev starts a new history at step 1.
//
// A previous history whose last line does not begin with a step number means
// the scratchpad was corrupted by a caller; that is reported as an error, not
// silently repaired.
func AppendObservation(prev, observation string) (string, error) {
	if prev == "" {
		return fmt.Sprintf("%s\n\n1. %s", scratchpadHeader, observation), nil
	}

	lastLine := prev
	if idx := strings.LastIndexByte(prev, '\n'); idx >= 0 {
		lastLine = prev[idx+1:]
	}
	match := stepNumberRe.FindString(lastLine)
	if match == "" {
		return "", fmt.Errorf("scratchpad corrupted: last line %q has no step number", lastLine)
	}
	step, err := strconv.Atoi(match)
	if err != nil {
		return "", fmt.Errorf("scratchpad corrupted: parse step number %q: %w", match, err)
	}

	return fmt.Sprintf("%s\n%d. %s", prev, step+1, observation), nil
}
