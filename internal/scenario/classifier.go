// Package scenario drives individual test scenarios to terminal outcomes
// through the agent bridge, classifying ambiguous output and retrying
// within a bounded attempt budget.
package scenario

import (
	"strings"

	"agentplane/internal/store"
)

// Verdict is the classification of one reported scenario result.
type Verdict int

const (
	// VerdictPass is a genuine terminal pass.
	VerdictPass Verdict = iota

	// VerdictInterim marks ambiguous or placeholder output. Interim
	// failures are retried while attempts remain.
	VerdictInterim

	// VerdictHardFailure is a genuine terminal failure, never retried.
	VerdictHardFailure
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictInterim:
		return "interim"
	case VerdictHardFailure:
		return "hard_failure"
	}
	return "unknown"
}

// Placeholder phrasings agents emit when they skipped or deferred a
// scenario instead of executing it.
var placeholderSignals = []string{
	"queued behind",
	"pending",
	"not attempted",
	"n/a",
	"placeholder",
	"to be determined",
}

// Soft-progress language: the agent was still working when it answered.
var softProgressSignals = []string{
	"in progress",
	"still validating",
	"still running",
	"trying to",
	"waiting",
	"will verify",
}

// Hard-failure signals. Concrete failure evidence always wins over
// soft-progress language: "test timed out waiting for response" is a real
// failure, not interim output.
var hardFailureSignals = []string{
	"assertion",
	"assert",
	"exception",
	"timed out",
	"timeout",
	"expected",
	"actual",
	"traceback",
	"stack trace",
	"panic:",
	"unauthorized",
	"permission denied",
	"exit code",
	"error:",
}

// Classify judges one reported run item. A passed status is always
// terminal. A failed status is interim when its observed text is empty or
// matches placeholder/soft-progress phrasing without any hard-failure
// signal; everything else is a genuine terminal failure.
func Classify(status store.RunStatus, observed string) Verdict {
	if status == store.RunStatusPassed {
		return VerdictPass
	}

	text := strings.ToLower(strings.TrimSpace(observed))
	if text == "" {
		return VerdictInterim
	}

	if containsAny(text, hardFailureSignals) {
		return VerdictHardFailure
	}
	if containsAny(text, placeholderSignals) || containsAny(text, softProgressSignals) {
		return VerdictInterim
	}
	return VerdictHardFailure
}

func containsAny(text string, signals []string) bool {
	for _, s := range signals {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}
