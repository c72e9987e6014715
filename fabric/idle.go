package fabric

import (
	"regexp"
	"strings"
	"time"
)

// captureLines is how much scrollback the judge looks at per refresh.
const captureLines = 1200

// tailLines is the window at the bottom of the capture that readiness is
// judged from.
const tailLines = 30

// IdleJudge classifies a pane as idle or busy from its recent buffer using
// the profile's regexes plus a quiet-interval heuristic. Judgment is fuzzy
// on purpose; the profiles tune it per CLI.
type IdleJudge struct {
	promptRe *regexp.Regexp
	busyRes  []*regexp.Regexp
	quiet    time.Duration
	clock    Clock

	lastSnapshot string
	lastChange   time.Time
}

// NewIdleJudge compiles the profile's regexes. Invalid patterns are skipped;
// an unusable prompt regex just downgrades judgment to quiet-only.
func NewIdleJudge(profile Profile, clock Clock) *IdleJudge {
	j := &IdleJudge{clock: clock, quiet: time.Duration(profile.idleQuietSeconds() * float64(time.Second))}
	if profile.PromptRegex != "" {
		if re, err := regexp.Compile("(?i)" + profile.PromptRegex); err == nil {
			j.promptRe = re
		}
	}
	for _, p := range profile.BusyRegexes {
		if re, err := regexp.Compile("(?i)" + p); err == nil {
			j.busyRes = append(j.busyRes, re)
		}
	}
	return j
}

// Refresh captures the pane and reports (idle, reason). Reasons:
// busy_regex, prompt+quiet, prompt-but-noisy, quiet-only, changing.
func (j *IdleJudge) Refresh(driver PaneDriver, pane string) (bool, string) {
	text := driver.Capture(pane, captureLines)
	now := j.clock.Now()
	if text != j.lastSnapshot {
		j.lastSnapshot = text
		j.lastChange = now
	}

	lines := strings.Split(text, "\n")
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	tail := strings.Join(lines, "\n")

	for _, re := range j.busyRes {
		if re.MatchString(tail) {
			return false, "busy_regex"
		}
	}

	quietFor := now.Sub(j.lastChange)
	if j.promptRe != nil && j.promptRe.MatchString(tail) {
		if quietFor >= j.quiet {
			return true, "prompt+quiet"
		}
		return false, "prompt-but-noisy"
	}

	if quietFor >= j.quiet {
		return true, "quiet-only"
	}
	return false, "changing"
}
