package fabric

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// midLineRe matches an injected MID marker line anywhere in a payload.
var midLineRe = regexp.MustCompile(`(?i)\[\s*MID\s*:\s*([A-Za-z0-9\-._:]+)\s*\]`)

// openTagRe matches the wrapper tags a MID may be injected after.
var openTagRe = regexp.MustCompile(`(?i)<\s*(TO_PEER|FROM_USER|FROM_PeerA|FROM_PeerB|FROM_SYSTEM)\s*>`)

var (
	anyTagRe     = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NewMID mints a delivery correlation token: cccc-<unix>-<6hex>.
func NewMID(clock Clock) string {
	return fmt.Sprintf("cccc-%d-%s", clock.Now().Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

// WrapWithMID inserts "[MID: <mid>]" on its own line directly after the
// first recognized opening tag, or prefixes the payload when no tag is
// present. Idempotent: a payload that already carries a MID marker is
// returned unchanged so double wrapping cannot stack markers.
func WrapWithMID(payload, mid string) string {
	if midLineRe.MatchString(payload) {
		return payload
	}
	marker := "[MID: " + mid + "]"
	if loc := openTagRe.FindStringIndex(payload); loc != nil {
		rest := payload[loc[1]:]
		if !strings.HasPrefix(rest, "\n") {
			rest = "\n" + rest
		}
		return payload[:loc[1]] + "\n" + marker + rest
	}
	return marker + "\n" + payload
}

// ExtractMID returns the first MID token found in a payload.
func ExtractMID(payload string) string {
	m := midLineRe.FindStringSubmatch(payload)
	if m == nil {
		return ""
	}
	return m[1]
}

// InjectTSAfterMID inserts a "[TS: …]" line immediately after the MID line,
// or prefixes it when the payload has no MID. A payload that already has a
// TS line is returned unchanged.
func InjectTSAfterMID(payload string, now time.Time) string {
	if strings.Contains(payload, "[TS:") {
		return payload
	}
	tsLine := "[TS: " + FormatLocalTS(now) + "]"
	lines := strings.Split(payload, "\n")
	for i, ln := range lines {
		if strings.HasPrefix(strings.TrimSpace(ln), "[MID:") {
			rest := append([]string{tsLine}, lines[i+1:]...)
			return strings.Join(append(append([]string{}, lines[:i+1]...), rest...), "\n")
		}
	}
	return tsLine + "\n" + payload
}

// PlainTextWithoutTagsAndMID flattens a payload to bare prose for previews:
// MID markers, wrapper tags, and whitespace runs collapse to single spaces.
func PlainTextWithoutTagsAndMID(s string) string {
	s = midLineRe.ReplaceAllString(s, " ")
	s = anyTagRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
