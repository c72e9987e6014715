package fabric

import (
	"os"
	"regexp"
	"strings"
	"time"
)

// Event lines peers embed in their handoffs. "Progress:" arms the keepalive
// scheduler; "Next:" carries the continuation hint echoed back in nudges.
var (
	progressRe = regexp.MustCompile(`(?mi)^\s*(?:[-*]\s*)?Progress\s*(?:\(|:)\s*`)
	nextRe     = regexp.MustCompile(`(?mi)^\s*(?:[-*]\s*)?Next\s*(?:\(|:)\s*(.+)$`)
	toPeerBody = regexp.MustCompile(`(?i)<\s*TO_PEER\s*>([\s\S]*?)<\s*/TO_PEER\s*>`)
	toUserBody = regexp.MustCompile(`(?i)<\s*TO_USER\s*>([\s\S]*?)<\s*/TO_USER\s*>`)
)

// ExtractBody returns the content inside a TO_PEER tag, falling back to
// TO_USER (single-peer mode) and then to the raw payload.
func ExtractBody(payload string) string {
	if m := toPeerBody.FindStringSubmatch(payload); m != nil {
		return m[1]
	}
	if m := toUserBody.FindStringSubmatch(payload); m != nil {
		return m[1]
	}
	return payload
}

// HasProgressEvent reports whether the payload body declares Progress.
func HasProgressEvent(payload string) bool {
	return progressRe.MatchString(ExtractBody(payload))
}

// ExtractNext returns the first Next: hint in the payload body, or "".
func ExtractNext(payload string) string {
	m := nextRe.FindStringSubmatch(ExtractBody(payload))
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// LedgerEventsFromPayload records the structured event lines a handoff
// carries so the audit trail shows the declared plan, not just traffic.
func LedgerEventsFromPayload(ledger *Ledger, from, payload string) {
	body := ExtractBody(payload)
	if progressRe.MatchString(body) {
		ledger.Append(map[string]any{"from": from, "kind": "event-progress"})
	}
	if nxt := ExtractNext(payload); nxt != "" {
		ledger.Append(map[string]any{"from": from, "kind": "event-next", "next": nxt})
	}
}

// ComposeNudge builds the short pane message pointing a peer at its inbox.
func ComposeNudge(inboxPath, ts string, newArrival bool, backlog bool, seq, preview, suffix string) string {
	parts := []string{"[NUDGE]", "[TS: " + ts + "]"}
	if newArrival && seq != "" {
		parts = append(parts, "[new arrival: "+seq+"]")
	}
	var trailing []string
	if seq != "" {
		trailing = append(trailing, "trigger="+seq)
	}
	if preview != "" {
		trailing = append(trailing, "preview='"+preview+"'")
	}
	var action string
	if newArrival || backlog {
		processedPath := strings.Replace(inboxPath, "/inbox", "/processed", 1)
		action = "open oldest first, process oldest→newest. Move processed files to " + processedPath + "."
	} else {
		action = "continue your work; open oldest→newest."
	}
	msg := strings.Join(parts, " ")
	if len(trailing) > 0 {
		msg += " — " + strings.Join(trailing, " ")
	}
	msg += " — Inbox: " + inboxPath + " — " + action
	if s := strings.TrimSpace(suffix); s != "" {
		msg += " " + s
	}
	return msg
}

// ComposeDetailedNudge is the new-arrival variant used right after an inbox
// write.
func ComposeDetailedNudge(inboxPath, seq, preview string, now time.Time) string {
	return ComposeNudge(inboxPath, FormatLocalTS(now), true, false, seq, preview, "")
}

// controlCharRe matches bytes that would mangle a one-line preview.
var (
	controlCharRe = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f]")
	zeroWidthRe   = regexp.MustCompile(`[\x{200b}\x{200c}\x{200d}\x{feff}]`)
)

// SafeHeadline extracts a short printable first line of an inbox file for
// nudge previews. Wrapper tags, code fences, and MID/TS lines are skipped.
func SafeHeadline(path string, maxChars int) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "[unreadable-or-binary]"
	}
	if len(raw) > 4096 {
		raw = raw[:4096]
	}
	text := strings.ToValidUTF8(string(raw), " ")
	head := ""
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.HasPrefix(ln, "```") ||
			strings.HasPrefix(ln, "[MID:") || strings.HasPrefix(ln, "[TS:") {
			continue
		}
		if strings.HasPrefix(ln, "<") && strings.HasSuffix(ln, ">") {
			continue
		}
		head = ln
		break
	}
	if head == "" {
		return "[unreadable-or-binary]"
	}
	head = controlCharRe.ReplaceAllString(head, " ")
	head = zeroWidthRe.ReplaceAllString(head, "")
	head = whitespaceRe.ReplaceAllString(head, " ")
	head = strings.TrimSpace(head)
	if runes := []rune(head); len(runes) > maxChars {
		return strings.TrimSpace(string(runes[:maxChars])) + " …"
	}
	return head
}
