package fabric

import (
	"fmt"
	"strings"
)

// SentinelPrefix opens the single-line comment written back into a mailbox
// message file after its content has been queued or forwarded.
const SentinelPrefix = "<!-- MAILBOX:SENT v1"

// Sentinel carries the fields of a MAILBOX:SENT marker.
type Sentinel struct {
	TS    string
	EID   string
	SHA8  string
	Route string
}

// IsSentinelText reports whether the whole file content is a SENT sentinel.
// The fixed prefix is required to avoid false positives on ordinary comments.
func IsSentinelText(text string) bool {
	s := strings.TrimSpace(text)
	if s == "" {
		return false
	}
	return strings.HasPrefix(s, SentinelPrefix) && strings.HasSuffix(s, "-->") &&
		!strings.Contains(s, "\n")
}

// String renders the sentinel as the exact single line stored on disk, e.g.
// <!-- MAILBOX:SENT v1 ts=2025-10-17T06:15:22Z eid=a1b2c3d4 sha=7c45dead route=PeerB→PeerA -->
func (s Sentinel) String() string {
	return fmt.Sprintf("%s ts=%s eid=%s sha=%s route=%s -->",
		SentinelPrefix, s.TS, s.EID, s.SHA8, s.Route)
}

// ParseSentinel extracts the fields of a sentinel line. Returns false when
// the text is not a sentinel.
func ParseSentinel(text string) (Sentinel, bool) {
	if !IsSentinelText(text) {
		return Sentinel{}, false
	}
	s := strings.TrimSpace(text)
	body := strings.TrimSuffix(strings.TrimPrefix(s, SentinelPrefix), "-->")
	out := Sentinel{}
	for _, part := range strings.Fields(body) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			out.TS = v
		case "eid":
			out.EID = v
		case "sha":
			out.SHA8 = v
		case "route":
			out.Route = v
		}
	}
	return out, true
}
