package fabric

import "time"

// FilterState carries the mutable inputs of the low-signal filter: the
// runtime override switch (/anti-on|off) and per-direction forwarding
// history for cooldown and duplicate suppression.
type FilterState struct {
	Override    *bool // nil = follow policy; true/false force on/off
	lastForward map[string]time.Time
	lastSHA     map[string]string
}

// NewFilterState returns empty history.
func NewFilterState() *FilterState {
	return &FilterState{lastForward: map[string]time.Time{}, lastSHA: map[string]string{}}
}

// ShouldForward decides whether a peer-to-peer payload is worth delivering.
// The predicate is deliberately pluggable policy: this default drops
// whitespace-light payloads below min_chars, repeats of the last forwarded
// content, and payloads inside the per-direction cooldown window. Returns
// the decision and a drop reason for the ledger.
func ShouldForward(payload, from, to string, pol ForwardPolicy, st *FilterState, now time.Time) (bool, string) {
	if st.Override != nil {
		if !*st.Override {
			return true, "" // filter forced off: everything forwards
		}
	} else if !pol.enabled() {
		return true, ""
	}

	plain := PlainTextWithoutTagsAndMID(payload)
	if len([]rune(plain)) < pol.minChars() {
		return false, "low-signal"
	}

	dir := from + "→" + to
	sha := SHA256Text(plain)
	if st.lastSHA[dir] == sha {
		return false, "duplicate"
	}
	if pol.CooldownSeconds > 0 {
		if last, ok := st.lastForward[dir]; ok &&
			now.Sub(last) < time.Duration(pol.CooldownSeconds*float64(time.Second)) {
			return false, "cooldown"
		}
	}

	st.lastForward[dir] = now
	st.lastSHA[dir] = sha
	return true, ""
}
