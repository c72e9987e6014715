package fabric

import (
	"regexp"
	"strings"
)

// ansiRe matches SGR sequences and the broader CSI family tmux leaves in
// captured output.
var ansiRe = regexp.MustCompile(`\x1b\[.*?m|\x1b\[?[\d;]*[A-Za-z]`)

// StripANSI removes escape sequences from captured pane text.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

// PTY fallback helpers. When a peer CLI is hosted directly under a PTY
// adapter instead of tmux, its TUI probes the terminal and expects answers;
// the mirrored output also carries screen-management noise that makes logs
// unreadable. These are pure transforms over the byte stream.

var (
	dsrRe       = regexp.MustCompile(`\x1b\[6n`)
	altScreenRe = regexp.MustCompile(`\x1b\[\?(?:1049|1047|47)[hl]`)
	cursorRe    = regexp.MustCompile(`\x1b\[\d*(?:;\d*)?[HfABCDGd]`)
	sgrRe       = regexp.MustCompile(`\x1b\[([\d;]*)m`)
)

// AnswerDSR returns one cursor-position report per DSR query in the chunk,
// so a TUI waiting on ESC[6n does not block. The reported position is always
// row 1, column 1.
func AnswerDSR(chunk []byte) []byte {
	n := len(dsrRe.FindAll(chunk, -1))
	if n == 0 {
		return nil
	}
	return []byte(strings.Repeat("\x1b[1;1R", n))
}

// ScrubMirror strips alt-screen toggles and cursor-positioning sequences
// from mirrored PTY output for log readability.
func ScrubMirror(s string) string {
	s = altScreenRe.ReplaceAllString(s, "")
	s = dsrRe.ReplaceAllString(s, "")
	return cursorRe.ReplaceAllString(s, "")
}

// NormalizeSGR rewrites style sequences for plain mirrors: "dim" is dropped
// and "bright black" (90) becomes white (37), which otherwise renders
// invisible on dark backgrounds.
func NormalizeSGR(s string) string {
	return sgrRe.ReplaceAllStringFunc(s, func(seq string) string {
		params := sgrRe.FindStringSubmatch(seq)[1]
		if params == "" {
			return seq
		}
		var kept []string
		for _, p := range strings.Split(params, ";") {
			switch p {
			case "2":
				continue
			case "90":
				p = "37"
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			return ""
		}
		return "\x1b[" + strings.Join(kept, ";") + "m"
	})
}
