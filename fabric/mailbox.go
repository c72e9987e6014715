package fabric

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// messageFiles are the per-peer runtime message files created empty on init.
var messageFiles = []string{"to_user.md", "to_peer.md", "inbox.md"}

// SHA256Text hashes trimmed mailbox text for change detection and sentinels.
func SHA256Text(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EnsureMailbox creates the mailbox tree for both peers plus the foreman
// sink. Idempotent: existing files are left alone.
func EnsureMailbox(home string) error {
	for _, label := range Peers {
		d := PeerDir(home, label)
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating mailbox dir: %w", err)
		}
		for _, fname := range messageFiles {
			if err := touchFile(filepath.Join(d, fname)); err != nil {
				return err
			}
		}
		if err := os.MkdirAll(InboxDir(home, label), 0755); err != nil {
			return err
		}
		if err := os.MkdirAll(ProcessedDir(home, label), 0755); err != nil {
			return err
		}
	}
	// Keep the mailbox out of version control.
	gi := filepath.Join(MailboxDir(home), ".gitignore")
	if _, err := os.Stat(gi); os.IsNotExist(err) {
		if err := os.WriteFile(gi, []byte("*\n!/.gitignore\n"), 0644); err != nil {
			return err
		}
	}
	// Foreman mailbox: a single to_peer.md sink.
	fdir := PeerDir(home, Foreman)
	if err := os.MkdirAll(fdir, 0755); err != nil {
		return err
	}
	return touchFile(filepath.Join(fdir, "to_peer.md"))
}

// ResetMailbox truncates the message files of both peers, empties their
// sequenced inboxes, and deletes the seen-index so nothing stale replays at
// startup. processed/ is kept for audit.
func ResetMailbox(home string) error {
	if err := EnsureMailbox(home); err != nil {
		return err
	}
	for _, label := range Peers {
		d := PeerDir(home, label)
		for _, fname := range messageFiles {
			if err := os.WriteFile(filepath.Join(d, fname), nil, 0644); err != nil {
				return err
			}
		}
		entries, err := os.ReadDir(InboxDir(home, label))
		if err != nil {
			continue
		}
		for _, e := range entries {
			_ = os.Remove(filepath.Join(InboxDir(home, label), e.Name()))
		}
	}
	err := os.Remove(SeenIndexPath(home))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadIfChanged reads one mailbox file robustly and detects content changes.
// Empty, whitespace-only, and sentinel content is no event. A lossy decode
// that produces a new hash is reported through diag for ledger recording.
func ReadIfChanged(path, lastSHA string, diag func(entry map[string]any)) (changed bool, text, sha string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, "", lastSHA
	}
	res := DecodeMailbox(raw)
	trimmed := strings.TrimSpace(res.Text)
	if trimmed == "" || IsSentinelText(trimmed) {
		return false, "", lastSHA
	}
	sum := SHA256Text(trimmed)
	suspect := res.Lossy || strings.HasPrefix(res.Encoding, "latin1") ||
		strings.HasPrefix(res.Encoding, "gb") || strings.Contains(res.Encoding, "ignore")
	if suspect && sum != lastSHA && diag != nil {
		prefix := raw
		if len(prefix) > 24 {
			prefix = prefix[:24]
		}
		nulRatio := 0.0
		if len(raw) > 0 {
			nulRatio = float64(countByte(raw, 0)) / float64(len(raw))
		}
		diag(map[string]any{
			"kind": "mailbox-diag", "file": path, "encoding": res.Encoding,
			"bytes": len(raw), "prefix_hex": hex.EncodeToString(prefix),
			"nul_ratio": roundTo(nulRatio, 4),
		})
	}
	if sum != lastSHA {
		return true, trimmed, sum
	}
	return false, "", lastSHA
}

// PeerEvents holds fresh message content found for one peer in a scan pass.
type PeerEvents struct {
	ToUser string
	ToPeer string
}

// ScanMailboxes returns new non-sentinel content per peer, updating the
// seen-index for every change it reports.
func ScanMailboxes(home string, idx *SeenIndex, ledger *Ledger) map[string]PeerEvents {
	_ = EnsureMailbox(home)
	diag := func(entry map[string]any) {
		if ledger != nil {
			ledger.Append(entry)
		}
	}
	events := map[string]PeerEvents{}
	for _, label := range Peers {
		var ev PeerEvents
		if changed, text, sha := ReadIfChanged(ToUserPath(home, label), idx.SeenHash(label, "to_user.md"), diag); changed {
			ev.ToUser = text
			idx.UpdateHash(label, "to_user.md", sha)
		}
		if changed, text, sha := ReadIfChanged(ToPeerPath(home, label), idx.SeenHash(label, "to_peer.md"), diag); changed {
			ev.ToPeer = text
			idx.UpdateHash(label, "to_peer.md", sha)
		}
		events[label] = ev
	}
	return events
}

// WriteSentinel overwrites a mailbox message file with a SENT marker.
// Best-effort: the message is already on its way, a failed overwrite only
// risks a duplicate scan which the seen-index absorbs.
func WriteSentinel(path string, s Sentinel) {
	_ = os.WriteFile(path, []byte(s.String()), 0644)
}

func touchFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

func countByte(b []byte, c byte) int {
	n := 0
	for _, x := range b {
		if x == c {
			n++
		}
	}
	return n
}

func roundTo(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	return float64(int64(v*p+0.5)) / p
}
