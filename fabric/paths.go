package fabric

import (
	"path/filepath"
	"strings"
)

// Peer labels as they appear in routes, wrappers, and ledger entries.
const (
	PeerA   = "PeerA"
	PeerB   = "PeerB"
	User    = "User"
	System  = "System"
	Foreman = "Foreman"
	Aux     = "Aux"
)

// Peers lists the two real peers in scan order.
var Peers = []string{PeerA, PeerB}

// FolderName maps a peer label to its mailbox directory name.
func FolderName(label string) string {
	if label == PeerB {
		return "peerB"
	}
	if label == Foreman {
		return "foreman"
	}
	return "peerA"
}

// OtherPeer returns the counterpart of a peer label.
func OtherPeer(label string) string {
	if label == PeerA {
		return PeerB
	}
	return PeerA
}

// IsPeer reports whether label names one of the two real peers.
func IsPeer(label string) bool {
	return label == PeerA || label == PeerB
}

// MailboxDir returns the mailbox root under a home directory.
func MailboxDir(home string) string {
	return filepath.Join(home, "mailbox")
}

// PeerDir returns the mailbox directory for a peer label.
func PeerDir(home, label string) string {
	return filepath.Join(MailboxDir(home), FolderName(label))
}

// ToUserPath returns the peer's to_user.md message file.
func ToUserPath(home, label string) string {
	return filepath.Join(PeerDir(home, label), "to_user.md")
}

// ToPeerPath returns the peer's to_peer.md message file.
func ToPeerPath(home, label string) string {
	return filepath.Join(PeerDir(home, label), "to_peer.md")
}

// LegacyInboxPath returns the legacy single-file inbox still tolerated for
// certain bridges. The orchestrator creates and truncates it (ensure/reset)
// but neither reads nor writes messages there.
func LegacyInboxPath(home, label string) string {
	return filepath.Join(PeerDir(home, label), "inbox.md")
}

// InboxDir returns the sequenced inbox directory for a peer.
func InboxDir(home, label string) string {
	return filepath.Join(PeerDir(home, label), "inbox")
}

// ProcessedDir returns the processed directory for a peer.
func ProcessedDir(home, label string) string {
	return filepath.Join(PeerDir(home, label), "processed")
}

// StateDir returns the state directory under a home directory.
func StateDir(home string) string {
	return filepath.Join(home, "state")
}

// SettingsDir returns the settings directory under a home directory.
func SettingsDir(home string) string {
	return filepath.Join(home, "settings")
}

// SeenIndexPath returns the mailbox change-detection index file.
func SeenIndexPath(home string) string {
	return filepath.Join(StateDir(home), "mailbox_seen.json")
}

// LedgerPath returns the internal audit JSONL file.
func LedgerPath(home string) string {
	return filepath.Join(StateDir(home), "ledger.jsonl")
}

// OutboxStreamPath returns the append-only external event stream.
func OutboxStreamPath(home string) string {
	return filepath.Join(StateDir(home), "outbox.jsonl")
}

// OutboxCursorPath returns the durable cursor file for a stream consumer.
func OutboxCursorPath(home, consumer string) string {
	return filepath.Join(StateDir(home), "outbox-cursor-"+consumer+".json")
}

// CommandsPath returns the command ingress JSONL file.
func CommandsPath(home string) string {
	return filepath.Join(StateDir(home), "commands.jsonl")
}

// ScanPath returns the snapshot file holding persisted tail offsets.
func ScanPath(home string) string {
	return filepath.Join(StateDir(home), "scan.json")
}

// StatusPath returns the status snapshot file.
func StatusPath(home string) string {
	return filepath.Join(StateDir(home), "status.json")
}

// QueuePath returns the queue snapshot file.
func QueuePath(home string) string {
	return filepath.Join(StateDir(home), "queue.json")
}

// LocksPath returns the locks snapshot file.
func LocksPath(home string) string {
	return filepath.Join(StateDir(home), "locks.json")
}

// BridgeWarningsPath returns the deduplicated bridge warning file.
func BridgeWarningsPath(home string) string {
	return filepath.Join(StateDir(home), "bridge-warnings.json")
}

// BridgePidPath returns the PID file for a bridge adapter.
func BridgePidPath(home, adapter string) string {
	return filepath.Join(StateDir(home), "bridge-"+adapter+".pid")
}

// InboxSeqPath returns the persisted sequence counter for a peer.
func InboxSeqPath(home, label string) string {
	return filepath.Join(StateDir(home), "inbox-seq-"+FolderName(label)+".txt")
}

// InboxSeqLockPath returns the advisory lock file guarding the counter.
func InboxSeqLockPath(home, label string) string {
	return filepath.Join(StateDir(home), "inbox-seq-"+FolderName(label)+".lock")
}

// PeerOutboxPath returns the per-peer delivery retry queue.
func PeerOutboxPath(home, label string) string {
	return filepath.Join(StateDir(home), "outbox-"+label+".jsonl")
}

// ForemanLockPath returns the foreman single-slot lockfile.
func ForemanLockPath(home string) string {
	return filepath.Join(StateDir(home), "foreman.lock")
}

// ForemanStatePath returns the persisted foreman scheduler state.
func ForemanStatePath(home string) string {
	return filepath.Join(StateDir(home), "foreman.json")
}

// ForemanOutDir returns the output directory for one foreman run.
func ForemanOutDir(home, stamp string) string {
	return filepath.Join(StateDir(home), "foreman", stamp)
}

// SettingsFile returns a named settings file, e.g. "telegram.yaml".
func SettingsFile(home, name string) string {
	if !strings.Contains(name, ".") {
		name += ".yaml"
	}
	return filepath.Join(SettingsDir(home), name)
}
