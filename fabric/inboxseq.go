package fabric

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// WriteInboxMessage allocates the next sequence number for the receiver and
// writes the payload (with a TS line injected after its MID) to
// inbox/NNNNNN.<mid>.txt. The counter lives in state/inbox-seq-<peer>.txt
// under an advisory flock; the allocation is the max of the persisted
// counter and the highest prefix on disk (inbox + processed), so sequences
// stay strictly increasing across crashes and manual file surgery.
func WriteInboxMessage(home, receiver, payload, mid string, now time.Time) (seq string, path string, err error) {
	inbox := InboxDir(home, receiver)
	processed := ProcessedDir(home, receiver)
	if err := os.MkdirAll(inbox, 0755); err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(processed, 0755); err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(StateDir(home), 0755); err != nil {
		return "", "", err
	}

	unlock, err := lockInboxSeq(home, receiver)
	if err != nil {
		return "", "", err
	}
	defer unlock()

	next := nextSeq(InboxSeqPath(home, receiver), inbox, processed)
	seq = fmt.Sprintf("%06d", next)
	path = filepath.Join(inbox, seq+"."+mid+".txt")
	body := InjectTSAfterMID(payload, now)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return "", "", fmt.Errorf("writing inbox message: %w", err)
	}
	// Persist after the message lands; a crash between the two re-derives
	// the counter from the directory maxima.
	_ = os.WriteFile(InboxSeqPath(home, receiver), []byte(strconv.Itoa(next)), 0644)
	return seq, path, nil
}

// lockInboxSeq takes the advisory flock guarding a peer's sequence counter.
// When flock is unavailable (exotic filesystems) it falls back to a
// mkdir-spin lock directory.
func lockInboxSeq(home, receiver string) (func(), error) {
	lockPath := InboxSeqLockPath(home, receiver)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err == nil {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err == nil {
			return func() {
				_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
				f.Close()
			}, nil
		}
		f.Close()
	}
	lockDir := strings.TrimSuffix(lockPath, ".lock") + ".lckdir"
	for i := 0; i < 50; i++ {
		if err := os.Mkdir(lockDir, 0755); err == nil {
			return func() { _ = os.Remove(lockDir) }, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil, fmt.Errorf("inbox sequence lock busy: %s", lockPath)
}

// nextSeq computes the next strictly increasing sequence number.
func nextSeq(counterPath string, dirs ...string) int {
	current := 0
	if data, err := os.ReadFile(counterPath); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			current = v
		}
	}
	for _, d := range dirs {
		if mx := maxSeqIn(d); mx > current {
			current = mx
		}
	}
	return current + 1
}

// maxSeqIn returns the highest 6-digit filename prefix in a directory.
func maxSeqIn(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	mx := 0
	for _, e := range entries {
		name := e.Name()
		if len(name) < 6 {
			continue
		}
		if v, err := strconv.Atoi(name[:6]); err == nil && v > mx {
			mx = v
		}
	}
	return mx
}

// ListInboxFiles returns the receiver's pending inbox files sorted by name
// (which is sequence order).
func ListInboxFiles(home, receiver string) []string {
	entries, err := os.ReadDir(InboxDir(home, receiver))
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}
