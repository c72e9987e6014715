package fabric

import (
	"os"
	"path/filepath"
	"testing"
)

func testHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	if err := EnsureMailbox(home); err != nil {
		t.Fatalf("EnsureMailbox: %v", err)
	}
	return home
}

func TestEnsureMailbox_Idempotent(t *testing.T) {
	home := testHome(t)
	if err := EnsureMailbox(home); err != nil {
		t.Fatalf("second EnsureMailbox: %v", err)
	}
	for _, label := range Peers {
		for _, f := range []string{"to_user.md", "to_peer.md", "inbox.md"} {
			if _, err := os.Stat(filepath.Join(PeerDir(home, label), f)); err != nil {
				t.Errorf("missing %s for %s: %v", f, label, err)
			}
		}
		for _, d := range []string{InboxDir(home, label), ProcessedDir(home, label)} {
			if info, err := os.Stat(d); err != nil || !info.IsDir() {
				t.Errorf("missing dir %s: %v", d, err)
			}
		}
	}
	if _, err := os.Stat(ToPeerPath(home, Foreman)); err != nil {
		t.Errorf("missing foreman sink: %v", err)
	}
}

func TestScanMailboxes_ChangeDetection(t *testing.T) {
	home := testHome(t)
	clock := newFakeClock()
	idx := NewSeenIndex(home, clock)

	write := func(path, text string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(text), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	// Fresh content produces an event.
	write(ToPeerPath(home, PeerA), "<TO_PEER>Do X</TO_PEER>")
	events := ScanMailboxes(home, idx, nil)
	if events[PeerA].ToPeer != "<TO_PEER>Do X</TO_PEER>" {
		t.Fatalf("expected to_peer event, got %+v", events[PeerA])
	}

	// Unchanged content is silent.
	events = ScanMailboxes(home, idx, nil)
	if events[PeerA].ToPeer != "" {
		t.Fatalf("same SHA generated an event: %+v", events[PeerA])
	}

	// Whitespace-only is no event.
	write(ToPeerPath(home, PeerB), "   \n\t  ")
	events = ScanMailboxes(home, idx, nil)
	if events[PeerB].ToPeer != "" {
		t.Fatalf("whitespace generated an event")
	}

	// A sentinel is semantically empty, now and on every later scan.
	WriteSentinel(ToPeerPath(home, PeerA), Sentinel{TS: "t", EID: "e", SHA8: "s", Route: "PeerA→PeerB"})
	for i := 0; i < 3; i++ {
		events = ScanMailboxes(home, idx, nil)
		if events[PeerA].ToPeer != "" {
			t.Fatalf("sentinel generated an event on pass %d", i)
		}
	}

	// New real content after a sentinel fires again.
	write(ToPeerPath(home, PeerA), "<TO_PEER>Do Y</TO_PEER>")
	events = ScanMailboxes(home, idx, nil)
	if events[PeerA].ToPeer == "" {
		t.Fatalf("fresh content after sentinel was missed")
	}
}

func TestResetMailbox(t *testing.T) {
	home := testHome(t)
	clock := newFakeClock()

	// Populate message files, inbox, processed, and the seen-index.
	if err := os.WriteFile(ToUserPath(home, PeerA), []byte("msg"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := WriteInboxMessage(home, PeerA, "<FROM_USER>\n[MID: m1]\nhi\n</FROM_USER>", "m1", clock.Now()); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(ProcessedDir(home, PeerA), "000001.old.txt")
	if err := os.WriteFile(keep, []byte("done"), 0644); err != nil {
		t.Fatal(err)
	}
	idx := NewSeenIndex(home, clock)
	idx.UpdateHash(PeerA, "to_user.md", "deadbeef")
	idx.Save()

	if err := ResetMailbox(home); err != nil {
		t.Fatalf("ResetMailbox: %v", err)
	}

	if data, _ := os.ReadFile(ToUserPath(home, PeerA)); len(data) != 0 {
		t.Errorf("to_user.md not truncated: %q", data)
	}
	if files := ListInboxFiles(home, PeerA); len(files) != 0 {
		t.Errorf("inbox not emptied: %v", files)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("processed/ was not preserved: %v", err)
	}
	if _, err := os.Stat(SeenIndexPath(home)); !os.IsNotExist(err) {
		t.Errorf("seen-index not deleted")
	}

	// Reset then ensure is idempotent.
	if err := ResetMailbox(home); err != nil {
		t.Fatalf("second ResetMailbox: %v", err)
	}
	if err := EnsureMailbox(home); err != nil {
		t.Fatalf("EnsureMailbox after reset: %v", err)
	}
}

func TestReadIfChanged_LossyEmitsDiag(t *testing.T) {
	home := testHome(t)
	path := ToPeerPath(home, PeerA)
	body := make([]byte, 0, 600)
	for i := 0; i < 50; i++ {
		body = append(body, []byte("ascii text ")...)
	}
	body = append(body, 0xff)
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}

	var diags []map[string]any
	changed, text, _ := ReadIfChanged(path, "", func(e map[string]any) { diags = append(diags, e) })
	if !changed || text == "" {
		t.Fatalf("lossy content should still produce an event")
	}
	if len(diags) != 1 {
		t.Fatalf("expected one mailbox-diag, got %d", len(diags))
	}
	if diags[0]["kind"] != "mailbox-diag" {
		t.Errorf("wrong diag kind: %v", diags[0]["kind"])
	}
	if _, ok := diags[0]["prefix_hex"]; !ok {
		t.Errorf("diag missing prefix_hex")
	}
}
