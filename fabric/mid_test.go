package fabric

import (
	"regexp"
	"strings"
	"testing"
)

func TestNewMID_Shape(t *testing.T) {
	clock := newFakeClock()
	mid := NewMID(clock)
	if !regexp.MustCompile(`^cccc-\d+-[0-9a-f]{6}$`).MatchString(mid) {
		t.Fatalf("bad mid shape: %s", mid)
	}
	if mid == NewMID(clock) {
		t.Fatalf("two mids collided")
	}
}

func TestWrapWithMID_AfterOpeningTag(t *testing.T) {
	out := WrapWithMID("<TO_PEER>Do X</TO_PEER>", "m-1")
	want := "<TO_PEER>\n[MID: m-1]\nDo X</TO_PEER>"
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestWrapWithMID_NoTagPrefixes(t *testing.T) {
	out := WrapWithMID("bare payload", "m-2")
	if !strings.HasPrefix(out, "[MID: m-2]\n") {
		t.Fatalf("marker not prefixed: %q", out)
	}
}

func TestWrapWithMID_Idempotent(t *testing.T) {
	once := WrapWithMID("<FROM_USER>\nhello\n</FROM_USER>", "m-3")
	twice := WrapWithMID(once, "m-4")
	if twice != once {
		t.Fatalf("double wrap changed payload:\n%q\n%q", once, twice)
	}
	if n := strings.Count(twice, "[MID:"); n != 1 {
		t.Fatalf("expected exactly one MID, found %d", n)
	}
}

func TestExtractMID(t *testing.T) {
	if got := ExtractMID("<TO_PEER>\n[MID: cccc-9-ab12cd]\nx</TO_PEER>"); got != "cccc-9-ab12cd" {
		t.Fatalf("got %q", got)
	}
	if got := ExtractMID("no marker here"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestInjectTSAfterMID(t *testing.T) {
	clock := newFakeClock()
	payload := "<FROM_PeerA>\n[MID: m]\nbody\n</FROM_PeerA>"
	out := InjectTSAfterMID(payload, clock.Now())
	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[2], "[TS: ") {
		t.Fatalf("TS not after MID:\n%s", out)
	}
	// Already stamped: unchanged.
	if again := InjectTSAfterMID(out, clock.Now()); again != out {
		t.Fatalf("second injection changed payload")
	}
	// No MID: TS prefixes.
	out2 := InjectTSAfterMID("plain", clock.Now())
	if !strings.HasPrefix(out2, "[TS: ") {
		t.Fatalf("TS not prefixed: %q", out2)
	}
}

func TestPlainTextWithoutTagsAndMID(t *testing.T) {
	in := "<FROM_PeerA>\n[MID: m]\nline one\nline   two\n</FROM_PeerA>"
	if got := PlainTextWithoutTagsAndMID(in); got != "line one line two" {
		t.Fatalf("got %q", got)
	}
}
