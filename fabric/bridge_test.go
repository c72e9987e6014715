package fabric

import (
	"testing"
	"time"
)

func newTestSupervisor(t *testing.T, home string) (*BridgeSupervisor, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	ledger := NewLedger(home, clock, testLogger())
	return NewBridgeSupervisor(home, clock, ledger, testLogger()), clock
}

func countWarnings(home, kind string) int {
	n := 0
	for _, e := range ReadLedger(home) {
		if e["kind"] == kind {
			n++
		}
	}
	return n
}

func TestWarnOnce_CooldownDeduplicates(t *testing.T) {
	home := testHome(t)
	s, clock := newTestSupervisor(t, home)

	s.warnOnce("slack", "missing_dep:cccc-bridge-slack", "adapter missing", time.Minute)
	s.warnOnce("slack", "missing_dep:cccc-bridge-slack", "adapter missing", time.Minute)
	s.warnOnce("slack", "missing_dep:cccc-bridge-slack", "adapter missing", time.Minute)
	if got := countWarnings(home, "bridge-warning"); got != 1 {
		t.Fatalf("expected 1 warning inside cooldown, got %d", got)
	}

	// Past the cooldown the warning may repeat.
	clock.Advance(2 * time.Minute)
	s.warnOnce("slack", "missing_dep:cccc-bridge-slack", "adapter missing", time.Minute)
	if got := countWarnings(home, "bridge-warning"); got != 2 {
		t.Fatalf("expected repeat after cooldown, got %d", got)
	}

	// The warning survives on disk for the TUI to read.
	warnings := s.loadWarnings()
	if warnings["slack"].Code != "missing_dep:cccc-bridge-slack" {
		t.Fatalf("warning not persisted: %+v", warnings)
	}
}

func TestWarnOnce_DifferentCodeBypassesCooldown(t *testing.T) {
	home := testHome(t)
	s, _ := newTestSupervisor(t, home)

	s.warnOnce("discord", "missing_dep:x", "x missing", time.Minute)
	s.warnOnce("discord", "bad-settings", "yaml broken", time.Minute)
	if got := countWarnings(home, "bridge-warning"); got != 2 {
		t.Fatalf("distinct codes deduplicated: %d", got)
	}
}

func TestClearWarning(t *testing.T) {
	home := testHome(t)
	s, _ := newTestSupervisor(t, home)

	s.warnOnce("slack", "missing_dep:bin", "bin missing", time.Minute)
	// Prefix mismatch leaves the warning alone.
	s.clearWarning("slack", "bad-settings")
	if len(s.loadWarnings()) != 1 {
		t.Fatalf("mismatched prefix cleared the warning")
	}
	// Matching prefix clears it (dependency reappeared).
	s.clearWarning("slack", "missing_dep:")
	if len(s.loadWarnings()) != 0 {
		t.Fatalf("warning not cleared")
	}
}

func TestPidAlive(t *testing.T) {
	if !pidAlive(1) {
		t.Skip("pid 1 not visible")
	}
	if pidAlive(0) || pidAlive(-5) {
		t.Fatalf("non-positive pid reported alive")
	}
}

func TestBridgeAutostartDefaults(t *testing.T) {
	if !bridgeAutostart("telegram", BridgeConf{}) {
		t.Errorf("telegram should autostart by default")
	}
	if bridgeAutostart("slack", BridgeConf{}) {
		t.Errorf("slack should not autostart by default")
	}
	on := true
	if !bridgeAutostart("slack", BridgeConf{Autostart: &on}) {
		t.Errorf("explicit autostart ignored")
	}
}
