package fabric

import (
	"testing"
	"time"
)

func TestShouldForward_LowSignalDropped(t *testing.T) {
	st := NewFilterState()
	ok, reason := ShouldForward("<TO_PEER>ok</TO_PEER>", PeerA, PeerB, ForwardPolicy{}, st, time.Now())
	if ok || reason != "low-signal" {
		t.Fatalf("got ok=%v reason=%s", ok, reason)
	}
}

func TestShouldForward_DuplicateDropped(t *testing.T) {
	st := NewFilterState()
	now := time.Now()
	payload := "<TO_PEER>a real message with substance</TO_PEER>"
	if ok, _ := ShouldForward(payload, PeerA, PeerB, ForwardPolicy{}, st, now); !ok {
		t.Fatalf("first forward rejected")
	}
	ok, reason := ShouldForward(payload, PeerA, PeerB, ForwardPolicy{}, st, now.Add(time.Minute))
	if ok || reason != "duplicate" {
		t.Fatalf("duplicate not dropped: ok=%v reason=%s", ok, reason)
	}
	// Opposite direction keeps its own history.
	if ok, _ := ShouldForward(payload, PeerB, PeerA, ForwardPolicy{}, st, now); !ok {
		t.Fatalf("other direction wrongly suppressed")
	}
}

func TestShouldForward_Cooldown(t *testing.T) {
	st := NewFilterState()
	pol := ForwardPolicy{CooldownSeconds: 30}
	now := time.Now()
	if ok, _ := ShouldForward("<TO_PEER>message number one here</TO_PEER>", PeerA, PeerB, pol, st, now); !ok {
		t.Fatalf("first forward rejected")
	}
	ok, reason := ShouldForward("<TO_PEER>message number two here</TO_PEER>", PeerA, PeerB, pol, st, now.Add(5*time.Second))
	if ok || reason != "cooldown" {
		t.Fatalf("cooldown not applied: ok=%v reason=%s", ok, reason)
	}
	if ok, _ := ShouldForward("<TO_PEER>message number two here</TO_PEER>", PeerA, PeerB, pol, st, now.Add(time.Minute)); !ok {
		t.Fatalf("forward after cooldown rejected")
	}
}

func TestShouldForward_OverrideOff(t *testing.T) {
	st := NewFilterState()
	off := false
	st.Override = &off
	if ok, _ := ShouldForward("x", PeerA, PeerB, ForwardPolicy{}, st, time.Now()); !ok {
		t.Fatalf("override off should forward everything")
	}
}

func TestShouldForward_PolicyDisabled(t *testing.T) {
	st := NewFilterState()
	disabled := false
	pol := ForwardPolicy{Enabled: &disabled}
	if ok, _ := ShouldForward("x", PeerA, PeerB, pol, st, time.Now()); !ok {
		t.Fatalf("disabled policy should forward everything")
	}
}
