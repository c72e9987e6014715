package fabric

import "testing"

func TestFindAcks_SystemNotes(t *testing.T) {
	out := "noise\n<SYSTEM_NOTES>ack: cccc-1-aaaaaa; nack: cccc-2-bbbbbb</SYSTEM_NOTES>\nmore"
	acks, nacks := FindAcks(out)
	if !containsToken(acks, "cccc-1-aaaaaa") {
		t.Errorf("ack not found: %v", acks)
	}
	if !containsToken(nacks, "cccc-2-bbbbbb") {
		t.Errorf("nack not found: %v", nacks)
	}
}

func TestFindAcks_BareAckOutsideNotes(t *testing.T) {
	acks, nacks := FindAcks("some CLI output\nack: foo\ndone")
	if !containsToken(acks, "foo") {
		t.Errorf("bare ack not accepted: %v", acks)
	}
	if len(nacks) != 0 {
		t.Errorf("unexpected nacks: %v", nacks)
	}
}

func TestFindAcks_NackNotMistakenForAck(t *testing.T) {
	acks, nacks := FindAcks("<SYSTEM_NOTES>nack: tok-1</SYSTEM_NOTES>")
	if containsToken(acks, "tok-1") {
		t.Errorf("nack token leaked into acks")
	}
	if !containsToken(nacks, "tok-1") {
		t.Errorf("nack not found: %v", nacks)
	}
}

func TestFindAcks_Dedup(t *testing.T) {
	acks, _ := FindAcks("ack: same\nack: same\n<SYSTEM_NOTES>ack: same</SYSTEM_NOTES>")
	if len(acks) != 1 {
		t.Errorf("expected one deduped token, got %v", acks)
	}
}

func TestFindAcks_CaseInsensitive(t *testing.T) {
	acks, _ := FindAcks("ACK: Tok.2:x-y_")
	if !containsToken(acks, "Tok.2:x-y_") {
		t.Errorf("case-insensitive ack missed: %v", acks)
	}
}
