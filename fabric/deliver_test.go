package fabric

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestEngine(t *testing.T, home string, pane *fakePane) (*Engine, *fakeClock, *Ledger) {
	t.Helper()
	clock := newFakeClock()
	ledger := NewLedger(home, clock, testLogger())
	return NewEngine(home, pane, clock, ledger, testLogger()), clock, ledger
}

// ackAfterSend captures as empty (idle via quiet-only) until a send has
// happened, then shows the given ACK line.
func ackAfterSend(pane *fakePane, ackLine string) {
	pane.capture = func() string {
		if len(pane.sent) > 0 {
			return ackLine
		}
		return ""
	}
}

func TestDeliverOrQueue_DeliversWhenIdle(t *testing.T) {
	home := testHome(t)
	pane := &fakePane{}
	engine, _, _ := newTestEngine(t, home, pane)
	ackAfterSend(pane, "<SYSTEM_NOTES>ack: m-idle</SYSTEM_NOTES>")

	status, mid := engine.DeliverOrQueue("p", PeerB, "<FROM_PeerA>\nDo X\n</FROM_PeerA>",
		Profile{}, DeliveryConf{RequireAck: true}, "m-idle")
	if status != StatusDelivered || mid != "m-idle" {
		t.Fatalf("got status=%s mid=%s", status, mid)
	}

	// The sequenced inbox file carries wrapper, MID, TS, body.
	files := ListInboxFiles(home, PeerB)
	if len(files) != 1 || !strings.HasPrefix(files[0], "000001.") {
		t.Fatalf("inbox files: %v", files)
	}
	data, err := os.ReadFile(filepath.Join(InboxDir(home, PeerB), files[0]))
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)
	for _, want := range []string{"<FROM_PeerA>", "[MID: m-idle]", "[TS: ", "Do X", "</FROM_PeerA>"} {
		if !strings.Contains(body, want) {
			t.Errorf("inbox file missing %q:\n%s", want, body)
		}
	}

	// Pane got a nudge, and nothing is left inflight or queued.
	if len(pane.sent) == 0 || !strings.Contains(pane.sent[0].Text, "[NUDGE]") {
		t.Errorf("pane nudge missing: %+v", pane.sent)
	}
	if engine.Inflight(PeerB) || engine.QueuedCount(PeerB) != 0 {
		t.Errorf("inflight=%v queued=%d after delivery", engine.Inflight(PeerB), engine.QueuedCount(PeerB))
	}
}

func TestDeliverOrQueue_QueuesWhenBusy(t *testing.T) {
	home := testHome(t)
	pane := &fakePane{capture: func() string { return "Thinking hard about it" }}
	engine, _, _ := newTestEngine(t, home, pane)

	profile := Profile{BusyRegexes: []string{"Thinking"}}
	status, mid := engine.DeliverOrQueue("p", PeerB, "<FROM_PeerA>\nDo Y\n</FROM_PeerA>",
		profile, DeliveryConf{RequireAck: true}, "m-busy")
	if status != StatusQueued {
		t.Fatalf("expected queued, got %s", status)
	}
	items := NewRetryQueue(home, PeerB).LoadAll()
	if len(items) != 1 || items[0].MID != mid {
		t.Fatalf("queue contents: %+v", items)
	}
	if engine.Inflight(PeerB) {
		t.Errorf("queued message left inflight")
	}
	// Best-effort: the inbox file was still written.
	if len(ListInboxFiles(home, PeerB)) != 1 {
		t.Errorf("best-effort inbox write missing")
	}
}

func TestDeliverOrQueue_BestEffortWithoutAck(t *testing.T) {
	home := testHome(t)
	pane := &fakePane{capture: func() string { return "Thinking hard" }}
	engine, _, _ := newTestEngine(t, home, pane)

	profile := Profile{BusyRegexes: []string{"Thinking"}}
	status, _ := engine.DeliverOrQueue("p", PeerB, "text", profile, DeliveryConf{}, "")
	if status != StatusDelivered {
		t.Fatalf("best-effort should report delivered, got %s", status)
	}
	if engine.QueuedCount(PeerB) != 0 {
		t.Fatalf("no-ack mode queued anyway")
	}
}

func TestFlushOutboxIfIdle_AckRemoves(t *testing.T) {
	home := testHome(t)
	pane := &fakePane{capture: func() string { return "busy busy busy" }}
	engine, _, _ := newTestEngine(t, home, pane)
	conf := DeliveryConf{RequireAck: true}
	profile := Profile{BusyRegexes: []string{"busy"}}

	status, mid := engine.DeliverOrQueue("p", PeerB, "<FROM_PeerA>\nDo Z\n</FROM_PeerA>", profile, conf, "m-f1")
	if status != StatusQueued {
		t.Fatalf("setup: expected queued, got %s", status)
	}

	// Pane still busy: flush is a no-op.
	if got := engine.FlushOutboxIfIdle("p", PeerB, profile, conf); len(got) != 0 {
		t.Fatalf("flush on busy pane sent: %v", got)
	}

	// Pane idle and the peer ACKs: the item leaves the queue for good.
	ackAfterSend(pane, "<SYSTEM_NOTES>ack: m-f1</SYSTEM_NOTES>")
	pane.sent = nil
	confirmed := engine.FlushOutboxIfIdle("p", PeerB, profile, conf)
	if len(confirmed) != 1 || confirmed[0] != mid {
		t.Fatalf("confirmed: %v", confirmed)
	}
	if engine.QueuedCount(PeerB) != 0 {
		t.Fatalf("acked item still queued")
	}

	// An acked MID is never re-sent.
	pane.sent = nil
	if got := engine.FlushOutboxIfIdle("p", PeerB, profile, conf); len(got) != 0 || len(pane.sent) != 0 {
		t.Fatalf("ghost resend: %v %v", got, pane.sent)
	}
}

func TestFlushOutboxIfIdle_NackDropsAndLogs(t *testing.T) {
	home := testHome(t)
	pane := &fakePane{capture: func() string { return "busy" }}
	engine, _, _ := newTestEngine(t, home, pane)
	conf := DeliveryConf{RequireAck: true}
	profile := Profile{BusyRegexes: []string{"busy"}}

	engine.DeliverOrQueue("p", PeerB, "payload", profile, conf, "m-n1")
	ackAfterSend(pane, "<SYSTEM_NOTES>nack: m-n1</SYSTEM_NOTES>")
	pane.sent = nil

	confirmed := engine.FlushOutboxIfIdle("p", PeerB, profile, conf)
	if len(confirmed) != 0 {
		t.Fatalf("nack counted as confirmed: %v", confirmed)
	}
	if engine.QueuedCount(PeerB) != 0 {
		t.Fatalf("nacked item still queued")
	}
	found := false
	for _, e := range ReadLedger(home) {
		if e["kind"] == "delivery-nack" && e["mid"] == "m-n1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("delivery-nack not recorded")
	}
}

func TestReceiveAcks_InBandMailboxAck(t *testing.T) {
	home := testHome(t)
	pane := &fakePane{capture: func() string { return "busy" }}
	engine, _, _ := newTestEngine(t, home, pane)
	conf := DeliveryConf{RequireAck: true}
	profile := Profile{BusyRegexes: []string{"busy"}}

	engine.DeliverOrQueue("p", PeerB, "payload", profile, conf, "m-ib1")
	if engine.QueuedCount(PeerB) != 1 {
		t.Fatalf("setup: not queued")
	}
	// PeerB acknowledges inside its own mailbox text instead of the pane.
	engine.ReceiveAcks(PeerB, "Working on it.\n<SYSTEM_NOTES>ack: m-ib1</SYSTEM_NOTES>")
	if engine.QueuedCount(PeerB) != 0 {
		t.Fatalf("in-band ack did not clear the queue")
	}
}
