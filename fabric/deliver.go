package fabric

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// Delivery outcomes returned by DeliverOrQueue.
const (
	StatusDelivered = "delivered"
	StatusQueued    = "queued"
)

// ackObserveDelay is how long the engine waits after a send before
// recapturing the pane to look for an ACK.
const ackObserveDelay = 1200 * time.Millisecond

// flushObserveDelay is the shorter wait used during queue flushes.
const flushObserveDelay = 1000 * time.Millisecond

// Engine owns outbound delivery to both peers: MID tagging, idle-gated
// sends, ACK tracking, and the per-peer retry queues. At most one message
// per receiver is inflight (awaiting ACK) at any time.
type Engine struct {
	home   string
	driver PaneDriver
	clock  Clock
	ledger *Ledger
	log    *zap.SugaredLogger

	queues   map[string]*RetryQueue
	inflight map[string]string // receiver label → MID awaiting ACK
}

// NewEngine creates the delivery engine.
func NewEngine(home string, driver PaneDriver, clock Clock, ledger *Ledger, log *zap.SugaredLogger) *Engine {
	e := &Engine{
		home: home, driver: driver, clock: clock, ledger: ledger, log: log,
		queues:   map[string]*RetryQueue{},
		inflight: map[string]string{},
	}
	for _, label := range Peers {
		e.queues[label] = NewRetryQueue(home, label)
	}
	return e
}

// Inflight reports whether a message is awaiting ACK for the receiver.
func (e *Engine) Inflight(receiver string) bool {
	return e.inflight[receiver] != ""
}

// QueuedCount returns the receiver's retry-queue depth.
func (e *Engine) QueuedCount(receiver string) int {
	q := e.queues[receiver]
	if q == nil {
		return 0
	}
	return q.Len()
}

// DeliverOrQueue delivers a payload to a receiver: wait for an idle pane
// within the configured budget, tag with a MID, write the sequenced inbox
// file, nudge the pane, and watch for an ACK. A busy pane past the budget
// still gets one best-effort send. Returns the outcome and the MID used.
func (e *Engine) DeliverOrQueue(pane, receiver, payload string, profile Profile, conf DeliveryConf, mid string) (string, string) {
	judge := NewIdleJudge(profile, e.clock)
	deadline := e.clock.Now().Add(time.Duration(conf.pasteMaxWait() * float64(time.Second)))
	interval := time.Duration(conf.recheckInterval() * float64(time.Second))

	for e.clock.Now().Before(deadline) {
		idle, _ := judge.Refresh(e.driver, pane)
		if idle {
			return e.sendAndObserve(pane, receiver, payload, profile, conf, mid)
		}
		e.clock.Sleep(interval)
	}

	// Never idle within the budget: best-effort send, then the require_ack
	// branch decides whether the queue keeps chasing the ACK.
	if mid == "" {
		mid = NewMID(e.clock)
	}
	text := WrapWithMID(payload, mid)
	e.placeMessage(pane, receiver, text, mid, conf)
	if conf.RequireAck {
		e.clearInflight(receiver, mid)
		e.enqueue(receiver, mid, text)
		return StatusQueued, mid
	}
	e.clearInflight(receiver, mid)
	return StatusDelivered, mid
}

// sendAndObserve performs one tagged send and a short ACK observation.
func (e *Engine) sendAndObserve(pane, receiver, payload string, profile Profile, conf DeliveryConf, mid string) (string, string) {
	if mid == "" {
		mid = NewMID(e.clock)
	}
	text := WrapWithMID(payload, mid)
	e.placeMessage(pane, receiver, text, mid, conf)

	e.clock.Sleep(ackObserveDelay)
	latest := e.driver.Capture(pane, captureLines)
	acks, _ := FindAcks(latest)
	if containsToken(acks, mid) {
		e.clearInflight(receiver, mid)
		return StatusDelivered, mid
	}
	if conf.RequireAck {
		e.clearInflight(receiver, mid)
		e.enqueue(receiver, mid, text)
		return StatusQueued, mid
	}
	e.clearInflight(receiver, mid)
	return StatusDelivered, mid
}

// placeMessage writes the sequenced inbox file and (optionally) nudges the
// pane so the peer notices the arrival. The inbox write is authoritative;
// the pane injection is advisory.
func (e *Engine) placeMessage(pane, receiver, text, mid string, conf DeliveryConf) {
	e.inflight[receiver] = mid
	seq, path, err := WriteInboxMessage(e.home, receiver, text, mid, e.clock.Now())
	if err != nil {
		e.log.Warnw("inbox write failed", "peer", receiver, "error", err)
		e.ledger.Append(map[string]any{"from": System, "kind": "inbox-write-error", "peer": receiver, "error": err.Error()})
		return
	}
	if conf.nudgePane() {
		preview := SafeHeadline(path, 32)
		nudge := ComposeDetailedNudge(InboxDir(e.home, receiver), seq, preview, e.clock.Now())
		if err := e.driver.Send(pane, nudge, e.nudgeProfile()); err != nil {
			e.log.Debugw("pane nudge failed", "peer", receiver, "error", err)
		}
	}
}

// nudgeProfile sends nudges in type mode: single-line messages submit more
// reliably as keystrokes than as a paste burst.
func (e *Engine) nudgeProfile() Profile {
	return Profile{InputMode: "type"}
}

func (e *Engine) enqueue(receiver, mid, text string) {
	if err := e.queues[receiver].Enqueue(mid, text); err != nil {
		e.log.Warnw("outbox enqueue failed", "peer", receiver, "error", err)
	}
}

func (e *Engine) clearInflight(receiver, mid string) {
	if e.inflight[receiver] == mid {
		delete(e.inflight, receiver)
	}
}

// FlushOutboxIfIdle re-nudges up to max_flush_batch queued messages when the
// receiver's pane is idle, removing entries on ACK and on NACK (NACK is
// dropped with a ledger record). Returns the MIDs confirmed this pass.
func (e *Engine) FlushOutboxIfIdle(pane, receiver string, profile Profile, conf DeliveryConf) []string {
	if !conf.RequireAck {
		return nil
	}
	q := e.queues[receiver]
	items := q.LoadAll()
	if len(items) == 0 {
		// Nothing queued; a stale inflight marker with an empty queue means
		// the ACK was observed through another path.
		return nil
	}
	judge := NewIdleJudge(profile, e.clock)
	if idle, _ := judge.Refresh(e.driver, pane); !idle {
		return nil
	}

	batch := conf.maxFlushBatch()
	if batch > len(items) {
		batch = len(items)
	}
	var confirmed []string
	for _, it := range items[:batch] {
		e.inflight[receiver] = it.MID
		if err := e.driver.Send(pane, e.flushNudge(receiver, it), profile); err != nil {
			e.log.Debugw("flush send failed", "peer", receiver, "mid", it.MID, "error", err)
			continue
		}
		e.clock.Sleep(flushObserveDelay)
		latest := e.driver.Capture(pane, captureLines)
		acks, nacks := FindAcks(latest)
		switch {
		case containsToken(acks, it.MID):
			_ = q.Remove(it.MID)
			e.clearInflight(receiver, it.MID)
			confirmed = append(confirmed, it.MID)
		case containsToken(nacks, it.MID):
			_ = q.Remove(it.MID)
			e.clearInflight(receiver, it.MID)
			e.ledger.Append(map[string]any{"from": receiver, "kind": "delivery-nack", "mid": it.MID})
		default:
			// Leave queued for the next idle tick.
			e.clearInflight(receiver, it.MID)
		}
	}
	return confirmed
}

// flushNudge points the peer back at the still-unacknowledged message.
func (e *Engine) flushNudge(receiver string, it QueueItem) string {
	preview := PlainTextWithoutTagsAndMID(it.Payload)
	if runes := []rune(preview); len(runes) > 32 {
		preview = strings.TrimSpace(string(runes[:32])) + " …"
	}
	// The suffix must not itself contain an "ack:" token, or the capture
	// right after typing it would read back as a self-acknowledgement.
	return ComposeNudge(InboxDir(e.home, receiver), FormatLocalTS(e.clock.Now()),
		false, true, "", preview, "acknowledge "+it.MID+" when done.")
}

// ReceiveAcks consumes ACK/NACK tokens found in a peer's own mailbox output
// (peers sometimes piggy-back them on to_user/to_peer text instead of the
// pane). ACKed MIDs leave the queue and clear the inflight flag.
func (e *Engine) ReceiveAcks(from, text string) {
	acks, nacks := FindAcks(text)
	if len(acks) == 0 && len(nacks) == 0 {
		return
	}
	// Tokens refer to messages delivered TO the sender of this text.
	receiver := from
	q := e.queues[receiver]
	for _, mid := range acks {
		_ = q.Remove(mid)
		e.clearInflight(receiver, mid)
	}
	for _, mid := range nacks {
		_ = q.Remove(mid)
		e.clearInflight(receiver, mid)
		e.ledger.Append(map[string]any{"from": receiver, "kind": "delivery-nack", "mid": mid, "route": "mailbox"})
	}
}
