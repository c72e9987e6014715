package fabric

import (
	"strings"

	"go.uber.org/zap"
)

// Router is the handoff pipeline: it watches mailbox changes, emits to_user
// events to the outbox stream, and forwards filtered to_peer payloads to the
// counterpart. It owns the seen-index, the low-signal filter state, and the
// per-mailbox counters surfaced in status snapshots.
type Router struct {
	home     string
	clock    Clock
	ledger   *Ledger
	outbox   *OutboxWriter
	engine   *Engine
	profiles CLIProfiles
	policies Policies
	log      *zap.SugaredLogger

	Index  *SeenIndex
	Filter *FilterState

	// TeachIntercept, when set, may veto a to_peer payload that is missing a
	// required insight marker; a true return blanks the payload.
	TeachIntercept func(from, payload string) bool

	// OnHandoffPayload observes every to_peer payload before filtering
	// (keepalive scheduling hook).
	OnHandoffPayload func(from, payload string)

	// Paused suppresses peer-to-peer forwarding only; to_user always flows.
	Paused bool

	MboxCounts  map[string]map[string]int
	MboxLast    map[string]map[string]string
	LastEventTS map[string]float64
}

// NewRouter wires the handoff pipeline.
func NewRouter(home string, clock Clock, ledger *Ledger, outbox *OutboxWriter,
	engine *Engine, profiles CLIProfiles, policies Policies, log *zap.SugaredLogger) *Router {
	r := &Router{
		home: home, clock: clock, ledger: ledger, outbox: outbox,
		engine: engine, profiles: profiles, policies: policies, log: log,
		Index:       NewSeenIndex(home, clock),
		Filter:      NewFilterState(),
		MboxCounts:  map[string]map[string]int{},
		MboxLast:    map[string]map[string]string{},
		LastEventTS: map[string]float64{},
	}
	for _, label := range Peers {
		r.MboxCounts[FolderName(label)] = map[string]int{"to_user": 0, "to_peer": 0}
		r.MboxLast[FolderName(label)] = map[string]string{}
	}
	return r
}

// Process runs one scan pass over both peers' mailboxes.
func (r *Router) Process() {
	events := ScanMailboxes(r.home, r.Index, r.ledger)
	for _, label := range Peers {
		ev := events[label]
		if ev.ToUser != "" {
			r.handleToUser(label, ev.ToUser)
		}
		if ev.ToPeer != "" {
			r.handleToPeer(label, ev.ToPeer)
		}
	}
	r.Index.Save()
}

func (r *Router) handleToUser(from, text string) {
	eid := EventID(EventToUser, from, text)
	r.ledger.Append(map[string]any{"from": from, "kind": "to_user", "eid": eid, "chars": len(text)})
	r.outbox.Append(Event{Type: EventToUser, Peer: from, Text: text, EID: eid})
	r.engine.ReceiveAcks(from, text)
	r.bump(from, "to_user")

	WriteSentinel(ToUserPath(r.home, from), Sentinel{
		TS:    FormatUTCZ(r.clock.Now()),
		EID:   eid,
		SHA8:  SHA256Text(text)[:8],
		Route: from + "→" + User,
	})
}

func (r *Router) handleToPeer(from, payload string) {
	to := OtherPeer(from)
	r.ledger.Append(map[string]any{"from": from, "kind": "to_peer-seen", "route": "mailbox", "chars": len(payload)})
	LedgerEventsFromPayload(r.ledger, from, payload)
	r.engine.ReceiveAcks(from, payload)
	r.bump(from, "to_peer")
	if r.OnHandoffPayload != nil {
		r.OnHandoffPayload(from, payload)
	}

	if r.TeachIntercept != nil && r.TeachIntercept(from, payload) {
		r.ledger.Append(map[string]any{"from": from, "kind": "handoff-drop", "route": "mailbox", "reason": "teach-intercept"})
		return
	}
	if r.Paused {
		r.ledger.Append(map[string]any{"from": from, "kind": "handoff-drop", "route": "mailbox", "reason": "paused"})
		return
	}
	ok, reason := ShouldForward(payload, from, to, r.policies.HandoffFilter, r.Filter, r.clock.Now())
	if !ok {
		r.ledger.Append(map[string]any{"from": from, "kind": "handoff-drop", "route": "mailbox", "reason": reason, "chars": len(payload)})
		return
	}

	// The counterpart receives the body, not the sender's TO_PEER envelope.
	body := payload
	if m := toPeerBody.FindStringSubmatch(payload); m != nil {
		body = strings.TrimSpace(m[1])
	}
	wrapped := "<FROM_" + from + ">\n" + body + "\n</FROM_" + from + ">\n"
	status, mid := r.engine.DeliverOrQueue(
		r.profiles.PaneFor(to), to, wrapped,
		r.profiles.ProfileFor(to), r.profiles.Delivery, "")
	r.ledger.Append(map[string]any{"from": from, "to": to, "kind": "to_peer-forward",
		"route": "mailbox", "chars": len(payload), "status": status, "mid": mid})

	eid := EventID(EventToPeerSummary, from, payload)
	r.outbox.Append(Event{Type: EventToPeerSummary, From: from, To: to, Text: payload, EID: eid})

	WriteSentinel(ToPeerPath(r.home, from), Sentinel{
		TS:    FormatUTCZ(r.clock.Now()),
		EID:   eid,
		SHA8:  SHA256Text(payload)[:8],
		Route: from + "→" + to,
	})
}

// SendHandoff delivers an already-wrapped payload from a virtual sender
// (User, System, Foreman) or peer to a receiver through the engine.
func (r *Router) SendHandoff(from, to, wrapped string) (string, string) {
	status, mid := r.engine.DeliverOrQueue(
		r.profiles.PaneFor(to), to, wrapped,
		r.profiles.ProfileFor(to), r.profiles.Delivery, "")
	r.ledger.Append(map[string]any{"from": from, "to": to, "kind": "handoff-send", "status": status, "mid": mid})
	return status, mid
}

func (r *Router) bump(label, kind string) {
	folder := FolderName(label)
	r.MboxCounts[folder][kind]++
	r.MboxLast[folder][kind] = r.clock.Now().Format("15:04:05")
	r.LastEventTS[label] = float64(r.clock.Now().Unix())
}
