package fabric

import (
	"strings"
	"time"
)

// singlePeerNudge is the richer continuation template used when only PeerA
// is active.
const singlePeerNudge = `<FROM_SYSTEM>
Continue with your current task.

If task is complete, summarize results in to_user.md.
If blocked or need input, ask in to_user.md.
Otherwise, continue working and log progress in to_peer.md.
</FROM_SYSTEM>
`

// pendingNudge is one armed keepalive for a peer.
type pendingNudge struct {
	due  time.Time
	next string
}

// Keepalive re-prompts a peer that declared Progress and then went quiet.
// A nudge only fires when the peer's inbox is empty and nothing is inflight
// or queued for it, so it can never preempt real work.
type Keepalive struct {
	home   string
	clock  Clock
	ledger *Ledger
	engine *Engine

	// Send delivers a synthesized system message to a peer. Bound by the
	// orchestrator so tests can observe instead of paste.
	Send func(to, message, nudge string)

	pending     map[string]*pendingNudge
	nudgeCounts map[string]int
}

// NewKeepalive creates the scheduler.
func NewKeepalive(home string, clock Clock, ledger *Ledger, engine *Engine) *Keepalive {
	return &Keepalive{
		home: home, clock: clock, ledger: ledger, engine: engine,
		pending:     map[string]*pendingNudge{},
		nudgeCounts: map[string]int{},
	}
}

// ScheduleFromPayload arms a nudge when a handoff payload shows activity
// (a TO_PEER or TO_USER wrapper) and declares Progress. The configuration
// is re-read on every call; the TUI may flip single-peer mode mid-session.
func (k *Keepalive) ScheduleFromPayload(sender, payload string) {
	conf := LoadKeepaliveConf(k.home)
	if !conf.enabled() {
		return
	}
	if conf.SinglePeer {
		if sender != PeerA {
			return
		}
	} else if !IsPeer(sender) {
		return
	}
	if !strings.Contains(payload, "<TO_PEER>") && !strings.Contains(payload, "<TO_USER>") {
		return
	}
	if !HasProgressEvent(payload) {
		return
	}

	delay := conf.delaySeconds()
	if conf.SinglePeer {
		delay = conf.singlePeerDelay()
	}
	k.pending[sender] = &pendingNudge{
		due:  k.clock.Now().Add(time.Duration(delay * float64(time.Second))),
		next: ExtractNext(payload),
	}
	k.nudgeCounts[sender] = 0
	k.ledger.Append(map[string]any{"from": "system", "kind": "keepalive-scheduled",
		"peer": sender, "delay_s": delay, "single_peer": conf.SinglePeer})
}

// Tick fires due nudges whose guards pass.
func (k *Keepalive) Tick() {
	conf := LoadKeepaliveConf(k.home)
	if !conf.enabled() {
		return
	}
	labels := Peers
	if conf.SinglePeer {
		labels = []string{PeerA}
	}
	now := k.clock.Now()
	for _, label := range labels {
		ent := k.pending[label]
		if ent == nil || now.Before(ent.due) {
			continue
		}

		if conf.SinglePeer && k.nudgeCounts[label] >= conf.singlePeerMaxNudges() {
			if conf.Debug {
				k.ledger.Append(map[string]any{"from": "system", "kind": "keepalive-exhausted",
					"peer": label, "count": k.nudgeCounts[label], "max": conf.singlePeerMaxNudges()})
			}
			k.pending[label] = nil
			continue
		}

		reason := ""
		switch {
		case len(ListInboxFiles(k.home, label)) > 0:
			reason = "inbox-not-empty"
		case k.engine.Inflight(label):
			reason = "inflight"
		case k.engine.QueuedCount(label) > 0:
			reason = "queued"
		}
		if reason != "" {
			if conf.Debug {
				k.ledger.Append(map[string]any{"from": "system", "kind": "keepalive-skipped",
					"peer": label, "reason": reason})
			}
			k.pending[label] = nil
			continue
		}

		msg := k.composeMessage(conf, ent.next)
		nudge := ComposeNudge(InboxDir(k.home, label), FormatLocalTS(now), false, false, "", "", "")
		if k.Send != nil {
			k.Send(label, msg, nudge)
		}

		if conf.SinglePeer {
			k.nudgeCounts[label]++
			if k.nudgeCounts[label] < conf.singlePeerMaxNudges() {
				k.pending[label] = &pendingNudge{
					due:  now.Add(time.Duration(conf.singlePeerDelay() * float64(time.Second))),
					next: ent.next,
				}
			} else {
				k.pending[label] = nil
			}
		} else {
			k.pending[label] = nil
		}
		k.ledger.Append(map[string]any{"from": "system", "kind": "keepalive-sent",
			"peer": label, "single_peer": conf.SinglePeer, "nudge_count": k.nudgeCounts[label]})
	}
}

func (k *Keepalive) composeMessage(conf KeepaliveConf, next string) string {
	if conf.SinglePeer {
		return singlePeerNudge
	}
	if next != "" {
		return "<FROM_SYSTEM>\nOK. Continue: " + next + "\n</FROM_SYSTEM>\n"
	}
	return "<FROM_SYSTEM>\nOK. Continue.\n</FROM_SYSTEM>\n"
}

// PendingFor reports whether a nudge is armed for a peer (status surface).
func (k *Keepalive) PendingFor(label string) bool {
	return k.pending[label] != nil
}
