package fabric

import (
	"os"
	"os/exec"
	"strings"
	"time"
)

// StatusWriter refreshes the snapshot files other processes (TUI, bridges,
// humans with cat) read instead of poking orchestrator internals.
type StatusWriter struct {
	home    string
	session string
	clock   Clock

	profiles CLIProfiles
	policies Policies
	engine   *Engine
	foreman  *ForemanScheduler
	router   *Router
}

// NewStatusWriter wires the snapshot writer.
func NewStatusWriter(home, session string, clock Clock, profiles CLIProfiles,
	policies Policies, engine *Engine, foreman *ForemanScheduler, router *Router) *StatusWriter {
	return &StatusWriter{
		home: home, session: session, clock: clock,
		profiles: profiles, policies: policies,
		engine: engine, foreman: foreman, router: router,
	}
}

// WriteStatus writes state/status.json. Best-effort; a failed snapshot is
// retried on the next tick anyway.
func (w *StatusWriter) WriteStatus(paused bool, phase string) {
	fconf := LoadForemanConf(w.home)
	fstate := w.foreman.LoadState()

	foremanBlock := map[string]any{"enabled": false}
	if fconf.Enabled {
		foremanBlock = map[string]any{
			"enabled":  true,
			"running":  fstate.Running,
			"next_due": hhmm(fstate.NextDueTS),
			"last":     hhmm(fstate.LastEndTS),
			"last_rc":  fstate.LastRC,
			"cc_user":  fconf.ccUser(),
		}
	}

	setup := map[string]any{
		"roles": map[string]string{
			"peerA": w.profiles.PeerA.Actor,
			"peerB": w.profiles.PeerB.Actor,
		},
		"cli": map[string]any{
			"peerA": cliBlock(w.profiles.PeerA.Command),
			"peerB": cliBlock(w.profiles.PeerB.Command),
		},
		"bridges": w.bridgeBlocks(),
	}

	payload := map[string]any{
		"session":                w.session,
		"paused":                 paused,
		"phase":                  phase,
		"require_ack":            w.profiles.Delivery.RequireAck,
		"mailbox_counts":         w.router.MboxCounts,
		"mailbox_last":           w.router.MboxLast,
		"handoff_filter_enabled": w.effectiveFilter(),
		// POR/Aux/reset are owned by outer tooling; the keys stay present so
		// snapshot consumers keep a stable schema.
		"por":     map[string]any{"exists": false},
		"aux":     map[string]any{"mode": "off"},
		"reset":   map[string]any{"policy": nil, "default_mode": nil},
		"ts":      FormatLedgerTS(w.clock.Now()),
		"foreman": foremanBlock,
		"setup":   setup,
	}
	_ = writeJSONFile(StatusPath(w.home), payload)
}

// WriteQueueAndLocks writes state/queue.json and state/locks.json.
func (w *StatusWriter) WriteQueueAndLocks() {
	inflight := map[string]bool{
		"peerA": w.engine.Inflight(PeerA),
		"peerB": w.engine.Inflight(PeerB),
	}
	_ = writeJSONFile(QueuePath(w.home), map[string]any{
		"peerA":    w.engine.QueuedCount(PeerA),
		"peerB":    w.engine.QueuedCount(PeerB),
		"inflight": inflight,
	})

	var locks []string
	for _, label := range Peers {
		name := "inbox-seq-" + FolderName(label) + ".lock"
		if _, err := os.Stat(InboxSeqLockPath(w.home, label)); err == nil {
			locks = append(locks, name)
		}
	}
	_ = writeJSONFile(LocksPath(w.home), map[string]any{
		"inbox_seq_locks": locks,
		"inflight":        inflight,
	})
}

func (w *StatusWriter) effectiveFilter() bool {
	if ov := w.router.Filter.Override; ov != nil {
		return *ov
	}
	return w.policies.HandoffFilter.enabled()
}

func (w *StatusWriter) bridgeBlocks() map[string]any {
	out := map[string]any{}
	for _, adapter := range BridgeAdapters {
		var cfg BridgeConf
		_ = ReadYAMLFile(SettingsFile(w.home, adapter+".yaml"), &cfg)
		pid := readPidFile(BridgePidPath(w.home, adapter))
		out[adapter] = map[string]any{
			"configured": bridgeTokenPresent(adapter, cfg),
			"autostart":  bridgeAutostart(adapter, cfg),
			"running":    pidAlive(pid),
		}
	}
	return out
}

// cliBlock reports whether a peer's CLI binary resolves on PATH.
func cliBlock(command string) map[string]any {
	available := false
	if command != "" {
		prog := strings.Fields(command)[0]
		_, err := exec.LookPath(prog)
		available = err == nil
	}
	return map[string]any{"command": command, "available": available}
}

func hhmm(ts float64) any {
	if ts <= 0 {
		return nil
	}
	return time.Unix(int64(ts), 0).Format("15:04")
}
