package fabric

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// tickInterval is the main loop cadence (~5 Hz).
const tickInterval = 200 * time.Millisecond

// bridgeEnsureEvery throttles bridge supervision to roughly once per second.
const bridgeEnsureEvery = 5

// Orchestrator is the single-threaded control loop coupling the two peers.
// All mutable state that the original kept in module-level dicts lives here.
type Orchestrator struct {
	Home    string
	Session string

	clock  Clock
	driver PaneDriver
	log    *zap.SugaredLogger

	profiles CLIProfiles
	policies Policies

	ledger    *Ledger
	outbox    *OutboxWriter
	engine    *Engine
	router    *Router
	keepalive *Keepalive
	foreman   *ForemanScheduler
	bridges   *BridgeSupervisor
	status    *StatusWriter

	offsets map[string]int64
	paused  bool
	phase   string
	ticks    uint64
	quit     chan struct{}
	quitting bool

	// wake receives a signal whenever a watched file changes, so command
	// and mailbox handling does not wait for the next tick boundary.
	wake chan struct{}

	// reviews carries finished foreman output from the worker goroutine to
	// the main loop; everything downstream of the router is single-threaded.
	reviews chan foremanReview
}

type foremanReview struct {
	text string
	conf ForemanConf
}

// NewOrchestrator assembles the full pipeline rooted at home.
func NewOrchestrator(home, session string, clock Clock, driver PaneDriver, log *zap.SugaredLogger) (*Orchestrator, error) {
	if err := EnsureMailbox(home); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(StateDir(home), 0755); err != nil {
		return nil, err
	}
	profiles, err := LoadCLIProfiles(home)
	if err != nil {
		return nil, fmt.Errorf("loading cli profiles: %w", err)
	}
	policies := LoadPolicies(home)

	ledger := NewLedger(home, clock, log)
	outboxW, err := NewOutboxWriter(home, clock)
	if err != nil {
		return nil, err
	}
	engine := NewEngine(home, driver, clock, ledger, log)
	router := NewRouter(home, clock, ledger, outboxW, engine, profiles, policies, log)
	keepalive := NewKeepalive(home, clock, ledger, engine)
	foreman := NewForemanScheduler(home, clock, ledger, log)
	bridges := NewBridgeSupervisor(home, clock, ledger, log)
	status := NewStatusWriter(home, session, clock, profiles, policies, engine, foreman, router)

	o := &Orchestrator{
		Home: home, Session: session,
		clock: clock, driver: driver, log: log,
		profiles: profiles, policies: policies,
		ledger: ledger, outbox: outboxW, engine: engine, router: router,
		keepalive: keepalive, foreman: foreman, bridges: bridges, status: status,
		phase:   "running",
		quit:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		reviews: make(chan foremanReview, 4),
	}

	router.OnHandoffPayload = keepalive.ScheduleFromPayload
	keepalive.Send = o.sendSystemNudge
	foreman.OnReview = func(text string, conf ForemanConf) {
		select {
		case o.reviews <- foremanReview{text: text, conf: conf}:
		default:
			ledger.Append(map[string]any{"from": "system", "kind": "foreman-review-dropped"})
		}
	}

	commandsPath := CommandsPath(home)
	_ = touchFile(commandsPath)
	o.offsets = InitCommandOffsets(home, []string{commandsPath})

	o.handleStartupInbox()
	return o, nil
}

// Run drives the loop until the quit command, SIGINT, or SIGTERM.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.watchFiles(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-sigCh:
				o.log.Infow("signal received, shutting down")
				o.shutdown()
				cancel()
				return nil
			case <-o.quit:
				o.shutdown()
				cancel()
				return nil
			case <-o.wake:
				o.Tick()
			case <-ticker.C:
				o.Tick()
			}
		}
	})
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Tick runs one pass of the whole pipeline.
func (o *Orchestrator) Tick() {
	o.ticks++
	o.drainCommands()
	o.router.Process()
	for _, label := range Peers {
		o.engine.FlushOutboxIfIdle(o.profiles.PaneFor(label), label,
			o.profiles.ProfileFor(label), o.profiles.Delivery)
	}
	o.keepalive.Tick()
	o.foreman.Tick()
	for drained := false; !drained; {
		select {
		case rv := <-o.reviews:
			o.deliverForemanReview(rv.text, rv.conf)
		default:
			drained = true
		}
	}
	if o.ticks%bridgeEnsureEvery == 0 {
		o.bridges.EnsureAll()
	}
	o.status.WriteStatus(o.paused, o.phase)
	o.status.WriteQueueAndLocks()
}

// watchFiles wakes the loop on mailbox or command-file writes so deliveries
// start promptly instead of on the next tick boundary. Watch failures are
// non-fatal: the ticker alone is sufficient for correctness.
func (o *Orchestrator) watchFiles(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		o.log.Warnw("fsnotify unavailable, relying on ticker", "error", err)
		<-ctx.Done()
		return ctx.Err()
	}
	defer w.Close()
	for _, label := range Peers {
		_ = w.Add(PeerDir(o.Home, label))
	}
	_ = w.Add(StateDir(o.Home))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			base := filepath.Base(ev.Name)
			if base == "to_user.md" || base == "to_peer.md" || base == "commands.jsonl" {
				select {
				case o.wake <- struct{}{}:
				default:
				}
			}
		case _, ok := <-w.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// drainCommands tails the command queue and dispatches new records.
func (o *Orchestrator) drainCommands() {
	path := CommandsPath(o.Home)
	records, offset := TailCommands(path, o.offsets[path])
	if offset != o.offsets[path] {
		o.offsets[path] = offset
		SaveCommandOffsets(o.Home, o.offsets)
	}
	for _, rec := range records {
		o.dispatch(rec)
	}
}

// dispatch executes one command record and appends its result.
func (o *Orchestrator) dispatch(rec CommandRecord) {
	path := CommandsPath(o.Home)
	reply := func(ok bool, message string, extra map[string]any) {
		if rec.ID != "" {
			AppendCommandResult(path, rec.ID, ok, message, extra)
		}
	}

	switch rec.Type {
	case "a", "b":
		to := PeerA
		if rec.Type == "b" {
			to = PeerB
		}
		text := argString(rec.Args, "text")
		if text == "" {
			reply(false, "missing text", nil)
			return
		}
		status, mid := o.router.SendHandoff(User, to, "<FROM_USER>\n"+text+"\n</FROM_USER>\n")
		reply(true, "sent to "+to+" ("+status+")", map[string]any{"mid": mid, "status": status})

	case "both", "u":
		text := argString(rec.Args, "text")
		if text == "" {
			reply(false, "missing text", nil)
			return
		}
		wrapped := "<FROM_USER>\n" + text + "\n</FROM_USER>\n"
		sa, _ := o.router.SendHandoff(User, PeerA, wrapped)
		sb, _ := o.router.SendHandoff(User, PeerB, wrapped)
		reply(true, fmt.Sprintf("sent to both (A=%s B=%s)", sa, sb), nil)

	case "a!", "b!":
		// Raw passthrough: paste straight into the pane, no wrapper, no
		// idle gate, no MID.
		to := PeerA
		if rec.Type == "b!" {
			to = PeerB
		}
		text := argString(rec.Args, "text")
		if err := o.driver.Send(o.profiles.PaneFor(to), text, o.profiles.ProfileFor(to)); err != nil {
			reply(false, err.Error(), nil)
			return
		}
		reply(true, "passthrough to "+to, nil)

	case "pause":
		o.paused = true
		o.router.Paused = true
		reply(true, "paused A↔B handoff", nil)

	case "resume":
		o.paused = false
		o.router.Paused = false
		reply(true, "resumed A↔B handoff", nil)

	case "anti-on":
		on := true
		o.router.Filter.Override = &on
		reply(true, "handoff filter forced on", nil)

	case "anti-off":
		off := false
		o.router.Filter.Override = &off
		reply(true, "handoff filter forced off", nil)

	case "sys-refresh":
		o.sysRefresh()
		reply(true, "system prompt refreshed (mailbox delivery)", nil)

	case "foreman":
		result := o.foreman.Command(argString(rec.Args, "action"), rec.Source)
		reply(result.OK, result.Message, nil)

	case "reset":
		if err := ResetMailbox(o.Home); err != nil {
			reply(false, err.Error(), nil)
			return
		}
		o.router.Index.Load()
		o.phase = "reset"
		o.ledger.Append(map[string]any{"from": "system", "kind": "mailbox-reset", "source": rec.Source})
		reply(true, "mailbox reset", nil)

	case "c":
		prompt := argString(rec.Args, "text")
		if prompt == "" {
			reply(false, "missing prompt", nil)
			return
		}
		rc, out, cmdLine, err := o.runAux(prompt)
		if err != nil {
			reply(false, "aux runner not configured: "+err.Error(), nil)
			return
		}
		reply(rc == 0, fmt.Sprintf("aux exit=%d", rc),
			map[string]any{"rc": rc, "output": tailOf(out, 4000), "command": cmdLine})

	case "quit":
		reply(true, "quitting", nil)
		if !o.quitting {
			o.quitting = true
			close(o.quit)
		}

	default:
		reply(false, "unknown command: "+rec.Type, nil)
	}
}

// sysRefresh re-delivers the SYSTEM preamble files to both peers, when the
// operator keeps them under settings/.
func (o *Orchestrator) sysRefresh() {
	for _, label := range Peers {
		name := "system_" + FolderName(label) + ".md"
		data, err := os.ReadFile(SettingsFile(o.Home, name))
		if err != nil || len(strings.TrimSpace(string(data))) == 0 {
			continue
		}
		o.router.SendHandoff(System, label, "<FROM_SYSTEM>\n"+string(data)+"\n</FROM_SYSTEM>\n")
	}
}

// sendSystemNudge is the keepalive sender: a normal engine delivery of the
// synthesized system message. The composed nudge text is not sent; the
// engine's own new-arrival nudge after the inbox write covers the pane.
func (o *Orchestrator) sendSystemNudge(to, message, nudge string) {
	o.router.SendHandoff(System, to, message)
	_ = nudge // the engine already nudges the pane on inbox write
}

// deliverForemanReview hands a finished foreman review to PeerA and, when
// configured, mirrors it to the user via the outbox stream.
func (o *Orchestrator) deliverForemanReview(text string, conf ForemanConf) {
	wrapped := "<FROM_SYSTEM>\nForeman review:\n" + text + "\n</FROM_SYSTEM>\n"
	o.router.SendHandoff(Foreman, PeerA, wrapped)
	if conf.ccUser() {
		o.outbox.Append(Event{Type: EventToPeerSummary, From: Foreman, To: PeerA, Text: text})
	}
}

// handleStartupInbox applies the residual-inbox policy: resume leaves
// pending files for the peers, discard moves them to processed/.
func (o *Orchestrator) handleStartupInbox() {
	policy := strings.ToLower(o.profiles.Delivery.InboxStartupPolicy)
	for _, label := range Peers {
		files := ListInboxFiles(o.Home, label)
		if len(files) == 0 {
			continue
		}
		if policy == "discard" {
			moved := 0
			for _, name := range files {
				src := filepath.Join(InboxDir(o.Home, label), name)
				dst := filepath.Join(ProcessedDir(o.Home, label), name)
				if os.Rename(src, dst) == nil {
					moved++
				}
			}
			o.ledger.Append(map[string]any{"from": "system", "kind": "startup-inbox-discard", "peer": label, "moved": moved})
			continue
		}
		o.ledger.Append(map[string]any{"from": "system", "kind": "startup-inbox-resume", "peer": label, "pending": len(files)})
	}
}

// shutdown writes the final snapshots. Bridges stay up: they reconnect to
// the next orchestrator through the stream cursor.
func (o *Orchestrator) shutdown() {
	o.phase = "stopped"
	o.status.WriteStatus(o.paused, o.phase)
	o.status.WriteQueueAndLocks()
	_ = o.outbox.Close()
	o.ledger.Append(map[string]any{"from": "system", "kind": "orchestrator-stop"})
}

// runAux executes the configured one-off helper and records the run.
func (o *Orchestrator) runAux(prompt string) (int, string, string, error) {
	rc, out, cmdLine, err := RunAux(o.Home, prompt)
	if err == nil {
		o.ledger.Append(map[string]any{"from": "system", "kind": "aux-run", "rc": rc, "chars": len(out)})
	}
	return rc, out, cmdLine, err
}

// tailOf keeps the last n bytes of command output for result records.
func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}
