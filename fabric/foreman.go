package fabric

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// staleGrace is added to max_run_seconds before a silent run is declared
// dead and force-cleaned.
const staleGrace = 20 * time.Second

// ForemanState is the persisted scheduler state (state/foreman.json).
type ForemanState struct {
	Running            bool    `json:"running"`
	NextDueTS          float64 `json:"next_due_ts"`
	LastStartTS        float64 `json:"last_start_ts"`
	LastHeartbeatTS    float64 `json:"last_heartbeat_ts"`
	LastEndTS          float64 `json:"last_end_ts"`
	LastRC             *int    `json:"last_rc"`
	LastOutDir         string  `json:"last_out_dir"`
	QueuedAfterCurrent bool    `json:"queued_after_current"`
}

// CommandResult is the structured reply to a foreman control command.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ForemanScheduler runs the periodic reviewer agent: a single background
// worker at a time, serialized by the lockfile, with heartbeat-based stale
// recovery. The lockfile is the only authority on "is a run in progress".
type ForemanScheduler struct {
	home   string
	clock  Clock
	ledger *Ledger
	log    *zap.SugaredLogger

	// RunOnce executes one reviewer pass; overridable in tests. The default
	// shells out to the configured command with output under state/foreman/.
	RunOnce func(conf ForemanConf)

	// OnReview receives the foreman's to_peer.md content after a run so the
	// orchestrator can hand it to PeerA (and cc the user).
	OnReview func(text string, conf ForemanConf)

	workerAlive atomic.Bool
}

// NewForemanScheduler creates the scheduler with the default runner.
func NewForemanScheduler(home string, clock Clock, ledger *Ledger, log *zap.SugaredLogger) *ForemanScheduler {
	f := &ForemanScheduler{home: home, clock: clock, ledger: ledger, log: log}
	f.RunOnce = f.runCommand
	return f
}

// LoadState reads the persisted scheduler state.
func (f *ForemanScheduler) LoadState() ForemanState {
	var st ForemanState
	readJSONFile(ForemanStatePath(f.home), &st)
	return st
}

// SaveState persists scheduler state atomically.
func (f *ForemanScheduler) SaveState(st ForemanState) {
	_ = writeJSONFile(ForemanStatePath(f.home), st)
}

// WorkerAlive reports whether the background worker goroutine is running.
func (f *ForemanScheduler) WorkerAlive() bool {
	return f.workerAlive.Load()
}

// Tick advances the scheduler: stale recovery, due computation, and at most
// one new run start per pass.
func (f *ForemanScheduler) Tick() {
	conf := LoadForemanConf(f.home)
	if !conf.Enabled {
		return
	}
	st := f.LoadState()
	now := f.clock.Now()
	nowTS := float64(now.Unix())
	lock := ForemanLockPath(f.home)

	// Stale recovery: a run marked live whose worker is gone and whose
	// heartbeat is older than the run budget gets force-cleared.
	if st.Running && !f.workerAlive.Load() {
		hbAge := nowTS - st.LastHeartbeatTS
		if hbAge > conf.maxRunSeconds()+staleGrace.Seconds() {
			st.Running = false
			f.SaveState(st)
			_ = os.Remove(lock)
			f.ledger.Append(map[string]any{"from": "system", "kind": "foreman-stale-clean"})
		}
	}

	if st.NextDueTS <= 0 {
		st.NextDueTS = nowTS + conf.interval()
		f.SaveState(st)
	}

	due := nowTS >= st.NextDueTS
	if (due || st.QueuedAfterCurrent) && !st.Running && !f.workerAlive.Load() {
		if _, err := os.Stat(lock); err == nil {
			return // someone else holds the slot
		}
		st.Running = true
		st.NextDueTS = nowTS + conf.interval()
		st.QueuedAfterCurrent = false
		st.LastStartTS = nowTS
		st.LastHeartbeatTS = nowTS
		f.SaveState(st)
		if err := os.WriteFile(lock, []byte(strconv.FormatInt(now.Unix(), 10)), 0644); err != nil {
			f.log.Warnw("foreman lock write failed", "error", err)
		}
		confSnapshot := conf
		f.workerAlive.Store(true)
		go func() {
			defer f.workerAlive.Store(false)
			defer f.finishRun()
			f.RunOnce(confSnapshot)
		}()
	}
}

// Command handles on|off|now|status from the console or command queue.
func (f *ForemanScheduler) Command(action, origin string) CommandResult {
	label := strings.ToLower(strings.TrimSpace(action))
	if label == "" {
		label = "status"
	}
	conf := LoadForemanConf(f.home)
	st := f.LoadState()
	lock := ForemanLockPath(f.home)
	now := float64(f.clock.Now().Unix())

	switch label {
	case "on", "enable", "start":
		if !conf.allowed() {
			return CommandResult{OK: false, Message: "Foreman was not enabled at startup; restart to enable."}
		}
		conf.Enabled = true
		if err := SaveForemanConf(f.home, conf); err != nil {
			return CommandResult{OK: false, Message: fmt.Sprintf("Foreman enable failed: %v", err)}
		}
		st.Running = false
		st.NextDueTS = now + conf.interval()
		st.LastHeartbeatTS = now
		st.QueuedAfterCurrent = false
		f.SaveState(st)
		_ = os.Remove(lock)
		return CommandResult{OK: true, Message: "Foreman enabled"}

	case "now":
		if !conf.allowed() {
			return CommandResult{OK: false, Message: "Foreman was not enabled at startup; restart to enable."}
		}
		if st.Running {
			st.QueuedAfterCurrent = true
			f.SaveState(st)
			return CommandResult{OK: true, Message: "Foreman already running; queued one run after current finishes."}
		}
		st.NextDueTS = now - 1
		st.QueuedAfterCurrent = false
		st.Running = false
		f.SaveState(st)
		_ = os.Remove(lock)
		f.Tick()
		if f.workerAlive.Load() {
			return CommandResult{OK: true, Message: "Foreman started (now)"}
		}
		return CommandResult{OK: true, Message: "Foreman queued to start (tick scheduled)."}

	case "off", "disable", "stop":
		conf.Enabled = false
		if err := SaveForemanConf(f.home, conf); err != nil {
			return CommandResult{OK: false, Message: fmt.Sprintf("Foreman disable failed: %v", err)}
		}
		st.QueuedAfterCurrent = false
		f.SaveState(st)
		return CommandResult{OK: true, Message: "Foreman disabled"}
	}

	// status (default)
	onOff := "OFF"
	if conf.Enabled {
		onOff = "ON"
	}
	allowed := "NO"
	if conf.allowed() {
		allowed = "YES"
	}
	running := "NO"
	if st.Running {
		running = "YES"
	}
	nextIn := "-"
	if st.NextDueTS > 0 {
		d := st.NextDueTS - now
		if d < 0 {
			d = 0
		}
		nextIn = fmt.Sprintf("%ds", int(d))
	}
	lastRC := "-"
	if st.LastRC != nil {
		lastRC = strconv.Itoa(*st.LastRC)
	}
	outDir := st.LastOutDir
	if outDir == "" {
		outDir = "-"
	}
	ccUser := "OFF"
	if conf.ccUser() {
		ccUser = "ON"
	}
	msg := fmt.Sprintf(
		"Foreman status: %s allowed=%s agent=%s interval=%.0fs cc_user=%s\n"+
			"running=%s next_in=%s last_start=%s last_hb=%s last_end=%s last_rc=%s out=%s",
		onOff, allowed, conf.Agent, conf.interval(), ccUser,
		running, nextIn, age(st.LastStartTS, now), age(st.LastHeartbeatTS, now),
		age(st.LastEndTS, now), lastRC, outDir)
	return CommandResult{OK: true, Message: msg}
}

// runCommand is the default RunOnce: execute the configured reviewer
// command, heartbeating while it runs, then record rc and hand the review
// output to the orchestrator.
func (f *ForemanScheduler) runCommand(conf ForemanConf) {
	stamp := f.clock.Now().Format("20060102-150405")
	outDir := ForemanOutDir(f.home, stamp)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		f.log.Warnw("foreman out dir failed", "error", err)
		return
	}
	st := f.LoadState()
	st.LastOutDir = outDir
	f.SaveState(st)

	if conf.Command == "" {
		f.ledger.Append(map[string]any{"from": "system", "kind": "foreman-skip", "reason": "no-command"})
		return
	}

	logFile, err := os.Create(outDir + "/run.log")
	if err != nil {
		f.log.Warnw("foreman log create failed", "error", err)
		return
	}
	defer logFile.Close()

	cmd := exec.Command("sh", "-c", conf.Command)
	cmd.Dir = f.home
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), conf.ExtraEnv...)
	cmd.Env = append(cmd.Env, "CCCC_FOREMAN_OUT="+outDir)
	if err := cmd.Start(); err != nil {
		f.ledger.Append(map[string]any{"from": "system", "kind": "foreman-start-error", "error": err.Error()})
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	budget := time.Duration(conf.maxRunSeconds() * float64(time.Second))
	heartbeat := time.NewTicker(10 * time.Second)
	defer heartbeat.Stop()
	deadline := time.NewTimer(budget)
	defer deadline.Stop()

	rc := 0
	for waiting := true; waiting; {
		select {
		case err := <-done:
			waiting = false
			if exit, ok := err.(*exec.ExitError); ok {
				rc = exit.ExitCode()
			} else if err != nil {
				rc = -1
			}
		case <-heartbeat.C:
			hb := f.LoadState()
			hb.LastHeartbeatTS = float64(f.clock.Now().Unix())
			f.SaveState(hb)
		case <-deadline.C:
			_ = cmd.Process.Kill()
			rc = 124
			<-done
			waiting = false
		}
	}

	st = f.LoadState()
	st.LastRC = &rc
	f.SaveState(st)
	f.ledger.Append(map[string]any{"from": "system", "kind": "foreman-run-end", "rc": rc, "out": outDir})

	f.deliverReview(conf)
}

// finishRun clears the running flag and lockfile when a worker exits.
func (f *ForemanScheduler) finishRun() {
	st := f.LoadState()
	st.Running = false
	st.LastEndTS = float64(f.clock.Now().Unix())
	f.SaveState(st)
	_ = os.Remove(ForemanLockPath(f.home))
}

// deliverReview reads mailbox/foreman/to_peer.md and forwards fresh content
// through the orchestrator hook, then sentinels the file.
func (f *ForemanScheduler) deliverReview(conf ForemanConf) {
	path := ToPeerPath(f.home, Foreman)
	changed, text, sha := ReadIfChanged(path, "", nil)
	if !changed || text == "" {
		return
	}
	if f.OnReview != nil {
		f.OnReview(text, conf)
	}
	eid := EventID(EventToPeerSummary, Foreman, text)
	WriteSentinel(path, Sentinel{
		TS:    FormatUTCZ(f.clock.Now()),
		EID:   eid,
		SHA8:  sha[:8],
		Route: Foreman + "→" + PeerA,
	})
}

func age(ts, now float64) string {
	if ts <= 0 {
		return "-"
	}
	sec := int(now - ts)
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%ds", sec)
}
