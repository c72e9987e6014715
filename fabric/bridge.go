package fabric

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// BridgeAdapters lists the outbound chat adapters the supervisor manages.
var BridgeAdapters = []string{"telegram", "slack", "discord", "wecom"}

// warnCooldownMin is the floor on how often the same bridge warning may
// repeat.
const warnCooldownMin = 30 * time.Second

// bridgeWarning is one persisted entry of state/bridge-warnings.json.
type bridgeWarning struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	LastTS  float64 `json:"last_ts"`
	NextAt  float64 `json:"next_at"`
}

// BridgeSupervisor conditionally spawns and respawns the outbound adapter
// processes. Adapters are external programs; the supervisor only decides
// autostart, injects tokens, and tracks liveness through PID files verified
// with a kill-0 check (the PID file alone is not authoritative).
type BridgeSupervisor struct {
	home   string
	clock  Clock
	ledger *Ledger
	log    *zap.SugaredLogger
}

// NewBridgeSupervisor creates the supervisor.
func NewBridgeSupervisor(home string, clock Clock, ledger *Ledger, log *zap.SugaredLogger) *BridgeSupervisor {
	return &BridgeSupervisor{home: home, clock: clock, ledger: ledger, log: log}
}

// EnsureAll ticks every adapter once.
func (s *BridgeSupervisor) EnsureAll() {
	for _, adapter := range BridgeAdapters {
		s.ensure(adapter)
	}
}

// ensure starts one adapter when configured, tokened, and not already alive.
func (s *BridgeSupervisor) ensure(adapter string) {
	var cfg BridgeConf
	if err := ReadYAMLFile(SettingsFile(s.home, adapter+".yaml"), &cfg); err != nil {
		s.warnOnce(adapter, "bad-settings", err.Error(), 120*time.Second)
		return
	}

	pidf := BridgePidPath(s.home, adapter)
	if pid := readPidFile(pidf); pidAlive(pid) {
		return
	}
	if !bridgeAutostart(adapter, cfg) {
		return
	}
	env, ok := bridgeEnv(adapter, cfg)
	if !ok {
		return // not configured yet; silent, matching startup behavior
	}

	argv := cfg.Command
	if len(argv) == 0 {
		argv = []string{"cccc-bridge-" + adapter}
	}
	bin, err := exec.LookPath(argv[0])
	if err != nil {
		s.warnOnce(adapter, "missing_dep:"+argv[0],
			argv[0]+" not found on PATH; install the "+adapter+" bridge adapter", 120*time.Second)
		return
	}
	s.clearWarning(adapter, "missing_dep:")

	cmd := exec.Command(bin, argv[1:]...)
	cmd.Dir = s.home
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		s.ledger.Append(map[string]any{"from": "system", "kind": "bridge-start-error",
			"adapter": adapter, "error": truncate(err.Error(), 200)})
		return
	}
	_ = os.WriteFile(pidf, []byte(strconv.Itoa(cmd.Process.Pid)), 0644)
	s.ledger.Append(map[string]any{"from": "system", "kind": "bridge-start",
		"adapter": adapter, "pid": cmd.Process.Pid})
	go cmd.Wait()
}

// bridgeEnv builds the adapter environment, returning false when the
// required token is absent.
func bridgeEnv(adapter string, cfg BridgeConf) ([]string, bool) {
	env := os.Environ()
	env = append(env, "CCCC_ADAPTER="+adapter)

	set := func(literal, envName, fallback string) (ok bool) {
		name := envName
		if name == "" {
			name = fallback
		}
		if literal != "" {
			env = append(env, name+"="+literal)
			return true
		}
		return os.Getenv(name) != ""
	}

	switch adapter {
	case "telegram":
		ok := set(cfg.Token, cfg.TokenEnv, "TELEGRAM_BOT_TOKEN")
		return env, ok
	case "slack":
		if !set(cfg.BotToken, cfg.BotTokenEnv, "SLACK_BOT_TOKEN") {
			return env, false
		}
		set(cfg.AppToken, cfg.AppTokenEnv, "SLACK_APP_TOKEN")
		return env, true
	case "discord":
		ok := set(cfg.BotToken, cfg.BotTokenEnv, "DISCORD_BOT_TOKEN")
		return env, ok
	case "wecom":
		if cfg.WebhookURL != "" {
			env = append(env, "WECOM_WEBHOOK_URL="+cfg.WebhookURL)
			return env, true
		}
		return env, os.Getenv("WECOM_WEBHOOK_URL") != ""
	}
	return env, false
}

// bridgeAutostart resolves the autostart default: telegram historically
// defaults on, the rest off.
func bridgeAutostart(adapter string, cfg BridgeConf) bool {
	if cfg.Autostart != nil {
		return *cfg.Autostart
	}
	return adapter == "telegram"
}

// bridgeTokenPresent reports whether an adapter has the credentials it
// needs to start, via settings literal or environment.
func bridgeTokenPresent(adapter string, cfg BridgeConf) bool {
	_, ok := bridgeEnv(adapter, cfg)
	return ok
}

// warnOnce records a warning with cooldown so a missing dependency does not
// spam the ledger every tick.
func (s *BridgeSupervisor) warnOnce(adapter, code, message string, cooldown time.Duration) {
	if cooldown < warnCooldownMin {
		cooldown = warnCooldownMin
	}
	now := float64(s.clock.Now().Unix())
	warnings := s.loadWarnings()
	ent, exists := warnings[adapter]
	if exists && now < ent.NextAt && ent.Code == code && ent.Message == message {
		return
	}
	s.log.Warnw("bridge warning", "adapter", adapter, "code", code, "message", message)
	s.ledger.Append(map[string]any{"from": "system", "kind": "bridge-warning",
		"adapter": adapter, "code": code, "message": truncate(message, 300)})
	warnings[adapter] = bridgeWarning{
		Code: code, Message: message, LastTS: now,
		NextAt: now + cooldown.Seconds(),
	}
	s.saveWarnings(warnings)
}

// clearWarning removes an adapter's warning once its cause is gone.
func (s *BridgeSupervisor) clearWarning(adapter, codePrefix string) {
	warnings := s.loadWarnings()
	ent, ok := warnings[adapter]
	if !ok {
		return
	}
	if codePrefix != "" && !strings.HasPrefix(ent.Code, codePrefix) {
		return
	}
	delete(warnings, adapter)
	s.saveWarnings(warnings)
}

func (s *BridgeSupervisor) loadWarnings() map[string]bridgeWarning {
	out := map[string]bridgeWarning{}
	readJSONFile(BridgeWarningsPath(s.home), &out)
	return out
}

func (s *BridgeSupervisor) saveWarnings(w map[string]bridgeWarning) {
	_ = writeJSONFile(BridgeWarningsPath(s.home), w)
}

// readPidFile parses a PID file, 0 when missing or malformed.
func readPidFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// pidAlive tests liveness with signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
