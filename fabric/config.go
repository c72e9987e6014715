package fabric

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes how one peer's CLI pane accepts input and reveals
// readiness. Loaded from settings/cli_profiles.yaml per peer.
type Profile struct {
	Actor   string `yaml:"actor"`
	Command string `yaml:"command"`

	InputMode        string   `yaml:"input_mode"` // "paste" (default) or "type"
	PromptRegex      string   `yaml:"prompt_regex"`
	BusyRegexes      []string `yaml:"busy_regexes"`
	IdleQuietSeconds float64  `yaml:"idle_quiet_seconds"`

	PostPasteKeys     []string `yaml:"post_paste_keys"`
	ComposeNewlineKey string   `yaml:"compose_newline_key"`
	SendSequence      string   `yaml:"send_sequence"`
	LineSendKey       string   `yaml:"line_send_key"`
	TypeSendAtEnd     *bool    `yaml:"type_send_at_end"`
	ChunkLines        int      `yaml:"chunk_lines"`
	ChunkDelayMS      int      `yaml:"chunk_delay_ms"`
}

func (p Profile) postPasteKeys() []string {
	if len(p.PostPasteKeys) > 0 {
		return p.PostPasteKeys
	}
	return []string{"Enter", "Enter", "C-m"}
}

func (p Profile) composeNewlineKey() string {
	if p.ComposeNewlineKey != "" {
		return p.ComposeNewlineKey
	}
	return "Enter"
}

func (p Profile) sendSequence() string {
	if p.SendSequence != "" {
		return p.SendSequence
	}
	return "C-m"
}

func (p Profile) lineSendKey() string {
	if p.LineSendKey != "" {
		return p.LineSendKey
	}
	return p.sendSequence()
}

func (p Profile) typeSendAtEnd() bool {
	if p.TypeSendAtEnd == nil {
		return true
	}
	return *p.TypeSendAtEnd
}

func (p Profile) idleQuietSeconds() float64 {
	if p.IdleQuietSeconds <= 0 {
		return 1.5
	}
	return p.IdleQuietSeconds
}

// DeliveryConf tunes the delivery engine. Shared by both peers.
type DeliveryConf struct {
	RequireAck             bool    `yaml:"require_ack"`
	PasteMaxWaitSeconds    float64 `yaml:"paste_max_wait_seconds"`
	RecheckIntervalSeconds float64 `yaml:"recheck_interval_seconds"`
	MaxFlushBatch          int     `yaml:"max_flush_batch"`
	NudgePane              *bool   `yaml:"nudge_pane"`
	InboxStartupPolicy     string  `yaml:"inbox_startup_policy"` // resume | discard
}

func (c DeliveryConf) pasteMaxWait() float64 {
	if c.PasteMaxWaitSeconds <= 0 {
		return 6
	}
	return c.PasteMaxWaitSeconds
}

func (c DeliveryConf) recheckInterval() float64 {
	if c.RecheckIntervalSeconds <= 0 {
		return 0.6
	}
	return c.RecheckIntervalSeconds
}

func (c DeliveryConf) maxFlushBatch() int {
	if c.MaxFlushBatch <= 0 {
		return 3
	}
	return c.MaxFlushBatch
}

func (c DeliveryConf) nudgePane() bool {
	if c.NudgePane == nil {
		return true
	}
	return *c.NudgePane
}

// CLIProfiles is the settings/cli_profiles.yaml document.
type CLIProfiles struct {
	PeerA    Profile      `yaml:"peerA"`
	PeerB    Profile      `yaml:"peerB"`
	Delivery DeliveryConf `yaml:"delivery"`
	Panes    PaneTargets  `yaml:"panes"`
}

// PaneTargets names the tmux panes the peers run in.
type PaneTargets struct {
	PeerA string `yaml:"peerA"`
	PeerB string `yaml:"peerB"`
}

// ProfileFor returns the profile for a peer label.
func (c CLIProfiles) ProfileFor(label string) Profile {
	if label == PeerB {
		return c.PeerB
	}
	return c.PeerA
}

// PaneFor returns the tmux pane target for a peer label, defaulting to the
// conventional cccc:0.0 / cccc:0.1 layout.
func (c CLIProfiles) PaneFor(label string) string {
	if label == PeerB {
		if c.Panes.PeerB != "" {
			return c.Panes.PeerB
		}
		return "cccc:0.1"
	}
	if c.Panes.PeerA != "" {
		return c.Panes.PeerA
	}
	return "cccc:0.0"
}

// KeepaliveConf is the settings/keepalive.yaml document.
type KeepaliveConf struct {
	Enabled              *bool   `yaml:"enabled"`
	DelaySeconds         float64 `yaml:"delay_seconds"`
	SinglePeer           bool    `yaml:"single_peer"`
	SinglePeerDelaySecs  float64 `yaml:"single_peer_delay_seconds"`
	SinglePeerMaxNudges  int     `yaml:"single_peer_max_nudges"`
	Debug                bool    `yaml:"debug"`
}

func (c KeepaliveConf) enabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

func (c KeepaliveConf) delaySeconds() float64 {
	if c.DelaySeconds <= 0 {
		return 90
	}
	return c.DelaySeconds
}

func (c KeepaliveConf) singlePeerDelay() float64 {
	if c.SinglePeerDelaySecs <= 0 {
		return 240
	}
	return c.SinglePeerDelaySecs
}

func (c KeepaliveConf) singlePeerMaxNudges() int {
	if c.SinglePeerMaxNudges <= 0 {
		return 3
	}
	return c.SinglePeerMaxNudges
}

// ForemanConf is the settings/foreman.yaml document.
type ForemanConf struct {
	Enabled        bool     `yaml:"enabled"`
	Allowed        *bool    `yaml:"allowed"`
	Agent          string   `yaml:"agent"`
	Command        string   `yaml:"command"`
	IntervalSecs   float64  `yaml:"interval_seconds"`
	MaxRunSeconds  float64  `yaml:"max_run_seconds"`
	CCUser         *bool    `yaml:"cc_user"`
	ExtraEnv       []string `yaml:"extra_env"`
}

func (c ForemanConf) allowed() bool {
	if c.Allowed == nil {
		return c.Enabled
	}
	return *c.Allowed
}

func (c ForemanConf) interval() float64 {
	if c.IntervalSecs <= 0 {
		return 900
	}
	return c.IntervalSecs
}

func (c ForemanConf) maxRunSeconds() float64 {
	if c.MaxRunSeconds <= 0 {
		return 900
	}
	return c.MaxRunSeconds
}

func (c ForemanConf) ccUser() bool {
	if c.CCUser == nil {
		return true
	}
	return *c.CCUser
}

// BridgeConf is one settings/<adapter>.yaml document. Bridges are external
// subprocesses; the orchestrator only needs enough to decide autostart.
type BridgeConf struct {
	Autostart   *bool    `yaml:"autostart"`
	Command     []string `yaml:"command"`
	Token       string   `yaml:"token"`
	TokenEnv    string   `yaml:"token_env"`
	BotToken    string   `yaml:"bot_token"`
	BotTokenEnv string   `yaml:"bot_token_env"`
	AppToken    string   `yaml:"app_token"`
	AppTokenEnv string   `yaml:"app_token_env"`
	WebhookURL  string   `yaml:"webhook_url"`
}

// ForwardPolicy configures the low-signal handoff filter.
type ForwardPolicy struct {
	Enabled         *bool   `yaml:"enabled"`
	MinChars        int     `yaml:"min_chars"`
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
}

func (p ForwardPolicy) enabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

func (p ForwardPolicy) minChars() int {
	if p.MinChars <= 0 {
		return 8
	}
	return p.MinChars
}

// Policies is the settings/policies.yaml document.
type Policies struct {
	HandoffFilter ForwardPolicy `yaml:"handoff_filter"`
}

// ReadYAMLFile loads a YAML document into out, falling back to JSON the way
// the bridges' settings were historically written. Missing files leave out
// at its zero value without error.
func ReadYAMLFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if yaml.Unmarshal(data, out) == nil {
		return nil
	}
	if json.Unmarshal(data, out) == nil {
		return nil
	}
	return fmt.Errorf("unparseable settings file %s", path)
}

// LoadCLIProfiles reads settings/cli_profiles.yaml.
func LoadCLIProfiles(home string) (CLIProfiles, error) {
	var c CLIProfiles
	err := ReadYAMLFile(SettingsFile(home, "cli_profiles.yaml"), &c)
	return c, err
}

// LoadKeepaliveConf reads settings/keepalive.yaml.
func LoadKeepaliveConf(home string) KeepaliveConf {
	var c KeepaliveConf
	_ = ReadYAMLFile(SettingsFile(home, "keepalive.yaml"), &c)
	return c
}

// LoadForemanConf reads settings/foreman.yaml.
func LoadForemanConf(home string) ForemanConf {
	var c ForemanConf
	_ = ReadYAMLFile(SettingsFile(home, "foreman.yaml"), &c)
	return c
}

// SaveForemanConf persists settings/foreman.yaml (the on/off toggles).
func SaveForemanConf(home string, c ForemanConf) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return writeFileAtomic(SettingsFile(home, "foreman.yaml"), data)
}

// LoadPolicies reads settings/policies.yaml.
func LoadPolicies(home string) Policies {
	var p Policies
	_ = ReadYAMLFile(SettingsFile(home, "policies.yaml"), &p)
	return p
}
