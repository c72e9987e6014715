package fabric

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PaneDriver abstracts the terminal multiplexer pane a peer CLI runs in.
// The orchestrator only ever captures recent output and injects text; it
// never emulates the terminal itself.
type PaneDriver interface {
	// Capture returns ANSI-stripped plain text of the last lines of the
	// pane's scrollback.
	Capture(pane string, lines int) string
	// Send injects text using the profile's input mode (paste or type) and
	// submits it.
	Send(pane, text string, profile Profile) error
	// SendCtrlC interrupts the pane's foreground process.
	SendCtrlC(pane string) error
}

// TmuxDriver drives real tmux panes through the tmux CLI.
type TmuxDriver struct {
	clock Clock
	log   *zap.SugaredLogger
}

// NewTmuxDriver returns a driver shelling out to tmux.
func NewTmuxDriver(clock Clock, log *zap.SugaredLogger) *TmuxDriver {
	return &TmuxDriver{clock: clock, log: log}
}

func (d *TmuxDriver) tmux(args ...string) (string, error) {
	out, err := exec.Command("tmux", args...).Output()
	return string(out), err
}

// Capture implements PaneDriver.
func (d *TmuxDriver) Capture(pane string, lines int) string {
	out, err := d.tmux("capture-pane", "-t", pane, "-p", "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return ""
	}
	return StripANSI(out)
}

// Send implements PaneDriver, selecting paste or type per profile.
func (d *TmuxDriver) Send(pane, text string, profile Profile) error {
	if profile.InputMode == "type" {
		return d.typeText(pane, text, profile)
	}
	return d.paste(pane, text, profile)
}

// cancelCopyMode leaves copy-mode if the pane is in it; tmux would otherwise
// eat the paste.
func (d *TmuxDriver) cancelCopyMode(pane string) {
	out, err := d.tmux("display-message", "-p", "-t", pane, "#{pane_in_mode}")
	if err != nil {
		return
	}
	switch strings.TrimSpace(out) {
	case "1", "on", "yes":
		_, _ = d.tmux("send-keys", "-t", pane, "-X", "cancel")
	}
}

// paste loads the text into a named tmux buffer and bracketed-pastes it,
// then sends the profile's post-paste key sequence to submit.
func (d *TmuxDriver) paste(pane, text string, profile Profile) error {
	d.cancelCopyMode(pane)

	f, err := os.CreateTemp("", "cccc-paste-*")
	if err != nil {
		return fmt.Errorf("paste buffer temp file: %w", err)
	}
	fname := f.Name()
	defer os.Remove(fname)
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	buf := fmt.Sprintf("buf-%d", d.clock.Now().UnixMilli())
	if _, err := d.tmux("load-buffer", "-b", buf, fname); err != nil {
		return fmt.Errorf("tmux load-buffer: %w", err)
	}
	defer d.tmux("delete-buffer", "-b", buf)
	if _, err := d.tmux("paste-buffer", "-p", "-t", pane, "-b", buf); err != nil {
		return fmt.Errorf("tmux paste-buffer: %w", err)
	}
	// Let the paste stream drain before submit keys; TUI input boxes drop
	// keys that arrive mid-paste.
	d.clock.Sleep(150 * time.Millisecond)
	for _, k := range profile.postPasteKeys() {
		if _, err := d.tmux("send-keys", "-t", pane, k); err != nil {
			return fmt.Errorf("tmux send-keys %s: %w", k, err)
		}
	}
	return nil
}

// typeText sends the text line by line for TUIs that mishandle paste.
func (d *TmuxDriver) typeText(pane, text string, profile Profile) error {
	d.cancelCopyMode(pane)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if _, err := d.tmux("send-keys", "-t", pane, "-l", line); err != nil {
			return fmt.Errorf("tmux send-keys line %d: %w", i, err)
		}
		last := i == len(lines)-1
		switch {
		case !last:
			_, _ = d.tmux("send-keys", "-t", pane, profile.composeNewlineKey())
		case profile.typeSendAtEnd():
			_, _ = d.tmux("send-keys", "-t", pane, profile.sendSequence())
		default:
			_, _ = d.tmux("send-keys", "-t", pane, profile.lineSendKey())
		}
		if profile.ChunkLines > 0 && (i+1)%profile.ChunkLines == 0 {
			d.clock.Sleep(time.Duration(profile.ChunkDelayMS) * time.Millisecond)
		}
	}
	return nil
}

// SendCtrlC implements PaneDriver.
func (d *TmuxDriver) SendCtrlC(pane string) error {
	_, err := d.tmux("send-keys", "-t", pane, "C-c")
	return err
}
