package cmd

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zixuniaowu/cccc/fabric"
)

// Send appends a user message command to the running orchestrator's queue.
// Route is "a", "b", or "both"; "a!"/"b!" pass raw text through to the pane.
func Send(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	home := fs.String("home", ".cccc", "orchestrator home directory")
	route := fs.String("route", "both", "a | b | both | a! | b!")
	_ = fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(os.Stderr, "send: empty message")
		os.Exit(1)
	}
	switch *route {
	case "a", "b", "both", "a!", "b!":
	default:
		fmt.Fprintf(os.Stderr, "send: bad route %q\n", *route)
		os.Exit(1)
	}
	if err := appendCommand(*home, *route, map[string]any{"text": text}); err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		os.Exit(1)
	}
}

// ForemanCmd appends a foreman control command (on|off|now|status).
func ForemanCmd(args []string) {
	fs := flag.NewFlagSet("foreman", flag.ExitOnError)
	home := fs.String("home", ".cccc", "orchestrator home directory")
	_ = fs.Parse(args)

	action := "status"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}
	if err := appendCommand(*home, "foreman", map[string]any{"action": action}); err != nil {
		fmt.Fprintf(os.Stderr, "foreman: %v\n", err)
		os.Exit(1)
	}
}

// Quit asks the running orchestrator to shut down.
func Quit(args []string) {
	fs := flag.NewFlagSet("quit", flag.ExitOnError)
	home := fs.String("home", ".cccc", "orchestrator home directory")
	_ = fs.Parse(args)

	if err := appendCommand(*home, "quit", nil); err != nil {
		fmt.Fprintf(os.Stderr, "quit: %v\n", err)
		os.Exit(1)
	}
}

// appendCommand writes one command record and prints its id so callers can
// correlate the result line.
func appendCommand(home, typ string, cmdArgs map[string]any) error {
	rec := fabric.CommandRecord{
		ID:     uuid.NewString()[:8],
		Type:   typ,
		Args:   cmdArgs,
		Source: "cli",
		TS:     time.Now().Format("2006-01-02 15:04:05"),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(fabric.StateDir(home), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(fabric.CommandsPath(home), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	fmt.Println(rec.ID)
	return nil
}
