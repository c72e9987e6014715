package main

import (
	"fmt"
	"os"

	"github.com/zixuniaowu/cccc/cmd"
)

var usage = `Usage: cccc <command> [args...]

Commands:
  run       Run the orchestrator loop (foreground)
  init      Create mailbox, state, and settings directories
  reset     Clear mailbox message files and the seen-index
  send      Queue a user message for a peer (-route a|b|both|a!|b!)
  foreman   Control the foreman scheduler (on|off|now|status)
  status    Print the latest status snapshot
  tail      Follow the outbox event stream (bridge consumer contract)
  quit      Ask a running orchestrator to shut down
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	subcmd := os.Args[1]
	args := os.Args[2:]

	switch subcmd {
	case "run":
		cmd.Run(args)
	case "init":
		cmd.Init(args)
	case "reset":
		cmd.Reset(args)
	case "send":
		cmd.Send(args)
	case "foreman":
		cmd.ForemanCmd(args)
	case "status":
		cmd.Status(args)
	case "tail":
		cmd.Tail(args)
	case "quit":
		cmd.Quit(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}
