package cmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/zixuniaowu/cccc/fabric"
)

// Init creates the mailbox and state tree under the home directory.
func Init(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	home := fs.String("home", ".cccc", "orchestrator home directory")
	_ = fs.Parse(args)

	if err := fabric.EnsureMailbox(*home); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(fabric.StateDir(*home), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(fabric.SettingsDir(*home), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s\n", *home)
}

// Reset clears the mailbox message files and the seen-index.
func Reset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	home := fs.String("home", ".cccc", "orchestrator home directory")
	_ = fs.Parse(args)

	if err := fabric.ResetMailbox(*home); err != nil {
		fmt.Fprintf(os.Stderr, "reset: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Mailbox reset (processed/ kept).")
}
