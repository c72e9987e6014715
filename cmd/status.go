package cmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/zixuniaowu/cccc/fabric"
)

// Status prints the latest status snapshot written by the orchestrator.
func Status(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	home := fs.String("home", ".cccc", "orchestrator home directory")
	_ = fs.Parse(args)

	data, err := os.ReadFile(fabric.StatusPath(*home))
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: no snapshot yet (%v)\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
	fmt.Println()
}

// Tail follows the outbox stream from a durable cursor, printing events as
// they arrive. This is the same consumer contract the bridges use.
func Tail(args []string) {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	home := fs.String("home", ".cccc", "orchestrator home directory")
	name := fs.String("name", "cli-tail", "consumer cursor name")
	start := fs.String("start", "replay_last:10", "tail | head | replay_last:N")
	once := fs.Bool("once", false, "drain available events and exit")
	_ = fs.Parse(args)

	consumer, err := fabric.NewConsumer(*home, *name, *start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tail: %v\n", err)
		os.Exit(1)
	}
	print := func(ev fabric.Event) {
		who := ev.Peer
		if who == "" {
			who = ev.From + "→" + ev.To
		}
		fmt.Printf("%s  %-16s %-14s %s\n", ev.TS, ev.Type, who, firstLine(ev.Text))
	}
	for {
		if err := consumer.Poll(print, print); err != nil {
			fmt.Fprintf(os.Stderr, "tail: %v\n", err)
			os.Exit(1)
		}
		if *once {
			return
		}
		waitTick()
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i] + " …"
		}
	}
	return s
}
