package cmd

import "time"

// waitTick paces the polling commands (tail) at the loop cadence.
func waitTick() {
	time.Sleep(500 * time.Millisecond)
}
