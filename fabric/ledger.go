package fabric

import (
	"encoding/json"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Ledger is the single writer of state/ledger.jsonl, the internal audit
// stream. Appends are best-effort: a failing disk never takes the
// orchestrator down, but the first failure is logged.
type Ledger struct {
	home  string
	clock Clock
	log   *zap.SugaredLogger

	mu       sync.Mutex
	warnOnce sync.Once
}

// NewLedger creates a ledger writer rooted at home.
func NewLedger(home string, clock Clock, log *zap.SugaredLogger) *Ledger {
	return &Ledger{home: home, clock: clock, log: log}
}

// Append writes one entry with a ts field prepended. Safe for use from the
// foreman worker goroutine as well as the main loop.
func (l *Ledger) Append(entry map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := map[string]any{"ts": FormatLedgerTS(l.clock.Now())}
	for k, v := range entry {
		rec[k] = v
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := os.MkdirAll(StateDir(l.home), 0755); err != nil {
		l.warn(err)
		return
	}
	f, err := os.OpenFile(LedgerPath(l.home), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l.warn(err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		l.warn(err)
	}
}

func (l *Ledger) warn(err error) {
	l.warnOnce.Do(func() {
		if l.log != nil {
			l.log.Warnw("ledger append failed", "error", err)
		}
	})
}

// ReadLedger returns all parseable entries, oldest first. Used by tests and
// diagnostics tooling; the orchestrator itself never reads the ledger back.
func ReadLedger(home string) []map[string]any {
	data, err := os.ReadFile(LedgerPath(home))
	if err != nil {
		return nil
	}
	var out []map[string]any
	for _, line := range splitLines(data) {
		var e map[string]any
		if json.Unmarshal(line, &e) == nil {
			out = append(out, e)
		}
	}
	return out
}
