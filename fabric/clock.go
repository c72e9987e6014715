package fabric

import (
	"fmt"
	"time"
)

// Clock abstracts wall-clock access so delivery timing and idle judgment can
// be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the real clock used by the orchestrator process.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// FormatLocalTS renders a timestamp the way peers see it in [TS: …] lines:
// "2006-01-02 15:04:05 CST (UTC+08:00)".
func FormatLocalTS(t time.Time) string {
	zone, offset := t.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	hh := offset / 3600
	mm := (offset % 3600) / 60
	return fmt.Sprintf("%s %s (UTC%s%02d:%02d)", t.Format("2006-01-02 15:04:05"), zone, sign, hh, mm)
}

// FormatLedgerTS renders the timestamp used in ledger and outbox records.
func FormatLedgerTS(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// FormatUTCZ renders the ISO-UTC timestamp carried by sentinels.
func FormatUTCZ(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
