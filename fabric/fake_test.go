package fabric

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// fakeClock advances only when slept on, so delivery budgets and quiet
// intervals run instantly in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 10, 17, 6, 15, 22, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sentText records one injection into a fake pane.
type sentText struct {
	Pane string
	Text string
}

// fakePane scripts pane captures and records sends.
type fakePane struct {
	capture func() string
	sent    []sentText
}

func (p *fakePane) Capture(pane string, lines int) string {
	if p.capture == nil {
		return ""
	}
	return p.capture()
}

func (p *fakePane) Send(pane, text string, profile Profile) error {
	p.sent = append(p.sent, sentText{Pane: pane, Text: text})
	return nil
}

func (p *fakePane) SendCtrlC(pane string) error { return nil }

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
