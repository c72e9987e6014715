package fabric

import (
	"bytes"
	"encoding/json"
	"os"
)

// QueueItem is one message parked in a per-peer retry queue while waiting
// for an idle pane or an ACK.
type QueueItem struct {
	MID     string `json:"mid"`
	Payload string `json:"payload"`
}

// RetryQueue is the on-disk delivery queue for one receiver
// (state/outbox-<peer>.jsonl). Queued items preserve enqueue order; the
// whole file is rewritten on removal via temp-and-rename.
type RetryQueue struct {
	path string
}

// NewRetryQueue opens (creating if needed) the queue for a peer.
func NewRetryQueue(home, label string) *RetryQueue {
	q := &RetryQueue{path: PeerOutboxPath(home, label)}
	_ = os.MkdirAll(StateDir(home), 0755)
	_ = touchFile(q.path)
	return q
}

// Enqueue appends one item.
func (q *RetryQueue) Enqueue(mid, payload string) error {
	data, err := json.Marshal(QueueItem{MID: mid, Payload: payload})
	if err != nil {
		return err
	}
	return appendLine(q.path, data)
}

// LoadAll returns all queued items in enqueue order, skipping malformed lines.
func (q *RetryQueue) LoadAll() []QueueItem {
	data, err := os.ReadFile(q.path)
	if err != nil {
		return nil
	}
	var items []QueueItem
	for _, line := range splitLines(data) {
		var it QueueItem
		if json.Unmarshal(line, &it) == nil && it.MID != "" {
			items = append(items, it)
		}
	}
	return items
}

// ReplaceAll rewrites the queue with the given items.
func (q *RetryQueue) ReplaceAll(items []QueueItem) error {
	var buf bytes.Buffer
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return writeFileAtomic(q.path, buf.Bytes())
}

// Remove drops the item with the given MID, if present.
func (q *RetryQueue) Remove(mid string) error {
	items := q.LoadAll()
	kept := items[:0]
	for _, it := range items {
		if it.MID != mid {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(items) {
		return nil
	}
	return q.ReplaceAll(kept)
}

// Len returns the number of queued items.
func (q *RetryQueue) Len() int {
	return len(q.LoadAll())
}
