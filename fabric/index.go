package fabric

import (
	"encoding/json"
	"os"
	"time"
)

// seenEntry records the last processed content hash of one mailbox file.
type seenEntry struct {
	SHA string  `json:"sha"`
	TS  float64 `json:"ts"`
}

// SeenIndex remembers, per mailbox file, the SHA-256 of the last non-empty
// payload that was acted on. A file change produces an event only when the
// new hash differs. Persisted as state/mailbox_seen.json.
type SeenIndex struct {
	home  string
	clock Clock
	idx   map[string]seenEntry
}

// NewSeenIndex loads the index from disk, tolerating a missing or corrupt
// file (fresh start).
func NewSeenIndex(home string, clock Clock) *SeenIndex {
	s := &SeenIndex{home: home, clock: clock, idx: map[string]seenEntry{}}
	s.Load()
	return s
}

// Load re-reads the index file.
func (s *SeenIndex) Load() {
	s.idx = map[string]seenEntry{}
	data, err := os.ReadFile(SeenIndexPath(s.home))
	if err != nil {
		return
	}
	var idx map[string]seenEntry
	if json.Unmarshal(data, &idx) == nil && idx != nil {
		s.idx = idx
	}
}

// Save persists the index atomically. Best-effort.
func (s *SeenIndex) Save() {
	_ = writeJSONFile(SeenIndexPath(s.home), s.idx)
}

func (s *SeenIndex) key(label, fname string) string {
	return FolderName(label) + ":" + fname
}

// SeenHash returns the last recorded hash for a peer's mailbox file.
func (s *SeenIndex) SeenHash(label, fname string) string {
	return s.idx[s.key(label, fname)].SHA
}

// UpdateHash records a newly processed hash.
func (s *SeenIndex) UpdateHash(label, fname, sha string) {
	s.idx[s.key(label, fname)] = seenEntry{
		SHA: sha,
		TS:  float64(s.clock.Now().UnixNano()) / float64(time.Second),
	}
}
