package fabric

import (
	"bytes"
	"encoding/json"
	"os"
)

// CommandRecord is one ingress line of state/commands.jsonl, written by the
// TUI or a bridge. Result lines share the file, carrying only {id, result}.
type CommandRecord struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Args   map[string]any `json:"args,omitempty"`
	Source string         `json:"source,omitempty"`
	TS     string         `json:"ts,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// scanSnapshot is state/scan.json: persisted tail offsets per command file.
type scanSnapshot struct {
	LastPosMap map[string]int64 `json:"last_pos_map"`
}

// InitCommandOffsets restores tail offsets from the scan snapshot, or
// initializes them at current EOF so historical commands never replay.
func InitCommandOffsets(home string, commandPaths []string) map[string]int64 {
	offsets := map[string]int64{}
	var snap scanSnapshot
	if readJSONFile(ScanPath(home), &snap) && snap.LastPosMap != nil {
		loaded := false
		for _, p := range commandPaths {
			if v, ok := snap.LastPosMap[p]; ok {
				if v < 0 {
					v = 0
				}
				offsets[p] = v
				loaded = true
			}
		}
		if loaded {
			return offsets
		}
	}
	for _, p := range commandPaths {
		if info, err := os.Stat(p); err == nil {
			offsets[p] = info.Size()
		} else {
			offsets[p] = 0
		}
	}
	return offsets
}

// SaveCommandOffsets persists the tail offsets.
func SaveCommandOffsets(home string, offsets map[string]int64) {
	_ = writeJSONFile(ScanPath(home), scanSnapshot{LastPosMap: offsets})
}

// TailCommands reads complete command lines past offset. Result-only lines
// and malformed JSON are skipped; a partial trailing line is left in place
// (the offset only advances past newline-terminated records).
func TailCommands(path string, offset int64) ([]CommandRecord, int64) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, offset
	}
	if offset > int64(len(data)) {
		// File was replaced shorter than our cursor; restart at EOF rather
		// than replaying history.
		return nil, int64(len(data))
	}
	chunk := data[offset:]
	var out []CommandRecord
	for {
		nl := bytes.IndexByte(chunk, '\n')
		if nl < 0 {
			break
		}
		line := bytes.TrimSpace(chunk[:nl])
		chunk = chunk[nl+1:]
		offset += int64(nl + 1)
		if len(line) == 0 {
			continue
		}
		var rec CommandRecord
		if json.Unmarshal(line, &rec) != nil {
			continue
		}
		if rec.Type == "" && rec.Result != nil {
			continue // our own result echo
		}
		out = append(out, rec)
	}
	return out, offset
}

// AppendCommandResult writes the structured reply for a command back onto
// the same file.
func AppendCommandResult(path, id string, ok bool, message string, extra map[string]any) {
	result := map[string]any{"ok": ok, "message": message}
	for k, v := range extra {
		result[k] = v
	}
	data, err := json.Marshal(CommandRecord{ID: id, Result: result})
	if err != nil {
		return
	}
	_ = appendLine(path, data)
}
