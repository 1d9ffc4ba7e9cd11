package branchstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func sessionFilePath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".json")
}

// writeStateFile atomically replaces the persisted file for state.SessionID:
// marshal to a temp file in the same directory, then rename over the final
// path. A crash between those two steps leaves either the old file intact
// or the new one fully written — never a truncated one.
func writeStateFile(dir string, state *BrainstormState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("branchstate: create state dir %q: %w", dir, err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("branchstate: marshal state: %w", err)
	}

	final := sessionFilePath(dir, state.SessionID)
	tmp, err := os.CreateTemp(dir, state.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("branchstate: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("branchstate: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("branchstate: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("branchstate: rename into place: %w", err)
	}
	return nil
}

// readStateFile loads a persisted state; the boolean reports whether the
// file existed at all.
func readStateFile(dir, sessionID string) (*BrainstormState, bool, error) {
	data, err := os.ReadFile(sessionFilePath(dir, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("branchstate: read state file: %w", err)
	}
	var state BrainstormState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, false, fmt.Errorf("branchstate: unmarshal state file: %w", err)
	}
	return &state, true, nil
}

// deleteStateFile removes the persisted file for sessionID, if present.
func deleteStateFile(dir, sessionID string) error {
	err := os.Remove(sessionFilePath(dir, sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("branchstate: delete state file: %w", err)
	}
	return nil
}

// listStateFiles enumerates session ids with a persisted file in dir.
func listStateFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("branchstate: list state dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".json"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			ids = append(ids, name[:len(name)-len(suffix)])
		}
	}
	return ids, nil
}
