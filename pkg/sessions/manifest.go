package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const manifestFileName = "sessions-index.json"

type manifestFile struct {
	Entries []manifestEntry `json:"entries"`
}

type manifestEntry struct {
	SessionID    string `json:"sessionId"`
	FullPath     string `json:"fullPath"`
	Created      string `json:"created"`
	Modified     string `json:"modified"`
	MessageCount int    `json:"messageCount"`
	FirstPrompt  string `json:"firstPrompt"`
	ProjectPath  string `json:"projectPath"`
}

// LoadManifest reads a project directory's session index. A missing manifest
// is an empty one, never an error; a corrupt manifest is an error.
func LoadManifest(projectDir string) ([]Record, error) {
	path := filepath.Join(projectDir, manifestFileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var mf manifestFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	records := make([]Record, 0, len(mf.Entries))
	for _, e := range mf.Entries {
		if e.SessionID == "" {
			continue
		}
		rec := Record{
			SessionID:    e.SessionID,
			LogPath:      e.FullPath,
			CreatedAt:    parseManifestTime(e.Created),
			MessageCount: e.MessageCount,
			FirstPrompt:  e.FirstPrompt,
			ProjectPath:  e.ProjectPath,
		}
		// Prefer the log file's real mtime; the index timestamp lags behind
		// writers that are still appending.
		rec.LastModifiedAt = parseManifestTime(e.Modified)
		if fi, err := os.Stat(e.FullPath); err == nil {
			rec.LastModifiedAt = fi.ModTime().UTC()
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseManifestTime(raw string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
