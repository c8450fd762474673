package sessions

import (
	"os"
	"path/filepath"
	"sort"

	log "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/sessionlog"
)

// ReconcileProject merges a project directory's manifest with a scan of the
// directory itself. Sessions present on disk but absent from the manifest are
// synthesized with IsUnindexed=true; on a sessionID collision the manifest
// entry wins. Output order is unspecified; callers sort by recency.
func ReconcileProject(projectDir string) []Record {
	indexed, err := LoadManifest(projectDir)
	if err != nil {
		log.Warn("session manifest unreadable, falling back to scan", "dir", projectDir, "err", err)
	}

	known := make(map[string]struct{}, len(indexed))
	for _, rec := range indexed {
		known[rec.SessionID] = struct{}{}
	}

	merged := indexed
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return merged
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		name := ent.Name()
		if uuid.Validate(name) != nil {
			continue
		}
		if _, ok := known[name]; ok {
			continue
		}
		rec, ok := discoverSession(projectDir, name)
		if !ok {
			continue
		}
		known[name] = struct{}{}
		merged = append(merged, rec)
	}
	return merged
}

// ReconcileAll runs ReconcileProject over every project subdirectory. A
// failure in one project never aborts the others.
func ReconcileAll(projectsDir string) []Record {
	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		return nil
	}
	var all []Record
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		all = append(all, ReconcileProject(filepath.Join(projectsDir, ent.Name()))...)
	}
	return all
}

// discoverSession synthesizes a Record for a session directory that the
// manifest does not know about. Sessions with no locatable log are dropped.
func discoverSession(projectDir, sessionID string) (Record, bool) {
	logPath, ok := locateLog(projectDir, sessionID)
	if !ok {
		return Record{}, false
	}
	fi, err := os.Stat(logPath)
	if err != nil {
		return Record{}, false
	}

	rec := Record{
		SessionID:      sessionID,
		LogPath:        logPath,
		LastModifiedAt: fi.ModTime().UTC(),
		IsUnindexed:    true,
	}
	rec.CreatedAt = rec.LastModifiedAt
	rec.FirstPrompt = sessionlog.FirstUserPrompt(logPath)
	rec.MessageCount = sessionlog.MessagePairCount(logPath)
	return rec, true
}

// locateLog finds the session's log file, in priority order: a sibling
// <id>.jsonl next to the session directory, a log inside the directory, then
// the most recently modified log under any sub-task subdirectory.
func locateLog(projectDir, sessionID string) (string, bool) {
	sibling := filepath.Join(projectDir, sessionID+".jsonl")
	if fileExists(sibling) {
		return sibling, true
	}

	sessionDir := filepath.Join(projectDir, sessionID)
	if inner, ok := newestJSONL(sessionDir, false); ok {
		return inner, true
	}
	if nested, ok := newestJSONL(sessionDir, true); ok {
		return nested, true
	}
	return "", false
}

// newestJSONL returns the most recently modified .jsonl directly in dir, or,
// when nested is set, in dir's immediate subdirectories.
func newestJSONL(dir string, nested bool) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	type candidate struct {
		path string
		mod  int64
	}
	var found []candidate
	for _, ent := range entries {
		if nested != ent.IsDir() {
			continue
		}
		if nested {
			if sub, ok := newestJSONL(filepath.Join(dir, ent.Name()), false); ok {
				fi, err := os.Stat(sub)
				if err != nil {
					continue
				}
				found = append(found, candidate{sub, fi.ModTime().UnixNano()})
			}
			continue
		}
		if filepath.Ext(ent.Name()) != ".jsonl" {
			continue
		}
		fi, err := ent.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{filepath.Join(dir, ent.Name()), fi.ModTime().UnixNano()})
	}
	if len(found) == 0 {
		return "", false
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod > found[j].mod })
	return found[0].path, true
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
