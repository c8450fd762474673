// Package todo merges per-session task-list snapshot files. A session may
// have been snapshotted several times (sub-agents write their own files), so
// the same logical task can appear with different statuses.
package todo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/samber/lo"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// statusRank orders statuses by how advanced they are. When snapshots
// disagree on a task, the most advanced status wins; the snapshot files carry
// no timestamps, so this is the only deterministic tie-break available.
func statusRank(s Status) int {
	switch s {
	case StatusCompleted:
		return 2
	case StatusInProgress:
		return 1
	default:
		return 0
	}
}

type Item struct {
	Content    string `json:"content"`
	ActiveForm string `json:"activeForm,omitempty"`
	Status     Status `json:"status"`
}

// key identifies a logical task: its content text, falling back to the active
// form when content is absent.
func (i Item) key() string {
	if strings.TrimSpace(i.Content) != "" {
		return i.Content
	}
	return i.ActiveForm
}

// MergeForSession reads every snapshot file in todosDir whose name starts
// with the session ID and merges them. Unreadable or malformed files are
// skipped. The result is unordered apart from being deterministic.
func MergeForSession(todosDir, sessionID string) []Item {
	if sessionID == "" {
		return nil
	}
	entries, err := os.ReadDir(todosDir)
	if err != nil {
		return nil
	}

	paths := lo.FilterMap(entries, func(ent os.DirEntry, _ int) (string, bool) {
		name := ent.Name()
		if ent.IsDir() || !strings.HasPrefix(name, sessionID) || filepath.Ext(name) != ".json" {
			return "", false
		}
		return filepath.Join(todosDir, name), true
	})
	// Fixed read order keeps the merge independent of directory listing order.
	sort.Strings(paths)

	merged := make(map[string]Item)
	for _, path := range paths {
		items, err := readSnapshot(path)
		if err != nil {
			log.Debug("skipping todo snapshot", "path", path, "err", err)
			continue
		}
		for _, item := range items {
			k := item.key()
			if k == "" {
				continue
			}
			if prev, ok := merged[k]; !ok || statusRank(item.Status) > statusRank(prev.Status) {
				merged[k] = item
			}
		}
	}

	out := lo.Values(merged)
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

func readSnapshot(path string) ([]Item, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	return items, nil
}
