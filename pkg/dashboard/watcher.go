package dashboard

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// watchProjects refreshes the rolling window as soon as a session log grows,
// instead of waiting for the next timer tick. The cost cache stays on its
// timer; per-write full rebuilds would be too expensive.
func (s *Server) watchProjects(ctx context.Context) {
	dir := s.cfg.ProjectsDir()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("file watcher unavailable, relying on timers", "err", err)
		return
	}
	defer watcher.Close()

	addTree(watcher, dir)

	var (
		debounce    = time.NewTimer(time.Hour)
		pendingScan bool
	)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			// New project directories appear when a session starts
			// in a project never seen before.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					addTree(watcher, ev.Name)
				}
			}
			if !strings.HasSuffix(ev.Name, ".jsonl") && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			pendingScan = true
			debounce.Reset(500 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Debug("file watcher error", "err", err)
		case <-debounce.C:
			if !pendingScan {
				continue
			}
			pendingScan = false
			s.window.Rebuild(time.Now())
			s.hub.Broadcast("ratelimit")
		}
	}
}

// addTree registers dir and its immediate children. Logs sit at most one
// level below a project directory, so deeper recursion is unnecessary.
func addTree(watcher *fsnotify.Watcher, dir string) {
	if err := watcher.Add(dir); err != nil {
		log.Debug("watch failed", "dir", dir, "err", err)
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = watcher.Add(filepath.Join(dir, e.Name()))
		}
	}
}
