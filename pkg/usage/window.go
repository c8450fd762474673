package usage

import (
	"context"
	"math"
	"sort"
	"sync/atomic"
	"time"

	log "github.com/charmbracelet/log"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/sessionlog"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/sessions"
)

const (
	DefaultWindowDuration        = 5 * time.Hour
	DefaultOutputTokenLimit      = 200_000
	DefaultWindowRefreshInterval = 30 * time.Second
)

// WindowEvent is one output-token-producing invocation inside the window.
type WindowEvent struct {
	Timestamp    time.Time
	OutputTokens int
}

type windowSnapshot struct {
	builtAt time.Time
	events  []WindowEvent // sorted ascending
	stamps  []sessionlog.MessageStamp
}

// Estimate is the locally-derived rate-limit consumption figure.
type Estimate struct {
	Active       bool      `json:"active"`
	OutputTokens int       `json:"outputTokens"`
	Limit        int       `json:"limit"`
	UsagePercent int       `json:"usagePercent"`
	ResetAt      time.Time `json:"resetAt,omitzero"`
}

// WindowCache maintains the rolling output-token window. It is rebuilt from
// scratch on every refresh rather than maintained incrementally: log writers
// catching up can reorder events, and recomputing from bounded recent data is
// cheap.
type WindowCache struct {
	projectsDir string
	window      time.Duration
	limit       int
	interval    time.Duration

	snap atomic.Pointer[windowSnapshot]

	OnRebuild func()
}

func NewWindowCache(projectsDir string, window time.Duration, limit int) *WindowCache {
	if window <= 0 {
		window = DefaultWindowDuration
	}
	if limit <= 0 {
		limit = DefaultOutputTokenLimit
	}
	return &WindowCache{
		projectsDir: projectsDir,
		window:      window,
		limit:       limit,
		interval:    DefaultWindowRefreshInterval,
	}
}

func (c *WindowCache) SetInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

func (c *WindowCache) Ready() bool {
	return c.snap.Load() != nil
}

func (c *WindowCache) Window() time.Duration { return c.window }

// Run rebuilds immediately, then on every tick until ctx is done.
func (c *WindowCache) Run(ctx context.Context) {
	c.Rebuild(time.Now())
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Rebuild(time.Now())
		}
	}
}

// Rebuild scans every session and retains output-token events and assistant
// message stamps inside [now - window, now].
func (c *WindowCache) Rebuild(now time.Time) {
	started := time.Now()
	cutoff := now.Add(-c.window)

	var events []WindowEvent
	var stamps []sessionlog.MessageStamp
	// Sub-task logs repeat the parent session's messages, so both loops
	// deduplicate by message ID. The maps are separate: a message with
	// usage appears in both streams and must survive in each.
	seenStamps := make(map[string]struct{})
	seenEvents := make(map[string]struct{})

	for _, rec := range sessions.ReconcileAll(c.projectsDir) {
		for _, s := range sessionlog.ReadAssistantStamps(rec.LogPath) {
			if s.Timestamp.Before(cutoff) || s.Timestamp.After(now) {
				continue
			}
			if _, dup := seenStamps[s.MessageID]; dup {
				continue
			}
			seenStamps[s.MessageID] = struct{}{}
			stamps = append(stamps, s)
		}
		for _, e := range sessionlog.ReadUsageEvents(rec.LogPath) {
			if e.OutputTokens <= 0 {
				continue
			}
			if e.Timestamp.Before(cutoff) || e.Timestamp.After(now) {
				continue
			}
			if _, dup := seenEvents[e.MessageID]; dup {
				continue
			}
			seenEvents[e.MessageID] = struct{}{}
			events = append(events, WindowEvent{Timestamp: e.Timestamp, OutputTokens: e.OutputTokens})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	c.snap.Store(&windowSnapshot{builtAt: now.UTC(), events: events, stamps: stamps})
	log.Debug("rate-limit window rebuilt", "events", len(events), "took", time.Since(started))

	if c.OnRebuild != nil {
		c.OnRebuild()
	}
}

// Query re-filters the cached events to the live window (the cache may be up
// to one refresh interval stale) and derives the estimate. The lower bound is
// closed: an event exactly at now - window is included.
func (c *WindowCache) Query(now time.Time) Estimate {
	est := Estimate{Limit: c.limit}
	snap := c.snap.Load()
	if snap == nil {
		return est
	}

	cutoff := now.Add(-c.window)
	var sum int
	var oldest time.Time
	for _, e := range snap.events {
		if e.Timestamp.Before(cutoff) || e.Timestamp.After(now) {
			continue
		}
		if oldest.IsZero() {
			oldest = e.Timestamp // events are sorted ascending
		}
		sum += e.OutputTokens
	}
	if oldest.IsZero() {
		return est // empty window: no limit currently active
	}

	est.Active = true
	est.OutputTokens = sum
	est.UsagePercent = int(math.Min(100, math.Round(float64(sum)/float64(c.limit)*100)))
	est.ResetAt = oldest.Add(c.window)
	return est
}

// MessagesSince counts distinct assistant messages observed strictly after t.
func (c *WindowCache) MessagesSince(t time.Time) int {
	snap := c.snap.Load()
	if snap == nil {
		return 0
	}
	count := 0
	for _, s := range snap.stamps {
		if s.Timestamp.After(t) {
			count++
		}
	}
	return count
}
