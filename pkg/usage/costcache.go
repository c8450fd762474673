// Package usage holds the timer-rebuilt aggregation caches: per-day/per-month
// cost totals and the rolling rate-limit window. Both publish immutable
// snapshots through atomic pointers; readers never observe a half-built
// aggregate.
package usage

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	log "github.com/charmbracelet/log"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/cache"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/pricing"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/sessionlog"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/sessions"
)

const DefaultCostRefreshInterval = 5 * time.Minute

// DailyCostEntry aggregates one calendar date ("2006-01-02").
type DailyCostEntry struct {
	Date string `json:"date"`
	sessionlog.Totals
	Cost     float64 `json:"cost"`
	Messages int     `json:"messages"`
}

// MonthlyCostEntry aggregates one month ("2006-01"); Days counts distinct
// dates with activity.
type MonthlyCostEntry struct {
	Month string `json:"month"`
	sessionlog.Totals
	Cost float64 `json:"costUSD"`
	Days int     `json:"days"`
}

// CostSnapshot is one fully-built, immutable aggregate set.
type CostSnapshot struct {
	BuiltAt time.Time                   `json:"builtAt"`
	Daily   map[string]DailyCostEntry   `json:"daily"`
	Monthly map[string]MonthlyCostEntry `json:"monthly"`
}

// Stats is the query-surface shape derived from a snapshot.
type Stats struct {
	Ready             bool               `json:"ready"`
	TodayMessageCount int                `json:"todayMessageCount"`
	Tokens            StatsCosts         `json:"tokens"`
	DailyHistory      []DailyCostEntry   `json:"dailyHistory"`
	MonthlySummary    []MonthlyCostEntry `json:"monthlySummary"`
}

type StatsCosts struct {
	TodayCost     float64 `json:"todayCost"`
	WeekCost      float64 `json:"weekCost"`
	MonthCost     float64 `json:"monthCost"`
	LastMonthCost float64 `json:"lastMonthCost"`
}

// CostCache rebuilds the full daily/monthly aggregate set on a timer. A
// rebuild constructs a complete new snapshot before publishing it, so the
// monthly-equals-sum-of-daily invariant always holds for readers.
type CostCache struct {
	projectsDir string
	table       pricing.Table
	loc         *time.Location
	persistPath string
	interval    time.Duration

	snap atomic.Pointer[CostSnapshot]

	// OnRebuild, when set, is called after each published rebuild.
	OnRebuild func()
}

func NewCostCache(projectsDir string, table pricing.Table, loc *time.Location, persistPath string) *CostCache {
	if loc == nil {
		loc = time.Local
	}
	c := &CostCache{
		projectsDir: projectsDir,
		table:       table,
		loc:         loc,
		persistPath: persistPath,
		interval:    DefaultCostRefreshInterval,
	}
	c.loadPersisted()
	return c
}

func (c *CostCache) SetInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// Ready reports whether a snapshot has ever been published (including one
// restored from disk). Callers receiving Ready=false get zeros, not errors.
func (c *CostCache) Ready() bool {
	return c.snap.Load() != nil
}

func (c *CostCache) Snapshot() *CostSnapshot {
	return c.snap.Load()
}

func (c *CostCache) loadPersisted() {
	if c.persistPath == "" {
		return
	}
	var snap CostSnapshot
	if err := cache.LoadJSONZstd(c.persistPath, &snap); err != nil {
		if err != cache.ErrNotFound {
			log.Warn("cost cache snapshot unreadable, rebuilding from scratch", "path", c.persistPath, "err", err)
		}
		return
	}
	if snap.Daily == nil || snap.Monthly == nil {
		return
	}
	c.snap.Store(&snap)
}

// Run rebuilds immediately, then on every tick until ctx is done.
func (c *CostCache) Run(ctx context.Context) {
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

// Rebuild performs one full scan and publishes the result. Per-session read
// failures skip that session only.
func (c *CostCache) Rebuild(now time.Time) {
	started := time.Now()
	records := sessions.ReconcileAll(c.projectsDir)

	daily := make(map[string]DailyCostEntry)
	seen := make(map[string]struct{})
	for _, rec := range records {
		for _, e := range sessionlog.ReadUsageEvents(rec.LogPath) {
			// Sub-task logs can repeat messages from the parent session.
			if e.MessageID != "" {
				if _, dup := seen[e.MessageID]; dup {
					continue
				}
				seen[e.MessageID] = struct{}{}
			}
			key := e.Timestamp.In(c.loc).Format("2006-01-02")
			d := daily[key]
			d.Date = key
			d.Add(e)
			d.Cost += c.table.CostOf(e)
			d.Messages++
			daily[key] = d
		}
	}

	monthly := make(map[string]MonthlyCostEntry)
	for date, d := range daily {
		key := date[:7]
		m := monthly[key]
		m.Month = key
		m.InputTokens += d.InputTokens
		m.OutputTokens += d.OutputTokens
		m.CacheReadTokens += d.CacheReadTokens
		m.CacheCreationTokens += d.CacheCreationTokens
		m.Cost += d.Cost
		m.Days++
		monthly[key] = m
	}

	snap := &CostSnapshot{BuiltAt: now.UTC(), Daily: daily, Monthly: monthly}
	c.snap.Store(snap)
	log.Debug("cost cache rebuilt", "sessions", len(records), "days", len(daily), "took", time.Since(started))

	if c.persistPath != "" {
		if err := cache.SaveJSONZstd(c.persistPath, snap); err != nil {
			log.Warn("persist cost cache snapshot", "err", err)
		}
	}
	if c.OnRebuild != nil {
		c.OnRebuild()
	}
}

// Stats derives the query-surface aggregate view at now.
func (c *CostCache) Stats(now time.Time) Stats {
	snap := c.snap.Load()
	if snap == nil {
		return Stats{}
	}

	local := now.In(c.loc)
	today := local.Format("2006-01-02")
	thisMonth := local.Format("2006-01")
	// Anchor to the first of the month before stepping back; AddDate on a
	// late day normalizes the overflow into the current month (Mar 31 - 1
	// month = Feb 31 = Mar 3).
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, c.loc)
	lastMonth := monthStart.AddDate(0, -1, 0).Format("2006-01")
	weekStart := local.AddDate(0, 0, -6).Format("2006-01-02")

	stats := Stats{Ready: true}
	stats.TodayMessageCount = snap.Daily[today].Messages
	stats.Tokens.TodayCost = snap.Daily[today].Cost
	stats.Tokens.MonthCost = snap.Monthly[thisMonth].Cost
	stats.Tokens.LastMonthCost = snap.Monthly[lastMonth].Cost

	for date, d := range snap.Daily {
		if date >= weekStart && date <= today {
			stats.Tokens.WeekCost += d.Cost
		}
		stats.DailyHistory = append(stats.DailyHistory, d)
	}
	sort.Slice(stats.DailyHistory, func(i, j int) bool {
		return stats.DailyHistory[i].Date < stats.DailyHistory[j].Date
	})

	for _, m := range snap.Monthly {
		stats.MonthlySummary = append(stats.MonthlySummary, m)
	}
	sort.Slice(stats.MonthlySummary, func(i, j int) bool {
		return stats.MonthlySummary[i].Month < stats.MonthlySummary[j].Month
	})
	return stats
}
