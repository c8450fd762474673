// Package ratelimit reconciles the locally-estimated rate-limit figure with a
// user-entered ground-truth snapshot read off the vendor's own UI.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	log "github.com/charmbracelet/log"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/cache"
)

// DefaultPercentPerMessage is the assumed rate-limit cost of one assistant
// message, in percentage points. It is a deliberately conservative
// approximation, not a measured figure.
const DefaultPercentPerMessage = 0.3

var (
	ErrPercentOutOfRange = errors.New("percent must be between 0 and 100")
	ErrInvalidReset      = errors.New("reset duration must be positive")
)

// SyncSnapshot is the user-entered point-in-time reading.
type SyncSnapshot struct {
	PercentUsed int       `json:"percent"`
	ResetMs     int64     `json:"resetMs"`
	CapturedAt  time.Time `json:"capturedAt"`
}

func (s SyncSnapshot) resetDuration() time.Duration {
	return time.Duration(s.ResetMs) * time.Millisecond
}

// SyncStatus is the reconciled view at query time.
type SyncStatus struct {
	PercentUsed       int       `json:"percentUsed"`
	MessagesSinceSync int       `json:"messagesSinceSync"`
	RemainingMs       int64     `json:"remainingMs"`
	ResetAt           time.Time `json:"resetAt"`
	CapturedAt        time.Time `json:"capturedAt"`
}

// MessageCounter counts distinct assistant messages observed after a point in
// time; the rate-limit window cache satisfies it.
type MessageCounter interface {
	MessagesSince(t time.Time) int
}

// Reconciler is a two-state machine: Unsynced (no snapshot, queries fall back
// to the local estimate) and Synced. The only automatic transition is
// Synced -> Unsynced once the snapshot's window has elapsed.
type Reconciler struct {
	mu       sync.Mutex
	path     string
	snap     *SyncSnapshot
	messages MessageCounter

	// PercentPerMessage may be overridden before serving.
	PercentPerMessage float64
}

func NewReconciler(path string, messages MessageCounter) *Reconciler {
	r := &Reconciler{
		path:              path,
		messages:          messages,
		PercentPerMessage: DefaultPercentPerMessage,
	}
	var snap SyncSnapshot
	if err := cache.LoadJSON(path, &snap); err == nil && snap.ResetMs > 0 && !snap.CapturedAt.IsZero() {
		r.snap = &snap
	}
	return r
}

// Set enters the Synced state. Input is validated before any state mutation.
func (r *Reconciler) Set(now time.Time, percent int, reset time.Duration) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: %d", ErrPercentOutOfRange, percent)
	}
	if reset <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidReset, reset)
	}
	snap := SyncSnapshot{
		PercentUsed: percent,
		ResetMs:     reset.Milliseconds(),
		CapturedAt:  now.UTC(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.path != "" {
		if err := cache.SaveJSON(r.path, snap); err != nil {
			return err
		}
	}
	r.snap = &snap
	return nil
}

// Clear returns to the Unsynced state.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

func (r *Reconciler) clearLocked() {
	r.snap = nil
	if r.path != "" {
		if err := removeSnapshotFile(r.path); err != nil {
			log.Warn("remove sync snapshot file", "err", err)
		}
	}
}

// Status returns the reconciled state at now. The second return is false in
// the Unsynced state; callers then fall through to the local estimate. An
// expired snapshot is discarded on the spot.
func (r *Reconciler) Status(now time.Time) (SyncStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap == nil {
		return SyncStatus{}, false
	}

	elapsed := now.Sub(r.snap.CapturedAt)
	reset := r.snap.resetDuration()
	if elapsed >= reset {
		r.clearLocked()
		return SyncStatus{}, false
	}

	msgs := 0
	if r.messages != nil {
		msgs = r.messages.MessagesSince(r.snap.CapturedAt)
	}
	corrected := float64(r.snap.PercentUsed) + math.Round(float64(msgs)*r.PercentPerMessage)
	remaining := reset - elapsed

	return SyncStatus{
		PercentUsed:       int(math.Min(100, corrected)),
		MessagesSinceSync: msgs,
		RemainingMs:       remaining.Milliseconds(),
		ResetAt:           r.snap.CapturedAt.Add(reset),
		CapturedAt:        r.snap.CapturedAt,
	}, true
}

func removeSnapshotFile(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
