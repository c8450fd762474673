package sessions

import "time"

// Record is one logical session, either indexed (present in the manifest) or
// discovered on disk and flagged IsUnindexed.
type Record struct {
	SessionID      string    `json:"sessionId"`
	LogPath        string    `json:"logPath"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
	MessageCount   int       `json:"messageCount"`
	FirstPrompt    string    `json:"firstPrompt"`
	ProjectPath    string    `json:"projectPath,omitempty"`
	IsUnindexed    bool      `json:"isUnindexed,omitempty"`
}

// Status buckets a session by how recently its log was written.
type Status string

const (
	StatusActive    Status = "active"    // modified within 5 minutes
	StatusRecent    Status = "recent"    // modified within the hour
	StatusCompleted Status = "completed" // anything older
)

const (
	activeThreshold = 5 * time.Minute
	recentThreshold = 60 * time.Minute
)

// StatusAt derives the recency status at the given instant.
func (r Record) StatusAt(now time.Time) Status {
	age := now.Sub(r.LastModifiedAt)
	switch {
	case age < activeThreshold:
		return StatusActive
	case age < recentThreshold:
		return StatusRecent
	default:
		return StatusCompleted
	}
}
