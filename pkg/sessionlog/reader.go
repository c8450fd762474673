// Package sessionlog parses Claude Code session logs: append-only JSONL files
// where each line is one user or assistant record. Parsing is deliberately
// forgiving: a corrupt line is skipped, never fatal, and missing token fields
// default to zero.
package sessionlog

import (
	"bufio"
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"time"
)

// UsageEvent is one accounted model invocation's token usage.
type UsageEvent struct {
	Timestamp           time.Time
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	Model               string
	MessageID           string
}

// Totals are day-insensitive token sums over a log.
type Totals struct {
	InputTokens         int `json:"inputTokens"`
	OutputTokens        int `json:"outputTokens"`
	CacheReadTokens     int `json:"cacheReadTokens"`
	CacheCreationTokens int `json:"cacheCreationTokens"`
}

func (t *Totals) Add(e UsageEvent) {
	t.InputTokens += e.InputTokens
	t.OutputTokens += e.OutputTokens
	t.CacheReadTokens += e.CacheReadTokens
	t.CacheCreationTokens += e.CacheCreationTokens
}

func (t Totals) TotalTokens() int {
	return t.InputTokens + t.OutputTokens + t.CacheReadTokens + t.CacheCreationTokens
}

// MessageStamp identifies one assistant-authored message in time.
type MessageStamp struct {
	MessageID string
	Timestamp time.Time
}

// rawRecord maps the JSONL line structure we care about. Records come in three
// kinds (user, assistant, anything else); each carries only what it guarantees.
type rawRecord struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   *struct {
		ID      string          `json:"id"`
		Model   string          `json:"model"`
		Content json.RawMessage `json:"content"`
		Usage   *struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

func (r *rawRecord) parseTimestamp() (time.Time, bool) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

// forEachRecord streams parseable records to fn. Malformed lines are skipped.
// fn returns false to stop early. A missing or unreadable file yields no
// records and no error: callers treat it as an empty log.
func forEachRecord(path string, fn func(rec *rawRecord) bool) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024) // 10MB max line

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec rawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if !fn(&rec) {
			return
		}
	}
}

// ReadUsageEvents returns the log's usage events in read order. Only assistant
// records with usage data and a parseable timestamp qualify.
func ReadUsageEvents(path string) []UsageEvent {
	var events []UsageEvent
	forEachRecord(path, func(rec *rawRecord) bool {
		if rec.Type != "assistant" || rec.Message == nil || rec.Message.Usage == nil {
			return true
		}
		ts, ok := rec.parseTimestamp()
		if !ok {
			return true
		}
		events = append(events, UsageEvent{
			Timestamp:           ts,
			InputTokens:         rec.Message.Usage.InputTokens,
			OutputTokens:        rec.Message.Usage.OutputTokens,
			CacheReadTokens:     rec.Message.Usage.CacheReadInputTokens,
			CacheCreationTokens: rec.Message.Usage.CacheCreationInputTokens,
			Model:               rec.Message.Model,
			MessageID:           rec.Message.ID,
		})
		return true
	})
	return events
}

// ReadTotals is the bulk view: token sums ignoring timestamps, so records with
// usage but a missing timestamp still count.
func ReadTotals(path string) Totals {
	var totals Totals
	forEachRecord(path, func(rec *rawRecord) bool {
		if rec.Type != "assistant" || rec.Message == nil || rec.Message.Usage == nil {
			return true
		}
		totals.InputTokens += rec.Message.Usage.InputTokens
		totals.OutputTokens += rec.Message.Usage.OutputTokens
		totals.CacheReadTokens += rec.Message.Usage.CacheReadInputTokens
		totals.CacheCreationTokens += rec.Message.Usage.CacheCreationInputTokens
		return true
	})
	return totals
}

// DailyTotals partitions events by calendar date ("2006-01-02") in loc. It is
// a view over ReadUsageEvents, not a separate parse.
func DailyTotals(events []UsageEvent, loc *time.Location) map[string]Totals {
	days := make(map[string]Totals)
	for _, e := range events {
		key := e.Timestamp.In(loc).Format("2006-01-02")
		t := days[key]
		t.Add(e)
		days[key] = t
	}
	return days
}

// ReadAssistantStamps returns (messageID, timestamp) for every assistant record
// with a parseable timestamp, usage or not.
func ReadAssistantStamps(path string) []MessageStamp {
	var stamps []MessageStamp
	forEachRecord(path, func(rec *rawRecord) bool {
		if rec.Type != "assistant" || rec.Message == nil || rec.Message.ID == "" {
			return true
		}
		ts, ok := rec.parseTimestamp()
		if !ok {
			return true
		}
		stamps = append(stamps, MessageStamp{MessageID: rec.Message.ID, Timestamp: ts})
		return true
	})
	return stamps
}

// MessagePairCount counts user+assistant records and halves the total, the
// manifest's notion of one message per prompt/response pair.
func MessagePairCount(path string) int {
	count := 0
	forEachRecord(path, func(rec *rawRecord) bool {
		if rec.Type == "user" || rec.Type == "assistant" {
			count++
		}
		return true
	})
	return count / 2
}

var ideTagPattern = regexp.MustCompile(`<[^>]+>`)

const maxPromptTitleLen = 100

// FirstUserPrompt returns the first user-authored record's text, cleaned for
// display: IDE tags stripped, whitespace trimmed, truncated to 100 characters.
// Empty string when the log has no usable user record.
func FirstUserPrompt(path string) string {
	var prompt string
	forEachRecord(path, func(rec *rawRecord) bool {
		if rec.Type != "user" || rec.Message == nil {
			return true
		}
		text := contentText(rec.Message.Content)
		if text == "" {
			return true
		}
		prompt = text
		return false
	})
	return CleanPromptTitle(prompt)
}

// CleanPromptTitle strips IDE tags from a prompt and truncates it for
// display.
func CleanPromptTitle(prompt string) string {
	prompt = strings.TrimSpace(ideTagPattern.ReplaceAllString(prompt, ""))
	if runes := []rune(prompt); len(runes) > maxPromptTitleLen {
		prompt = string(runes[:maxPromptTitleLen]) + "..."
	}
	return prompt
}

// contentText extracts plain text from a message content field, which is
// either a bare string or an array of typed blocks.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			return b.Text
		}
	}
	return ""
}
