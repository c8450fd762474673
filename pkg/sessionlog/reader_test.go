package sessionlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestReadUsageEventsSkipsMalformedLines(t *testing.T) {
	path := writeLog(t,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00.000Z","message":{"id":"msg_1","model":"claude-sonnet-4-20250514","usage":{"input_tokens":100,"output_tokens":50,"cache_read_input_tokens":10,"cache_creation_input_tokens":5}}}`,
		`this is not json at all`,
		`{"type":"assistant","timestamp":"not-a-time","message":{"id":"msg_2","usage":{"output_tokens":999}}}`,
		`{"type":"assistant","timestamp":"2025-06-01T10:01:00Z","message":{"id":"msg_3","model":"claude-sonnet-4-20250514"}}`,
		`{"type":"assistant","timestamp":"2025-06-01T10:02:00Z","message":{"id":"msg_4","model":"claude-sonnet-4-20250514","usage":{"input_tokens":1,"output_tokens":2}}}`,
	)

	events := ReadUsageEvents(path)
	if len(events) != 2 {
		t.Fatalf("expected 2 usage events, got %d", len(events))
	}
	first := events[0]
	if first.MessageID != "msg_1" || first.InputTokens != 100 || first.OutputTokens != 50 {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if first.CacheReadTokens != 10 || first.CacheCreationTokens != 5 {
		t.Fatalf("cache tokens not parsed: %+v", first)
	}
	if events[1].MessageID != "msg_4" {
		t.Fatalf("expected msg_4 second, got %q", events[1].MessageID)
	}
}

func TestReadUsageEventsAcceptsTimestampPrecisions(t *testing.T) {
	path := writeLog(t,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"id":"msg_s","usage":{"output_tokens":1}}}`,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00.123Z","message":{"id":"msg_ms","usage":{"output_tokens":1}}}`,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00.123456789Z","message":{"id":"msg_ns","usage":{"output_tokens":1}}}`,
		`{"type":"assistant","timestamp":"2025-06-01T12:00:00+02:00","message":{"id":"msg_off","usage":{"output_tokens":1}}}`,
	)

	events := ReadUsageEvents(path)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	// Offsets normalize to UTC.
	want := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if !events[3].Timestamp.Equal(want) {
		t.Fatalf("offset timestamp not normalized: %s", events[3].Timestamp)
	}
}

func TestReadUsageEventsMissingFileIsEmpty(t *testing.T) {
	events := ReadUsageEvents(filepath.Join(t.TempDir(), "nope.jsonl"))
	if len(events) != 0 {
		t.Fatalf("expected no events for missing file, got %d", len(events))
	}
}

func TestReadTotalsCountsEventsWithoutTimestamps(t *testing.T) {
	path := writeLog(t,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"id":"msg_1","usage":{"input_tokens":10,"output_tokens":20}}}`,
		`{"type":"assistant","message":{"id":"msg_2","usage":{"input_tokens":5,"output_tokens":7}}}`,
	)
	totals := ReadTotals(path)
	if totals.InputTokens != 15 || totals.OutputTokens != 27 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if totals.TotalTokens() != 42 {
		t.Fatalf("expected total 42, got %d", totals.TotalTokens())
	}
}

func TestDailyTotalsPartitionsByLocalDate(t *testing.T) {
	events := []UsageEvent{
		{Timestamp: time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC), InputTokens: 1},
		{Timestamp: time.Date(2025, 6, 2, 0, 30, 0, 0, time.UTC), InputTokens: 2},
		{Timestamp: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC), InputTokens: 4},
	}
	days := DailyTotals(events, time.UTC)
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	if days["2025-06-01"].InputTokens != 1 {
		t.Fatalf("unexpected first day: %+v", days["2025-06-01"])
	}
	if days["2025-06-02"].InputTokens != 6 {
		t.Fatalf("unexpected second day: %+v", days["2025-06-02"])
	}
}

func TestMessagePairCountHalvesUserAssistantRecords(t *testing.T) {
	path := writeLog(t,
		`{"type":"user","message":{"content":"hi"}}`,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"id":"msg_1"}}`,
		`{"type":"user","message":{"content":"again"}}`,
		`{"type":"assistant","timestamp":"2025-06-01T10:01:00Z","message":{"id":"msg_2"}}`,
		`{"type":"summary","summary":"ignored"}`,
	)
	if got := MessagePairCount(path); got != 2 {
		t.Fatalf("expected 2 pairs, got %d", got)
	}
}

func TestFirstUserPromptStripsTags(t *testing.T) {
	path := writeLog(t,
		`{"type":"user","message":{"content":"<ide-context>stuff</ide-context>  fix the login bug  "}}`,
		`{"type":"user","message":{"content":"second prompt, never the title"}}`,
	)
	if got := FirstUserPrompt(path); got != "fix the login bug" {
		t.Fatalf("unexpected prompt: %q", got)
	}
}

func TestFirstUserPromptBlockContent(t *testing.T) {
	path := writeLog(t,
		`{"type":"user","message":{"content":[{"type":"tool_result","text":""},{"type":"text","text":"build the parser"}]}}`,
	)
	if got := FirstUserPrompt(path); got != "build the parser" {
		t.Fatalf("unexpected prompt: %q", got)
	}
}

func TestCleanPromptTitleTruncatesRuneSafe(t *testing.T) {
	long := strings.Repeat("é", 120)
	got := CleanPromptTitle(long)
	if want := strings.Repeat("é", 100) + "..."; got != want {
		t.Fatalf("rune-unsafe truncation: got %d chars", len([]rune(got)))
	}
}

func TestReadAssistantStampsIncludesNoUsageMessages(t *testing.T) {
	path := writeLog(t,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"id":"msg_1"}}`,
		`{"type":"assistant","timestamp":"2025-06-01T10:01:00Z","message":{"id":"msg_2","usage":{"output_tokens":5}}}`,
		`{"type":"user","message":{"content":"hi"}}`,
	)
	stamps := ReadAssistantStamps(path)
	if len(stamps) != 2 {
		t.Fatalf("expected 2 stamps, got %d", len(stamps))
	}
	if stamps[0].MessageID != "msg_1" || stamps[1].MessageID != "msg_2" {
		t.Fatalf("unexpected stamps: %+v", stamps)
	}
}
