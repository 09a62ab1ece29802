package types

import "time"

// HistoryEntry is one recorded chat or document interaction.
type HistoryEntry struct {
	UserMessage string `json:"userMessage"`
	AIResponse  string `json:"aiResponse"`
	Timestamp   string `json:"timestamp"`
}

// HistoryTimestampLayout is ISO-8601 with millisecond precision in UTC.
const HistoryTimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// NewHistoryEntry stamps an entry with t in UTC.
func NewHistoryEntry(userMessage, aiResponse string, t time.Time) HistoryEntry {
	return HistoryEntry{
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		Timestamp:   t.UTC().Format(HistoryTimestampLayout),
	}
}
