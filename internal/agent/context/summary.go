package context

import (
	"github.com/haasonsaas/nexus/pkg/models"
)

// SummaryMetadataKey is the metadata key used to identify summary messages.
const SummaryMetadataKey = "nexus_summary"

// FindLatestSummary finds the most recent summary message in history,
// scanning from the end. Returns nil if no summary exists.
func FindLatestSummary(history []*models.Message) *models.Message {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m == nil || m.Metadata == nil {
			continue
		}
		if val, ok := m.Metadata[SummaryMetadataKey]; ok {
			if b, ok := val.(bool); ok && b {
				return m
			}
		}
	}
	return nil
}

// MessagesSinceSummary returns the messages after the given summary, or
// all of history when summary is nil or not present.
func MessagesSinceSummary(history []*models.Message, summary *models.Message) []*models.Message {
	if summary == nil {
		return history
	}
	for i, m := range history {
		if m != nil && m.ID == summary.ID {
			if i+1 >= len(history) {
				return nil
			}
			return history[i+1:]
		}
	}
	return history
}

// GetMessagesToSummarize returns the older portion of the unsummarized
// history: everything since the last summary except the most recent
// keepRecent messages, with summary markers themselves skipped.
func GetMessagesToSummarize(history []*models.Message, summary *models.Message, keepRecent int) []*models.Message {
	messages := MessagesSinceSummary(history, summary)

	filtered := make([]*models.Message, 0, len(messages))
	for _, m := range messages {
		if m != nil && m.Metadata != nil {
			if val, ok := m.Metadata[SummaryMetadataKey]; ok {
				if b, ok := val.(bool); ok && b {
					continue
				}
			}
		}
		filtered = append(filtered, m)
	}

	if len(filtered) <= keepRecent {
		return nil
	}
	return filtered[:len(filtered)-keepRecent]
}
