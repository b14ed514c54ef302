package store

// FilterCompacted implements the compaction-boundary slicing rule: it
// finds the newest user message that (1) carries a CompactionPart and
// (2) has a corresponding assistant reply with Summary=true, and
// returns only the messages from that boundary forward. If no such
// boundary exists, messages is returned unchanged. The function is
// idempotent: FilterCompacted(FilterCompacted(ms)) == FilterCompacted(ms).
func FilterCompacted(messages []WithParts) []WithParts {
	boundary := -1

	for i, m := range messages {
		if m.Info.Role != RoleUser {
			continue
		}
		if !hasCompactionPart(m.Parts) {
			continue
		}
		if !hasSummaryReplyAfter(messages, i, m.Info.ID) {
			continue
		}
		// Keep the newest matching boundary.
		boundary = i
	}

	if boundary < 0 {
		return messages
	}
	return messages[boundary:]
}

func hasCompactionPart(parts []Part) bool {
	for _, p := range parts {
		if p.PartType() == PartTypeCompaction {
			return true
		}
	}
	return false
}

// hasSummaryReplyAfter reports whether some assistant message after
// index userIdx is parented to userMessageID and marked Summary.
func hasSummaryReplyAfter(messages []WithParts, userIdx int, userMessageID string) bool {
	for j := userIdx + 1; j < len(messages); j++ {
		m := messages[j].Info
		if m.Role != RoleAssistant {
			continue
		}
		if m.ParentID == userMessageID && m.Summary {
			return true
		}
	}
	return false
}
