// Package inbox builds per-counterparty conversation summaries from a flat
// list of direct messages.
package inbox

import (
	"shikkha-messages/internal/domain"
)

const (
	UnknownUsername = "Unknown user"
	UnknownRole     = "unknown"
)

// Aggregate groups msgs into one summary per counterparty of viewerID.
//
// msgs must be ordered newest first. The first message seen for a counterparty
// is therefore its latest and becomes LastMessage; later ones only add to
// UnreadCount. Summaries come back in first-encounter order, which is recency
// order. Deleted messages and messages without a resolvable counterparty are
// skipped. Counterparty profiles are left empty; see AttachProfiles.
func Aggregate(viewerID string, msgs []domain.Message) []domain.ConversationSummary {
	out := make([]domain.ConversationSummary, 0)
	if viewerID == "" {
		return out
	}

	index := make(map[string]int)
	for _, m := range msgs {
		if m.IsDeleted {
			continue
		}
		counterparty, ok := m.Counterparty(viewerID)
		if !ok {
			continue
		}

		unread := 0
		if m.UnreadBy(viewerID) {
			unread = 1
		}

		i, seen := index[counterparty]
		if !seen {
			index[counterparty] = len(out)
			out = append(out, domain.ConversationSummary{
				CounterpartyID: counterparty,
				LastMessage:    m,
				UnreadCount:    unread,
			})
			continue
		}
		out[i].UnreadCount += unread
	}
	return out
}

// CounterpartyIDs returns the counterparty ids of summaries in order.
func CounterpartyIDs(summaries []domain.ConversationSummary) []string {
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.CounterpartyID)
	}
	return ids
}

// AttachProfiles sets each summary's Counterparty from profiles. Summaries
// whose counterparty is missing get a placeholder profile instead of being
// dropped, and their ids are returned as unresolved.
func AttachProfiles(summaries []domain.ConversationSummary, profiles map[string]domain.Profile) []string {
	var unresolved []string
	for i := range summaries {
		id := summaries[i].CounterpartyID
		p, ok := profiles[id]
		if !ok {
			summaries[i].Counterparty = Placeholder(id)
			unresolved = append(unresolved, id)
			continue
		}
		p.ID = id
		summaries[i].Counterparty = p
	}
	return unresolved
}

// Placeholder is the profile shown for a counterparty whose account no
// longer resolves.
func Placeholder(id string) domain.Profile {
	return domain.Profile{ID: id, Username: UnknownUsername, Role: UnknownRole}
}

// UnreadTotal sums UnreadCount across summaries.
func UnreadTotal(summaries []domain.ConversationSummary) int {
	total := 0
	for _, s := range summaries {
		total += s.UnreadCount
	}
	return total
}
