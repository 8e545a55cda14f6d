package state

import (
	"time"

	"github.com/richinex/relay/model"
)

// PairMessages matches each user message with an assistant message that
// immediately follows it, scanning left to right. Unmatched messages and
// system messages produce no pair. The pair timestamp is the assistant's,
// else the user's, else now.
func PairMessages(messages []model.ChatMessage, now time.Time) []model.MessagePair {
	pairs := []model.MessagePair{}
	for i := 0; i+1 < len(messages); i++ {
		user, next := messages[i], messages[i+1]
		if user.Role != model.RoleUser || next.Role != model.RoleAssistant {
			continue
		}

		ts := now.UnixMilli()
		switch {
		case next.Timestamp != nil:
			ts = *next.Timestamp
		case user.Timestamp != nil:
			ts = *user.Timestamp
		}
		pairs = append(pairs, model.MessagePair{User: user, Assistant: next, Timestamp: ts})
		i++
	}
	return pairs
}
