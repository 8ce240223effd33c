package domain

import (
	"time"

	"coachmeet/pkg/utils"
)

// ChatMessage is one entry in the meeting chat timeline. Messages are never
// mutated after creation; ordering is by arrival, not by any global sequence.
type ChatMessage struct {
	ID         string
	MeetingID  MeetingID
	SenderID   ParticipantID
	SenderName string
	Body       string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// IsDuplicateOf reports whether m looks like the same message as other
// delivered over a second channel: same body and sender name, created within
// the given window. Content matching is heuristic but the broadcast
// transport assigns no sequence numbers to compare instead.
func (m *ChatMessage) IsDuplicateOf(other *ChatMessage, window time.Duration) bool {
	if m.Body != other.Body || m.SenderName != other.SenderName {
		return false
	}
	return utils.Within(m.CreatedAt, other.CreatedAt, window)
}
