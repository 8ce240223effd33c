package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// MeetingIDRegex validates meeting id format
	MeetingIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ParticipantIDRegex validates participant id format
	ParticipantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const (
	MaxMeetingIDLength     = 128
	MaxParticipantIDLength = 128
	MaxDisplayNameLength   = 80
	MaxChatBodyLength      = 2000
)

// ValidateMeetingID validates a meeting identifier.
func ValidateMeetingID(id string) error {
	if id == "" {
		return fmt.Errorf("meeting id is required")
	}
	if len(id) > MaxMeetingIDLength {
		return fmt.Errorf("meeting id must be at most %d characters", MaxMeetingIDLength)
	}
	if !MeetingIDRegex.MatchString(id) {
		return fmt.Errorf("meeting id may only contain letters, digits, hyphens and underscores")
	}
	return nil
}

// ValidateParticipantID validates a participant identifier.
func ValidateParticipantID(id string) error {
	if id == "" {
		return fmt.Errorf("participant id is required")
	}
	if len(id) > MaxParticipantIDLength {
		return fmt.Errorf("participant id must be at most %d characters", MaxParticipantIDLength)
	}
	if !ParticipantIDRegex.MatchString(id) {
		return fmt.Errorf("participant id may only contain letters, digits, hyphens and underscores")
	}
	return nil
}

// ValidateDisplayName validates a participant display name.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return fmt.Errorf("display name must be at most %d characters", MaxDisplayNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("display name must not contain control characters")
		}
	}
	return nil
}

// ValidateChatBody validates a chat message body before sending.
func ValidateChatBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("message body is empty")
	}
	if !utf8.ValidString(body) {
		return fmt.Errorf("message body is not valid UTF-8")
	}
	if utf8.RuneCountInString(body) > MaxChatBodyLength {
		return fmt.Errorf("message body must be at most %d characters", MaxChatBodyLength)
	}
	return nil
}

// ValidateSignalURL validates the signaling endpoint URL.
func ValidateSignalURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("signal url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("signal url is invalid: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("signal url must use ws or wss scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("signal url must include a host")
	}
	return nil
}
