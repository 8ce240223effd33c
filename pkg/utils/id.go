package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateMessageID generates a locally unique chat message ID: send time
// plus a random suffix, so two messages composed in the same millisecond
// still get distinct IDs.
func GenerateMessageID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("msg_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}

// GenerateParticipantID generates a unique participant ID.
func GenerateParticipantID() string {
	return "prt_" + uuid.NewString()
}

// GenerateSurfaceID generates a unique render surface ID.
func GenerateSurfaceID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("srf_%d_%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
