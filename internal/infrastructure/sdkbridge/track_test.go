package sdkbridge

import (
	"testing"

	"coachmeet/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestKindFromLabel(t *testing.T) {
	tests := []struct {
		label string
		want  domain.MediaKind
		ok    bool
	}{
		{"coach-1:mic", domain.MediaKindMic, true},
		{"coach-1:webcam", domain.MediaKindWebcam, true},
		{"coach-1:screenshare", domain.MediaKindScreenShare, true},
		{"with:colons:inside:webcam", domain.MediaKindWebcam, true},
		{"coach-1:unknown", "", false},
		{"nolabel", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			kind, ok := kindFromLabel(tt.label)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, kind)
			}
		})
	}
}

func TestParticipantFromLabel(t *testing.T) {
	assert.Equal(t, domain.ParticipantID("coach-1"), participantFromLabel("coach-1:webcam"))
	assert.Equal(t, domain.ParticipantID("a:b"), participantFromLabel("a:b:mic"))
	assert.Equal(t, domain.ParticipantID(""), participantFromLabel("nolabel"))
	assert.Equal(t, domain.ParticipantID(""), participantFromLabel(":mic"))
}
