package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"coachmeet/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(meeting domain.MeetingID, id, body string) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:         id,
		MeetingID:  meeting,
		SenderID:   "p1",
		SenderName: "Pat",
		Body:       body,
		CreatedAt:  time.Now(),
	}
}

func TestMemoryChatStore_AppendAndRecent(t *testing.T) {
	s := NewMemoryChatStore()
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, msg("m1", fmt.Sprintf("id%d", i), fmt.Sprintf("body %d", i))))
	}

	all, err := s.Recent(ctx, "m1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	last, err := s.Recent(ctx, "m1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "body 3", last[0].Body)
	assert.Equal(t, "body 4", last[1].Body)
}

func TestMemoryChatStore_MeetingsAreIsolated(t *testing.T) {
	s := NewMemoryChatStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, msg("m1", "a", "for m1")))
	require.NoError(t, s.Append(ctx, msg("m2", "b", "for m2")))

	m1, err := s.Recent(ctx, "m1", 0)
	require.NoError(t, err)
	require.Len(t, m1, 1)
	assert.Equal(t, "for m1", m1[0].Body)
}

func TestMemoryChatStore_SubscribeDeliversInserts(t *testing.T) {
	s := NewMemoryChatStore()
	defer s.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	unsub, err := s.Subscribe(ctx, "m1", func(m *domain.ChatMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m.Body)
	})
	require.NoError(t, err)

	require.NoError(t, s.Append(ctx, msg("m1", "a", "first")))
	// Inserts for other meetings never reach this subscriber.
	require.NoError(t, s.Append(ctx, msg("m2", "b", "other")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "first"
	}, time.Second, 5*time.Millisecond)

	unsub()
	require.NoError(t, s.Append(ctx, msg("m1", "c", "after unsub")))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 1)
}

func TestMemoryChatStore_ReadsReturnCopies(t *testing.T) {
	s := NewMemoryChatStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, msg("m1", "a", "original")))
	out, err := s.Recent(ctx, "m1", 0)
	require.NoError(t, err)
	out[0].Body = "mutated"

	again, err := s.Recent(ctx, "m1", 0)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Body)
}

func TestMemoryChatStore_ClosedRejectsAppend(t *testing.T) {
	s := NewMemoryChatStore()
	require.NoError(t, s.Close())
	assert.Error(t, s.Append(context.Background(), msg("m1", "a", "late")))
}
