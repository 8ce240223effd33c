package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"coachmeet/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_DeliversToAllSubscribersIncludingSender(t *testing.T) {
	c := NewChannel()
	defer c.Close()

	var mu sync.Mutex
	got := make(map[int][]string)
	for i := 0; i < 3; i++ {
		i := i
		_, err := c.Subscribe(context.Background(), func(payload []byte) {
			mu.Lock()
			defer mu.Unlock()
			got[i] = append(got[i], string(payload))
		})
		require.NoError(t, err)
	}

	require.NoError(t, c.Publish(context.Background(), []byte("hello"), ports.PublishOptions{}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got[0]) == 1 && len(got[1]) == 1 && len(got[2]) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello"}, got[0])
}

func TestChannel_Unsubscribe(t *testing.T) {
	c := NewChannel()
	defer c.Close()

	var mu sync.Mutex
	var count int
	unsub, err := c.Subscribe(context.Background(), func(payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})
	require.NoError(t, err)

	require.NoError(t, c.Publish(context.Background(), []byte("one"), ports.PublishOptions{}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)

	unsub()
	require.NoError(t, c.Publish(context.Background(), []byte("two"), ports.PublishOptions{}))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestChannel_PublishCopiesPayload(t *testing.T) {
	c := NewChannel()
	defer c.Close()

	var mu sync.Mutex
	var got string
	_, err := c.Subscribe(context.Background(), func(payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = string(payload)
	})
	require.NoError(t, err)

	payload := []byte("original")
	require.NoError(t, c.Publish(context.Background(), payload, ports.PublishOptions{}))
	// The caller may reuse the buffer immediately.
	copy(payload, "mutated!")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == "original"
	}, time.Second, 5*time.Millisecond)
}

func TestChannel_ClosedRejectsOperations(t *testing.T) {
	c := NewChannel()
	require.NoError(t, c.Close())

	assert.Error(t, c.Publish(context.Background(), []byte("x"), ports.PublishOptions{}))
	_, err := c.Subscribe(context.Background(), func([]byte) {})
	assert.Error(t, err)
}
