package memory

import (
	"context"
	"fmt"
	"sync"

	"coachmeet/internal/core/ports"
)

// Channel is an in-process loopback broadcast channel. It mirrors redis
// pub/sub semantics closely enough for tests and single-user sessions:
// subscribers receive the publisher's own echo, delivery order across
// subscribers is unspecified.
type Channel struct {
	mu          sync.Mutex
	subscribers map[int]func(payload []byte)
	nextID      int
	closed      bool
	wg          sync.WaitGroup
}

func NewChannel() *Channel {
	return &Channel{
		subscribers: make(map[int]func(payload []byte)),
	}
}

func (c *Channel) Publish(ctx context.Context, payload []byte, opts ports.PublishOptions) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("broadcast channel closed")
	}
	fns := make([]func([]byte), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	buf := make([]byte, len(payload))
	copy(buf, payload)
	for _, fn := range fns {
		fn := fn
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			fn(buf)
		}()
	}
	return nil
}

func (c *Channel) Subscribe(ctx context.Context, fn func(payload []byte)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("broadcast channel closed")
	}
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn

	unsubscribe := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
	return unsubscribe, nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.subscribers = make(map[int]func(payload []byte))
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}
