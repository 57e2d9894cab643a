package testutil

import "sync"

// MessageClock stamps scripted kernel messages with a receive sequence.
//
// A real session numbers messages in the order they arrive from the kernel;
// MessageClock gives scripted sessions the same numbering so traces are
// reproducible across test runs.
//
// Thread-safety: all methods are safe for concurrent use.
type MessageClock struct {
	mu  sync.Mutex
	seq int64
}

// NewMessageClock creates a clock whose first Next returns 1.
func NewMessageClock() *MessageClock {
	return &MessageClock{}
}

// Next advances the clock and returns the new sequence number.
func (c *MessageClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last sequence number handed out (0 before any Next).
func (c *MessageClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset starts numbering from 1 again.
func (c *MessageClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
