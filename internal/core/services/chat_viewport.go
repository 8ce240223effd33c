package services

import "sync"

// BottomThreshold is how close to the bottom, in pixels, still counts as
// pinned.
const BottomThreshold = 50

// ChatViewport tracks whether the message list should follow new entries.
// The list auto-scrolls unless the viewer has scrolled up past the bottom
// threshold, in which case a "jump to latest" affordance shows instead.
type ChatViewport struct {
	mu        sync.Mutex
	threshold float64
	pinned    bool
}

// NewChatViewport creates a viewport tracker starting pinned to the bottom.
func NewChatViewport() *ChatViewport {
	return &ChatViewport{threshold: BottomThreshold, pinned: true}
}

// Update records the current scroll geometry.
func (v *ChatViewport) Update(scrollTop, viewportHeight, contentHeight float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	distance := contentHeight - viewportHeight - scrollTop
	v.pinned = distance <= v.threshold
}

// FollowNew reports whether the list should scroll to the newest entry.
func (v *ChatViewport) FollowNew() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pinned
}

// ShowJumpToLatest reports whether the jump affordance should be visible.
func (v *ChatViewport) ShowJumpToLatest() bool {
	return !v.FollowNew()
}

// JumpToLatest re-pins the list; the UI scrolls to the bottom in response.
func (v *ChatViewport) JumpToLatest() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pinned = true
}
