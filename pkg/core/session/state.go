package session

import (
	"sync"
	"sync/atomic"

	"github.com/attune-ai/attune/pkg/core/types"
)

// State holds the flags shared between the session loops.
type State struct {
	aiSpeaking   atomic.Bool
	endRequested atomic.Bool
}

func (s *State) SetAISpeaking(v bool) { s.aiSpeaking.Store(v) }
func (s *State) AISpeaking() bool     { return s.aiSpeaking.Load() }

// RequestEnd marks the session as winding down. It is never unset.
func (s *State) RequestEnd()        { s.endRequested.Store(true) }
func (s *State) EndRequested() bool { return s.endRequested.Load() }

// completion latches the first end reason a session observes. Later
// resolutions lose and report false.
type completion struct {
	once   sync.Once
	done   chan struct{}
	reason types.EndReason
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

func (c *completion) resolve(reason types.EndReason) bool {
	won := false
	c.once.Do(func() {
		c.reason = reason
		won = true
		close(c.done)
	})
	return won
}

// wait returns a channel closed once the completion is resolved.
func (c *completion) wait() <-chan struct{} { return c.done }

// value returns the resolved reason, or "" while unresolved.
func (c *completion) value() types.EndReason {
	select {
	case <-c.done:
		return c.reason
	default:
		return ""
	}
}
