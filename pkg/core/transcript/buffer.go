// Package transcript maintains the rolling conversation window that feeds
// the live analysis agents.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/attune-ai/attune/pkg/core/types"
)

const (
	// DefaultMaxSegments bounds how much conversation history is retained.
	DefaultMaxSegments = 20
	// DefaultAnalysisWindow is how many trailing segments an analysis
	// cycle considers.
	DefaultAnalysisWindow = 5
)

// Buffer is a bounded, concurrency-safe transcript deque. Adding beyond the
// capacity evicts the oldest segment.
type Buffer struct {
	mu       sync.Mutex
	segments []types.TranscriptSegment
	max      int
	window   int
}

// NewBuffer returns a buffer with the given capacity and analysis window.
// Non-positive arguments fall back to the defaults.
func NewBuffer(maxSegments, analysisWindow int) *Buffer {
	if maxSegments <= 0 {
		maxSegments = DefaultMaxSegments
	}
	if analysisWindow <= 0 {
		analysisWindow = DefaultAnalysisWindow
	}
	return &Buffer{
		segments: make([]types.TranscriptSegment, 0, maxSegments),
		max:      maxSegments,
		window:   analysisWindow,
	}
}

// Add appends a segment, evicting the oldest when full.
func (b *Buffer) Add(speaker types.Speaker, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.segments) >= b.max {
		b.segments = b.segments[1:]
	}
	b.segments = append(b.segments, types.TranscriptSegment{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// RecentUserText returns the user's words from the last n segments joined by
// spaces. The window is applied before filtering by speaker, so agent turns
// inside the window shrink how much user text is visible. n <= 0 uses the
// buffer's analysis window.
func (b *Buffer) RecentUserText(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 {
		n = b.window
	}
	start := len(b.segments) - n
	if start < 0 {
		start = 0
	}
	var parts []string
	for _, seg := range b.segments[start:] {
		if seg.Speaker == types.SpeakerUser {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

// FullConversation renders every retained segment as "SPEAKER: text" lines.
func (b *Buffer) FullConversation() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := make([]string, 0, len(b.segments))
	for _, seg := range b.segments {
		lines = append(lines, strings.ToUpper(string(seg.Speaker))+": "+seg.Text)
	}
	return strings.Join(lines, "\n")
}

// Len reports how many segments are currently retained.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segments)
}
