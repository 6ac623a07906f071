// Package lifecycle holds the small amount of process state shared between
// the gateway server and its handlers during graceful shutdown. Once the
// gateway starts draining it stops admitting new voice sessions and lets the
// live ones run to their natural end.
package lifecycle

import (
	"sync"
	"time"
)

// Lifecycle reports whether the gateway is draining. The zero value is ready
// to use and reports a non-draining process.
type Lifecycle struct {
	mu       sync.Mutex
	draining bool
	since    time.Time
}

// SetDraining flips the draining flag. The first transition to draining
// records the drain start time; flipping back clears it.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if draining && !l.draining {
		l.since = time.Now()
	}
	if !draining {
		l.since = time.Time{}
	}
	l.draining = draining
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draining
}

// DrainingFor returns how long the process has been draining, or zero when it
// is not draining.
func (l *Lifecycle) DrainingFor() time.Duration {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.draining || l.since.IsZero() {
		return 0
	}
	return time.Since(l.since)
}
