// Package sessions tracks running voice sessions so the HTTP handlers can
// look them up, end them, and wait for their completion.
package sessions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attune-ai/attune/pkg/core/types"
)

type Status string

const (
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusEnding   Status = "ending"
	StatusEnded    Status = "ended"
)

// endedRetention bounds how many finished records stay queryable.
const endedRetention = 256

// Handle connects a record to its running session.
type Handle struct {
	// End asks the session to stop with the given reason. Must be safe to
	// call repeatedly and after the session has already ended.
	End func(reason types.EndReason)
}

// Record is one session's registry entry. It outlives the session itself
// so status and wait queries keep working after the end.
type Record struct {
	ID        string
	UserName  string
	StartedAt time.Time

	handle Handle

	mu      sync.Mutex
	status  Status
	reason  types.EndReason
	endedAt time.Time
	failure string

	done chan struct{}
	once sync.Once

	complete func()
}

// Snapshot is a point-in-time view of a record.
type Snapshot struct {
	ID        string
	UserName  string
	Status    Status
	Ended     bool
	Reason    types.EndReason
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Record
	order    []string
	wg       sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Record)}
}

// Register creates a record in the starting state and returns it.
func (r *Registry) Register(userName string, h Handle) *Record {
	rec := &Record{
		ID:        "s_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		UserName:  userName,
		StartedAt: time.Now(),
		handle:    h,
		status:    StatusStarting,
		done:      make(chan struct{}),
	}
	rec.complete = func() { r.wg.Done() }

	r.mu.Lock()
	r.pruneLocked()
	r.sessions[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	r.wg.Add(1)
	r.mu.Unlock()
	return rec
}

// Lookup returns the record for id, if any.
func (r *Registry) Lookup(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	return rec, ok
}

// Active counts sessions that have not ended yet.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.sessions {
		if rec.Status() != StatusEnded {
			n++
		}
	}
	return n
}

// EndAll asks every live session to stop. Used at gateway shutdown.
func (r *Registry) EndAll(reason types.EndReason) int {
	r.mu.Lock()
	var live []*Record
	for _, rec := range r.sessions {
		if rec.Status() != StatusEnded {
			live = append(live, rec)
		}
	}
	r.mu.Unlock()

	for _, rec := range live {
		rec.End(reason)
	}
	return len(live)
}

// Wait blocks until every registered session has completed, or ctx is done.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// pruneLocked drops the oldest ended records past the retention bound.
func (r *Registry) pruneLocked() {
	if len(r.order) < endedRetention {
		return
	}
	kept := r.order[:0]
	dropped := 0
	for _, id := range r.order {
		rec := r.sessions[id]
		if rec == nil {
			continue
		}
		if dropped < len(r.order)-endedRetention+1 && rec.Status() == StatusEnded {
			delete(r.sessions, id)
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func (s *Record) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// MarkActive moves a starting record to active. No-op once ended.
func (s *Record) MarkActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusStarting {
		s.status = StatusActive
	}
}

// MarkEnding flags a session that is wrapping up on its own initiative,
// without asking it to stop.
func (s *Record) MarkEnding() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusStarting || s.status == StatusActive {
		s.status = StatusEnding
	}
}

// End asks the running session to stop and marks the record ending.
func (s *Record) End(reason types.EndReason) {
	s.mu.Lock()
	if s.status == StatusEnded {
		s.mu.Unlock()
		return
	}
	s.status = StatusEnding
	end := s.handle.End
	s.mu.Unlock()
	if end != nil {
		end(reason)
	}
}

// Complete marks the record ended. The first call wins; later calls are
// no-ops.
func (s *Record) Complete(reason types.EndReason) {
	s.once.Do(func() {
		s.mu.Lock()
		s.status = StatusEnded
		s.reason = reason
		s.endedAt = time.Now()
		s.mu.Unlock()
		close(s.done)
		if s.complete != nil {
			s.complete()
		}
	})
}

// Fail records a session that never went live.
func (s *Record) Fail(err error) {
	s.mu.Lock()
	if err != nil {
		s.failure = err.Error()
	}
	s.mu.Unlock()
	s.Complete(types.EndConnectionClosed)
}

// Done is closed when the session has ended.
func (s *Record) Done() <-chan struct{} { return s.done }

// WaitForEnd blocks until the session ends, the timeout elapses, or ctx is
// done. It reports whether the session ended.
func (s *Record) WaitForEnd(ctx context.Context, timeout time.Duration) (types.EndReason, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return s.Reason(), true
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

func (s *Record) Reason() types.EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Record) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:        s.ID,
		UserName:  s.UserName,
		Status:    s.status,
		Ended:     s.status == StatusEnded,
		Reason:    s.reason,
		Error:     s.failure,
		StartedAt: s.StartedAt,
	}
	if s.status == StatusEnded {
		snap.Duration = s.endedAt.Sub(s.StartedAt)
	} else {
		snap.Duration = time.Since(s.StartedAt)
	}
	return snap
}
