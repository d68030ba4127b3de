package export

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/reelcut/internal/models"
)

// Outcome is the terminal result of a session.
type Outcome struct {
	Phase       models.ExportPhase
	Backend     string
	Filename    string
	Location    string // where the Saver put the file, empty when nothing was kept
	AudioPath   string // realtime capture sidecar location
	Frames      int
	TotalFrames int
	Partial     bool
	Err         error
}

// Session is one export run. Its event stream is append-only and can be
// replayed from any sequence number.
type Session struct {
	ID uuid.UUID

	cancel atomic.Bool

	mu      sync.Mutex
	events  []models.ProgressEvent
	changed chan struct{}
	done    chan struct{}
	outcome Outcome
	now     func() time.Time
}

func newSession(id uuid.UUID) *Session {
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Session{
		ID:      id,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Cancel sets the cancellation flag. The running backend observes it at the
// next frame or tick.
func (s *Session) Cancel() { s.cancel.Store(true) }

// Cancelled reports whether Cancel was called.
func (s *Session) Cancelled() bool { return s.cancel.Load() }

func (s *Session) emit(phase models.ExportPhase, percent float64, message string, eta *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finishedLocked() {
		return
	}
	s.events = append(s.events, models.ProgressEvent{
		Seq:        len(s.events),
		Phase:      phase,
		Percent:    percent,
		Message:    message,
		ETASeconds: eta,
		At:         s.now(),
	})
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) finish(out Outcome, message string) {
	percent := 100.0
	if last, ok := s.Last(); ok && out.Phase != models.ExportPhaseDone {
		percent = last.Percent
	}
	s.emit(out.Phase, percent, message, nil)

	s.mu.Lock()
	s.outcome = out
	close(s.done)
	s.mu.Unlock()
}

func (s *Session) finishedLocked() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Events returns every event with Seq >= from.
func (s *Session) Events(from int) []models.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if from >= len(s.events) {
		return nil
	}
	out := make([]models.ProgressEvent, len(s.events)-from)
	copy(out, s.events[from:])
	return out
}

// Last returns the most recent event.
func (s *Session) Last() (models.ProgressEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return models.ProgressEvent{}, false
	}
	return s.events[len(s.events)-1], true
}

// Phase is the phase of the most recent event, idle before the first.
func (s *Session) Phase() models.ExportPhase {
	if e, ok := s.Last(); ok {
		return e.Phase
	}
	return models.ExportPhaseIdle
}

// Subscribe streams events starting at from until the terminal event has
// been delivered or ctx is done. The channel is closed afterwards.
func (s *Session) Subscribe(ctx context.Context, from int) <-chan models.ProgressEvent {
	ch := make(chan models.ProgressEvent)
	go func() {
		defer close(ch)
		next := from
		for {
			s.mu.Lock()
			var batch []models.ProgressEvent
			if next < len(s.events) {
				batch = append(batch, s.events[next:]...)
			}
			changed := s.changed
			finished := s.finishedLocked()
			s.mu.Unlock()

			for _, e := range batch {
				select {
				case ch <- e:
					next = e.Seq + 1
				case <-ctx.Done():
					return
				}
			}
			if finished && len(batch) == 0 {
				return
			}
			if len(batch) > 0 {
				continue
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Done is closed once the session reached a terminal phase.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session finishes or ctx is done.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
