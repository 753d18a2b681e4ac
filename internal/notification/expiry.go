package notification

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ExpireFunc is called when an armed timer fires. generation identifies the
// arming so the receiver can ignore fires that raced with a replace or close.
type ExpireFunc func(id uint32, generation uint64)

type armedTimer struct {
	timer      *time.Timer
	generation uint64
}

// ExpiryScheduler runs one one-shot timer per notification. A fire only ever
// requests an expire transition, never a close.
type ExpiryScheduler struct {
	fire   ExpireFunc
	logger *log.Logger

	mu         sync.Mutex
	timers     map[uint32]armedTimer
	generation uint64
	stopped    bool
}

// NewExpiryScheduler creates a scheduler that calls fire on expiry.
func NewExpiryScheduler(fire ExpireFunc, logger *log.Logger) *ExpiryScheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &ExpiryScheduler{
		fire:   fire,
		logger: logger.WithPrefix("expiry"),
		timers: make(map[uint32]armedTimer),
	}
}

// Arm (re)arms the timer for id, cancelling any previous one, and returns the
// generation of the new arming.
func (s *ExpiryScheduler) Arm(id uint32, after time.Duration) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(id)
	s.generation++
	gen := s.generation
	if s.stopped {
		return gen
	}

	s.timers[id] = armedTimer{
		timer:      time.AfterFunc(after, func() { s.fired(id, gen) }),
		generation: gen,
	}
	s.logger.Debug("timer armed", "id", id, "after", after, "generation", gen)
	return gen
}

// Cancel stops the timer for id. Cancelling an unarmed id is a no-op.
func (s *ExpiryScheduler) Cancel(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(id)
}

// Pending returns the number of armed timers.
func (s *ExpiryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every timer. Later Arm calls return a generation but never fire.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.timers {
		s.cancelLocked(id)
	}
	s.stopped = true
}

func (s *ExpiryScheduler) cancelLocked(id uint32) {
	if t, ok := s.timers[id]; ok {
		t.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *ExpiryScheduler) fired(id uint32, gen uint64) {
	s.mu.Lock()
	cur, ok := s.timers[id]
	current := ok && cur.generation == gen
	if current {
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if !current {
		// Replaced or closed after the timer was already running.
		return
	}
	s.fire(id, gen)
}
