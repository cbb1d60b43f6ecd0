package core

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer

	scheduled bool
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Scheduler keeps software timers sorted by wake time.
// The board simulator drives its step, LED and debounce timers from one
// Scheduler; targets without enough hardware timers can do the same from a
// single tick interrupt.
type Scheduler struct {
	list *Timer
	now  uint32
	cs   Critical
}

// timerBefore compares wake times across counter wrap
func timerBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// Now returns the time of the last Advance
func (s *Scheduler) Now() uint32 {
	s.cs.Lock()
	defer s.cs.Unlock()
	return s.now
}

// Schedule adds t to the list. A timer that is already scheduled is moved.
func (s *Scheduler) Schedule(t *Timer) {
	s.cs.Lock()
	defer s.cs.Unlock()

	if t.scheduled {
		s.remove(t)
	}
	s.insert(t)
}

// Cancel removes t if it is scheduled
func (s *Scheduler) Cancel(t *Timer) {
	s.cs.Lock()
	defer s.cs.Unlock()

	if t.scheduled {
		s.remove(t)
	}
}

// Pending reports whether t is waiting to fire
func (s *Scheduler) Pending(t *Timer) bool {
	s.cs.Lock()
	defer s.cs.Unlock()
	return t.scheduled
}

// insert inserts a timer in sorted order by WakeTime
func (s *Scheduler) insert(t *Timer) {
	t.scheduled = true
	if s.list == nil || timerBefore(t.WakeTime, s.list.WakeTime) {
		t.Next = s.list
		s.list = t
		return
	}

	current := s.list
	for current.Next != nil && !timerBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

func (s *Scheduler) remove(t *Timer) {
	t.scheduled = false
	if s.list == t {
		s.list = t.Next
		t.Next = nil
		return
	}
	for current := s.list; current != nil; current = current.Next {
		if current.Next == t {
			current.Next = t.Next
			t.Next = nil
			return
		}
	}
}

// popDue unlinks the first timer due at or before now
func (s *Scheduler) popDue() *Timer {
	s.cs.Lock()
	defer s.cs.Unlock()

	t := s.list
	if t == nil || timerBefore(s.now, t.WakeTime) {
		return nil
	}
	s.list = t.Next
	t.Next = nil
	t.scheduled = false
	return t
}

// Advance moves time to now and runs every due timer in wake order.
// Handlers run outside the critical section, so they may schedule or cancel timers.
func (s *Scheduler) Advance(now uint32) {
	s.cs.Lock()
	s.now = now
	s.cs.Unlock()

	for {
		t := s.popDue()
		if t == nil {
			return
		}
		if t.Handler(t) == SF_RESCHEDULE {
			s.Schedule(t)
		}
	}
}

// NextWake returns the wake time of the earliest scheduled timer
func (s *Scheduler) NextWake() (uint32, bool) {
	s.cs.Lock()
	defer s.cs.Unlock()

	if s.list == nil {
		return 0, false
	}
	return s.list.WakeTime, true
}
