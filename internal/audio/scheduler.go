package audio

import "sync"

// Voice is a handle to one scheduled buffer on an output device.
type Voice interface {
	Stop()
}

// Output is the device side of speech playback: a monotonic clock in seconds
// and sample-accurate scheduling. onEnded fires once when a buffer plays to
// completion, never from inside Schedule and never after Stop.
type Output interface {
	Now() float64
	Schedule(buf *Buffer, at float64, onEnded func()) Voice
}

// Scheduler appends speech buffers back-to-back on the output timeline.
type Scheduler struct {
	out Output

	mu        sync.Mutex
	nextStart float64
	inFlight  map[*entry]struct{}
}

type entry struct {
	voice Voice
}

func NewScheduler(out Output) *Scheduler {
	return &Scheduler{
		out:      out,
		inFlight: make(map[*entry]struct{}),
	}
}

// Enqueue schedules buf right after the previously queued audio, never in the
// past, and returns its start time.
func (s *Scheduler) Enqueue(buf *Buffer) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.out.Now()
	if s.nextStart == 0 || s.nextStart < now {
		s.nextStart = now
	}
	start := s.nextStart

	e := &entry{}
	s.inFlight[e] = struct{}{}
	e.voice = s.out.Schedule(buf, start, func() { s.finish(e) })
	s.nextStart += buf.Duration()
	return start
}

// Interrupt stops everything that is queued or playing and moves the cursor
// to the current device time.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAllLocked()
	s.nextStart = s.out.Now()
}

// Reset stops all playback and clears the cursor so the next buffer starts
// at whatever the device time is then.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAllLocked()
	s.nextStart = 0
}

func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

func (s *Scheduler) stopAllLocked() {
	for e := range s.inFlight {
		if e.voice != nil {
			e.voice.Stop()
		}
		delete(s.inFlight, e)
	}
}

func (s *Scheduler) finish(e *entry) {
	s.mu.Lock()
	delete(s.inFlight, e)
	s.mu.Unlock()
}
