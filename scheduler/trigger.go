package scheduler

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// PendingTrigger is a quantized trigger waiting for its beat. Its presence
// is the gate: while one exists for a strip, further presses are dropped.
type PendingTrigger struct {
	StripIndex    int
	Column        int
	ScheduledBeat float64
}

// TriggerScheduler turns strip/column activations into immediate engine
// commands or pending triggers drained at audio-block boundaries. At most
// one pending trigger per strip; the gate drops, never queues.
type TriggerScheduler struct {
	clock  *Clock
	engine Engine
	host   HostTransport
	loops  *LoopChangeQueue
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[int]PendingTrigger
	rec     PatternRecorder

	// Hold-scratch bypass threshold: a strip held at least this deep with
	// non-zero scratch triggers immediately. Tunable heuristic.
	scratchHoldThreshold int
}

// NewTriggerScheduler creates a scheduler over the shared clock
func NewTriggerScheduler(clock *Clock, engine Engine, host HostTransport, loops *LoopChangeQueue, log zerolog.Logger) *TriggerScheduler {
	return &TriggerScheduler{
		clock:                clock,
		engine:               engine,
		host:                 host,
		loops:                loops,
		log:                  log.With().Str("component", "scheduler").Logger(),
		pending:              make(map[int]PendingTrigger),
		scratchHoldThreshold: 1,
	}
}

// SetRecorder installs the pattern recorder hook
func (s *TriggerScheduler) SetRecorder(rec PatternRecorder) {
	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()
}

// SetScratchHoldThreshold tunes the hold-scratch immediacy heuristic
func (s *TriggerScheduler) SetScratchHoldThreshold(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.scratchHoldThreshold = n
	s.mu.Unlock()
}

// Press handles a strip/column activation. Out-of-range indices are
// rejected by early return.
func (s *TriggerScheduler) Press(strip, column int) {
	if strip < 0 || strip >= s.engine.NumStrips() || column < 0 {
		return
	}

	// A strip with an active inner loop re-pressed: restore the full range
	// on the grid instead of re-triggering. The press column doubles as
	// the reposition marker.
	if s.engine.HasInnerLoop(strip) {
		s.loops.RequestClear(strip, column)
		return
	}

	s.mu.Lock()
	if _, gated := s.pending[strip]; gated {
		// Gate closed: the press is dropped outright, not queued or
		// replaced, to choke runaway re-triggering.
		s.mu.Unlock()
		return
	}
	threshold := s.scratchHoldThreshold
	s.mu.Unlock()

	target, quantized := s.clock.Target()

	// A live scratch gesture wants immediacy over grid alignment.
	if quantized && s.engine.HeldCount(strip) >= threshold && s.engine.ScratchAmount(strip) != 0 {
		target, quantized = s.clock.Beat(), false
	}

	if !quantized {
		s.fire(strip, column, target)
		return
	}

	s.mu.Lock()
	// Re-check: a concurrent press may have taken the gate.
	if _, gated := s.pending[strip]; !gated {
		s.pending[strip] = PendingTrigger{StripIndex: strip, Column: column, ScheduledBeat: target}
		s.log.Debug().Int("strip", strip).Int("column", column).Float64("beat", target).Msg("trigger scheduled")
	}
	s.mu.Unlock()
}

// HasPending reports whether a strip's gate is closed
func (s *TriggerScheduler) HasPending(strip int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[strip]
	return ok
}

// Pending returns a snapshot of pending triggers, ordered by strip
func (s *TriggerScheduler) Pending() []PendingTrigger {
	s.mu.Lock()
	out := make([]PendingTrigger, 0, len(s.pending))
	for _, pt := range s.pending {
		out = append(out, pt)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StripIndex < out[j].StripIndex })
	return out
}

// CancelAll clears every pending trigger without firing
func (s *TriggerScheduler) CancelAll() {
	s.mu.Lock()
	s.pending = make(map[int]PendingTrigger)
	s.mu.Unlock()
}

// ProcessBlock drains pending triggers whose beat has been reached. Called
// exactly once per audio block from the render path; the lock covers only
// the table scan, never the engine commands.
func (s *TriggerScheduler) ProcessBlock() {
	beat := s.clock.Beat()

	s.mu.Lock()
	var due []PendingTrigger
	for strip, pt := range s.pending {
		if beat+gridEpsilon >= pt.ScheduledBeat {
			due = append(due, pt)
			delete(s.pending, strip)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}
	// Deterministic tie-break when several strips land on one grid line.
	sort.Slice(due, func(i, j int) bool { return due[i].StripIndex < due[j].StripIndex })
	for _, pt := range due {
		s.fire(pt.StripIndex, pt.Column, pt.ScheduledBeat)
	}
}

// ReplayTrigger fires a recorded pattern event through the same group
// choke as a live trigger, at the event's exact beat. Replayed events are
// never re-recorded.
func (s *TriggerScheduler) ReplayTrigger(strip, column int, beat float64) {
	if strip < 0 || strip >= s.engine.NumStrips() || column < 0 {
		return
	}
	s.resolveChoke(strip)
	s.engine.TriggerAtSample(strip, column, s.host.CurrentTempo(), s.host.GlobalSampleCount(), beat)
}

// fire resolves group choke and issues the trigger at the current global
// sample position. beat is the exact position the trigger belongs to and
// is what the pattern recorder sees.
func (s *TriggerScheduler) fire(strip, column int, beat float64) {
	s.resolveChoke(strip)
	s.engine.TriggerAtSample(strip, column, s.host.CurrentTempo(), s.host.GlobalSampleCount(), beat)

	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec != nil {
		rec.RecordTrigger(beat, strip, column)
	}
}

// resolveChoke unmutes a strip's group and stops its other playing members
func (s *TriggerScheduler) resolveChoke(strip int) {
	group := s.engine.GroupOf(strip)
	if group < 0 {
		return
	}
	if s.engine.GroupMuted(group) {
		s.engine.SetGroupMuted(group, false)
	}
	for _, other := range s.engine.GroupMembers(group) {
		if other != strip && s.engine.IsPlaying(other) {
			s.engine.Stop(other, true)
		}
	}
}
