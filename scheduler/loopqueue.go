package scheduler

import (
	"sync"

	"github.com/rs/zerolog"
)

// PendingLoopChange is a loop set or clear waiting for its beat. One per
// strip; a new request overwrites an unapplied one.
type PendingLoopChange struct {
	StripIndex   int
	Active       bool // a loop region is being installed
	Clear        bool // the loop region is being removed
	StartColumn  int
	EndColumn    int
	MarkerColumn int // column to snap the head to on clear, -1 = none
	Reverse      bool
	Quantized    bool
	TargetPpq    float64
}

// LoopChangeQueue applies loop-region changes on the same quantization
// grid as triggers, at audio-block boundaries.
type LoopChangeQueue struct {
	clock  *Clock
	engine Engine
	host   HostTransport
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[int]PendingLoopChange

	// Same hold-scratch immediacy heuristic as the trigger gate.
	scratchHoldThreshold int
}

// NewLoopChangeQueue creates a queue over the shared clock
func NewLoopChangeQueue(clock *Clock, engine Engine, host HostTransport, log zerolog.Logger) *LoopChangeQueue {
	return &LoopChangeQueue{
		clock:                clock,
		engine:               engine,
		host:                 host,
		log:                  log.With().Str("component", "loopqueue").Logger(),
		pending:              make(map[int]PendingLoopChange),
		scratchHoldThreshold: 1,
	}
}

// SetScratchHoldThreshold tunes the hold-scratch immediacy heuristic
func (q *LoopChangeQueue) SetScratchHoldThreshold(n int) {
	if n < 1 {
		n = 1
	}
	q.mu.Lock()
	q.scratchHoldThreshold = n
	q.mu.Unlock()
}

// RequestSet schedules a [start,end) loop region for a strip
func (q *LoopChangeQueue) RequestSet(strip, startColumn, endColumn int, reverse bool) {
	if strip < 0 || strip >= q.engine.NumStrips() {
		return
	}
	if startColumn > endColumn {
		startColumn, endColumn = endColumn, startColumn
	}
	q.submit(PendingLoopChange{
		StripIndex:   strip,
		Active:       true,
		StartColumn:  startColumn,
		EndColumn:    endColumn,
		MarkerColumn: -1,
		Reverse:      reverse,
	})
}

// RequestClear schedules removal of a strip's loop region. markerColumn
// repositions the read head on apply; pass -1 to leave it.
func (q *LoopChangeQueue) RequestClear(strip, markerColumn int) {
	if strip < 0 || strip >= q.engine.NumStrips() {
		return
	}
	q.submit(PendingLoopChange{
		StripIndex:   strip,
		Clear:        true,
		MarkerColumn: markerColumn,
	})
}

func (q *LoopChangeQueue) submit(ch PendingLoopChange) {
	target, quantized := q.clock.Target()

	// A live scratch gesture wants its loop change now, same as triggers.
	q.mu.Lock()
	threshold := q.scratchHoldThreshold
	q.mu.Unlock()
	if quantized && q.engine.HeldCount(ch.StripIndex) >= threshold && q.engine.ScratchAmount(ch.StripIndex) != 0 {
		target, quantized = q.clock.Beat(), false
	}

	ch.Quantized = quantized
	ch.TargetPpq = target

	if !quantized {
		q.apply(ch)
		return
	}

	q.mu.Lock()
	// Overwrite-in-place: the newest request wins.
	q.pending[ch.StripIndex] = ch
	q.mu.Unlock()
	q.log.Debug().Int("strip", ch.StripIndex).Bool("clear", ch.Clear).Float64("beat", target).Msg("loop change scheduled")
}

// HasPending reports whether a strip has an unapplied loop change
func (q *LoopChangeQueue) HasPending(strip int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[strip]
	return ok
}

// ProcessBlock applies due loop changes. Called once per audio block.
func (q *LoopChangeQueue) ProcessBlock() {
	beat := q.clock.Beat()

	q.mu.Lock()
	var due []PendingLoopChange
	for strip, ch := range q.pending {
		if beat+gridEpsilon >= ch.TargetPpq {
			due = append(due, ch)
			delete(q.pending, strip)
		}
	}
	q.mu.Unlock()

	for _, ch := range due {
		q.apply(ch)
	}
}

// apply commits a loop change to the engine. A playing strip with no
// marker re-syncs its read head to the global sample clock so the region
// lands exactly on the boundary, not at a buffer offset.
func (q *LoopChangeQueue) apply(ch PendingLoopChange) {
	strip := ch.StripIndex
	if ch.Clear {
		q.engine.ClearLoop(strip)
		if ch.MarkerColumn >= 0 {
			q.engine.SnapToColumn(strip, ch.MarkerColumn)
		} else if q.engine.IsPlaying(strip) {
			q.engine.ResyncToSample(strip, q.host.GlobalSampleCount())
		}
		return
	}
	q.engine.SetLoop(strip, ch.StartColumn, ch.EndColumn, ch.Reverse)
	if q.engine.IsPlaying(strip) {
		q.engine.ResyncToSample(strip, q.host.GlobalSampleCount())
	}
}
