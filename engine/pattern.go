package engine

import (
	"math"
	"sync"
)

// DefaultPatternBeats is the recorded pattern length: four 4/4 bars.
const DefaultPatternBeats = 16.0

// PatternEvent is one recorded trigger at an exact beat position
type PatternEvent struct {
	Beat   float64 // position within the pattern, [0, length)
	Strip  int
	Column int
}

// Pattern records triggers at the exact beat they were scheduled for and
// replays them in lock-step with what was heard.
type Pattern struct {
	mu        sync.Mutex
	length    float64
	recording bool
	playing   bool
	startBeat float64
	events    []PatternEvent
}

// NewPattern creates an empty pattern of the default length
func NewPattern() *Pattern {
	return &Pattern{length: DefaultPatternBeats}
}

// StartRecording begins capturing triggers, anchored at beat
func (p *Pattern) StartRecording(beat float64) {
	p.mu.Lock()
	p.recording = true
	p.startBeat = beat
	p.events = p.events[:0]
	p.mu.Unlock()
}

// StopRecording ends capture
func (p *Pattern) StopRecording() {
	p.mu.Lock()
	p.recording = false
	p.mu.Unlock()
}

// Recording reports whether capture is active
func (p *Pattern) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recording
}

// RecordTrigger captures a trigger at its exact beat. No-op unless
// recording. Implements the scheduler's recorder hook.
func (p *Pattern) RecordTrigger(beat float64, strip, column int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.recording {
		return
	}
	pos := math.Mod(beat-p.startBeat, p.length)
	if pos < 0 {
		pos += p.length
	}
	p.events = append(p.events, PatternEvent{Beat: pos, Strip: strip, Column: column})
}

// SetPlaying toggles replay
func (p *Pattern) SetPlaying(playing bool) {
	p.mu.Lock()
	p.playing = playing
	p.mu.Unlock()
}

// Playing reports whether replay is active
func (p *Pattern) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Events returns a snapshot of the recorded events
func (p *Pattern) Events() []PatternEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PatternEvent, len(p.events))
	copy(out, p.events)
	return out
}

// ReplayBetween returns events whose pattern position falls in
// [fromBeat, toBeat) of the timeline, with Beat rewritten to the absolute
// beat the event replays at. Used by the block loop.
func (p *Pattern) ReplayBetween(fromBeat, toBeat float64) []PatternEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing || len(p.events) == 0 || toBeat <= fromBeat {
		return nil
	}

	from := math.Mod(fromBeat-p.startBeat, p.length)
	if from < 0 {
		from += p.length
	}
	span := toBeat - fromBeat
	if span >= p.length {
		span = p.length
	}
	to := from + span

	var out []PatternEvent
	for _, ev := range p.events {
		if ev.Beat >= from && ev.Beat < to {
			out = append(out, PatternEvent{Beat: fromBeat + (ev.Beat - from), Strip: ev.Strip, Column: ev.Column})
		}
		// Window wrapping past the pattern end.
		if to > p.length && ev.Beat < to-p.length {
			out = append(out, PatternEvent{Beat: fromBeat + (ev.Beat + p.length - from), Strip: ev.Strip, Column: ev.Column})
		}
	}
	return out
}
