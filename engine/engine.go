// Package engine holds the playback-side state the scheduler commands:
// per-strip play state, mute groups, the internal sample/beat clock, and
// the pattern recorder. No DSP lives here.
package engine

import "sync"

// DefaultColumns is the number of playback columns per strip, matching the
// grid width.
const DefaultColumns = 16

// Options sizes the engine
type Options struct {
	SampleRate int
	BlockSize  int
	Tempo      float64
	Strips     int
	Groups     []int // per-strip mute group, -1 = none; nil = all in group 0
}

type strip struct {
	playing bool
	column  int
	group   int
	held    int
	scratch float64

	loopStart  int
	loopEnd    int
	reverse    bool
	syncSample int64
}

// Engine is the strip playback state machine. All methods are short memory
// operations under one mutex, safe from the audio path.
type Engine struct {
	mu sync.Mutex

	sampleRate int
	blockSize  int
	tempo      float64

	sampleCount int64
	beat        float64

	strips     []strip
	groupMuted map[int]bool

	pattern *Pattern
}

// New creates an engine with the given dimensions
func New(opts Options) *Engine {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 44100
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = 512
	}
	if opts.Tempo <= 0 {
		opts.Tempo = 120
	}
	if opts.Strips <= 0 {
		opts.Strips = 7
	}

	e := &Engine{
		sampleRate: opts.SampleRate,
		blockSize:  opts.BlockSize,
		tempo:      opts.Tempo,
		strips:     make([]strip, opts.Strips),
		groupMuted: make(map[int]bool),
		pattern:    NewPattern(),
	}
	for i := range e.strips {
		group := 0
		if opts.Groups != nil {
			group = -1
			if i < len(opts.Groups) {
				group = opts.Groups[i]
			}
		}
		e.strips[i] = strip{group: group, loopStart: 0, loopEnd: DefaultColumns}
	}
	return e
}

// NumStrips returns the strip count
func (e *Engine) NumStrips() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.strips)
}

// BlockSize returns the audio block size in samples
func (e *Engine) BlockSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blockSize
}

// SampleRate returns the sample rate
func (e *Engine) SampleRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampleRate
}

// Advance moves the internal clock forward by one audio block
func (e *Engine) Advance() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sampleCount += int64(e.blockSize)
	samplesPerBeat := float64(e.sampleRate) * 60 / e.tempo
	e.beat += float64(e.blockSize) / samplesPerBeat
}

// TimelineBeat returns the internal beat counter
func (e *Engine) TimelineBeat() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beat
}

// CurrentPpq makes the internal clock usable as the host transport when
// the process runs standalone.
func (e *Engine) CurrentPpq() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beat, true
}

// GlobalSampleCount returns the running sample position
func (e *Engine) GlobalSampleCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampleCount
}

// CurrentTempo returns the tempo in BPM
func (e *Engine) CurrentTempo() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tempo
}

// SetTempo changes the tempo, clamped to a sane playable range
func (e *Engine) SetTempo(bpm float64) {
	if bpm < 20 {
		bpm = 20
	}
	if bpm > 300 {
		bpm = 300
	}
	e.mu.Lock()
	e.tempo = bpm
	e.mu.Unlock()
}

func (e *Engine) valid(i int) bool {
	return i >= 0 && i < len(e.strips)
}

// IsPlaying reports whether a strip is playing
func (e *Engine) IsPlaying(i int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.valid(i) && e.strips[i].playing
}

// PlayingColumn returns the column a strip last triggered from
func (e *Engine) PlayingColumn(i int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid(i) {
		return 0
	}
	return e.strips[i].column
}

// KeyDown records a press on a strip (hold depth for the scratch bypass)
func (e *Engine) KeyDown(i int) {
	e.mu.Lock()
	if e.valid(i) {
		e.strips[i].held++
	}
	e.mu.Unlock()
}

// KeyUp records a release on a strip
func (e *Engine) KeyUp(i int) {
	e.mu.Lock()
	if e.valid(i) && e.strips[i].held > 0 {
		e.strips[i].held--
	}
	e.mu.Unlock()
}

// HeldCount returns how many buttons are held on a strip
func (e *Engine) HeldCount(i int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid(i) {
		return 0
	}
	return e.strips[i].held
}

// SetScratch records the current scratch amount for a strip
func (e *Engine) SetScratch(i int, amount float64) {
	e.mu.Lock()
	if e.valid(i) {
		e.strips[i].scratch = amount
	}
	e.mu.Unlock()
}

// ScratchAmount returns a strip's scratch amount
func (e *Engine) ScratchAmount(i int) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid(i) {
		return 0
	}
	return e.strips[i].scratch
}

// HasInnerLoop reports whether a strip's loop region is narrower than the
// full column range.
func (e *Engine) HasInnerLoop(i int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid(i) {
		return false
	}
	s := e.strips[i]
	return s.loopStart != 0 || s.loopEnd != DefaultColumns
}

// GroupOf returns a strip's mute group, -1 for none
func (e *Engine) GroupOf(i int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid(i) {
		return -1
	}
	return e.strips[i].group
}

// GroupMuted reports whether a mute group is muted
func (e *Engine) GroupMuted(group int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.groupMuted[group]
}

// SetGroupMuted mutes or unmutes a group
func (e *Engine) SetGroupMuted(group int, muted bool) {
	e.mu.Lock()
	e.groupMuted[group] = muted
	e.mu.Unlock()
}

// GroupMembers returns the strips assigned to a group
func (e *Engine) GroupMembers(group int) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []int
	for i := range e.strips {
		if e.strips[i].group == group {
			out = append(out, i)
		}
	}
	return out
}

// TriggerAtSample starts a strip playing from a column. Out-of-range
// columns clamp into the strip's loop region.
func (e *Engine) TriggerAtSample(i, column int, tempo float64, globalSample int64, hostBeat float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid(i) {
		return
	}
	s := &e.strips[i]
	if column < s.loopStart {
		column = s.loopStart
	}
	if column >= s.loopEnd {
		column = s.loopEnd - 1
	}
	s.playing = true
	s.column = column
	s.syncSample = globalSample
	_ = tempo
	_ = hostBeat
}

// Stop halts a strip. immediate skips any release ramp (no ramps exist
// here, the flag is part of the collaborator surface).
func (e *Engine) Stop(i int, immediate bool) {
	e.mu.Lock()
	if e.valid(i) {
		e.strips[i].playing = false
	}
	e.mu.Unlock()
	_ = immediate
}

// SetLoop installs a [start,end) column region on a strip
func (e *Engine) SetLoop(i, startColumn, endColumn int, reverse bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid(i) {
		return
	}
	if startColumn < 0 {
		startColumn = 0
	}
	if endColumn > DefaultColumns {
		endColumn = DefaultColumns
	}
	if endColumn <= startColumn {
		return
	}
	s := &e.strips[i]
	s.loopStart = startColumn
	s.loopEnd = endColumn
	s.reverse = reverse
	if s.column < startColumn || s.column >= endColumn {
		s.column = startColumn
	}
}

// ClearLoop restores a strip's full column range
func (e *Engine) ClearLoop(i int) {
	e.mu.Lock()
	if e.valid(i) {
		e.strips[i].loopStart = 0
		e.strips[i].loopEnd = DefaultColumns
		e.strips[i].reverse = false
	}
	e.mu.Unlock()
}

// Loop returns a strip's loop region and direction
func (e *Engine) Loop(i int) (start, end int, reverse bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid(i) {
		return 0, DefaultColumns, false
	}
	s := e.strips[i]
	return s.loopStart, s.loopEnd, s.reverse
}

// SnapToColumn moves a strip's read head to a column
func (e *Engine) SnapToColumn(i, column int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid(i) {
		return
	}
	if column < 0 {
		column = 0
	}
	if column >= DefaultColumns {
		column = DefaultColumns - 1
	}
	e.strips[i].column = column
}

// ResyncToSample aligns a strip's read head phase to the global sample
// clock, so a loop change lands on the boundary rather than mid-buffer.
func (e *Engine) ResyncToSample(i int, globalSample int64) {
	e.mu.Lock()
	if e.valid(i) {
		e.strips[i].syncSample = globalSample
	}
	e.mu.Unlock()
}

// Recorder returns the engine's pattern recorder
func (e *Engine) Recorder() *Pattern {
	return e.pattern
}

// StripState is a UI-facing snapshot of one strip
type StripState struct {
	Playing   bool
	Column    int
	Group     int
	LoopStart int
	LoopEnd   int
	Reverse   bool
}

// Strips returns a snapshot of all strip states
func (e *Engine) Strips() []StripState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StripState, len(e.strips))
	for i, s := range e.strips {
		out[i] = StripState{
			Playing:   s.playing,
			Column:    s.column,
			Group:     s.group,
			LoopStart: s.loopStart,
			LoopEnd:   s.loopEnd,
			Reverse:   s.reverse,
		}
	}
	return out
}
