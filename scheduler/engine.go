package scheduler

// HostTransport reads the host's musical clock. Ppq can jump, stall, or
// vanish; callers fall back to the engine's internal timeline when it does.
type HostTransport interface {
	// CurrentPpq returns the host beat position; ok is false when the host
	// provides no usable position.
	CurrentPpq() (ppq float64, ok bool)
	GlobalSampleCount() int64
	CurrentTempo() float64
}

// Engine is the playback collaborator the scheduler commands. All methods
// are memory operations safe to call from the audio path.
type Engine interface {
	NumStrips() int

	// TimelineBeat is the internally tracked beat counter, the fallback
	// when the host clock is unavailable.
	TimelineBeat() float64

	IsPlaying(strip int) bool
	HeldCount(strip int) int
	ScratchAmount(strip int) float64
	HasInnerLoop(strip int) bool

	GroupOf(strip int) int // -1 when the strip belongs to no mute group
	GroupMuted(group int) bool
	SetGroupMuted(group int, muted bool)
	GroupMembers(group int) []int

	TriggerAtSample(strip, column int, tempo float64, globalSample int64, hostBeat float64)
	Stop(strip int, immediate bool)

	SetLoop(strip, startColumn, endColumn int, reverse bool)
	ClearLoop(strip int)
	SnapToColumn(strip, column int)
	ResyncToSample(strip int, globalSample int64)
}

// PatternRecorder receives every trigger at the exact beat it was (or will
// be) heard, so recorded patterns replay in lock-step.
type PatternRecorder interface {
	RecordTrigger(beat float64, strip, column int)
}
