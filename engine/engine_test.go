package engine

import (
	"math"
	"testing"
)

func TestAdvance_TracksBeatAndSamples(t *testing.T) {
	e := New(Options{SampleRate: 44100, BlockSize: 441, Tempo: 120, Strips: 4})

	// 120 bpm at 44100 Hz: one beat is 22050 samples, so 50 blocks of 441.
	for i := 0; i < 50; i++ {
		e.Advance()
	}
	if got := e.GlobalSampleCount(); got != 22050 {
		t.Fatalf("expected 22050 samples, got %d", got)
	}
	if beat := e.TimelineBeat(); math.Abs(beat-1.0) > 1e-9 {
		t.Fatalf("expected beat 1.0, got %v", beat)
	}
	if ppq, ok := e.CurrentPpq(); !ok || math.Abs(ppq-1.0) > 1e-9 {
		t.Fatalf("internal clock should double as the host clock, got %v, %v", ppq, ok)
	}
}

func TestNew_GroupAssignment(t *testing.T) {
	// nil groups: everything in group 0.
	e := New(Options{Strips: 3})
	for i := 0; i < 3; i++ {
		if e.GroupOf(i) != 0 {
			t.Fatalf("strip %d: expected group 0, got %d", i, e.GroupOf(i))
		}
	}

	// Explicit groups; strips past the slice get none.
	e = New(Options{Strips: 4, Groups: []int{0, 0, 1}})
	if e.GroupOf(0) != 0 || e.GroupOf(2) != 1 {
		t.Fatalf("explicit groups not applied")
	}
	if e.GroupOf(3) != -1 {
		t.Fatalf("unlisted strip should have no group, got %d", e.GroupOf(3))
	}
	members := e.GroupMembers(0)
	if len(members) != 2 || members[0] != 0 || members[1] != 1 {
		t.Fatalf("unexpected group 0 members %v", members)
	}
}

func TestTrigger_ClampsIntoLoopRegion(t *testing.T) {
	e := New(Options{Strips: 2})
	e.SetLoop(0, 4, 8, false)

	e.TriggerAtSample(0, 12, 120, 0, 0)
	if col := e.PlayingColumn(0); col != 7 {
		t.Fatalf("column past the loop end should clamp to 7, got %d", col)
	}
	e.TriggerAtSample(0, 1, 120, 0, 0)
	if col := e.PlayingColumn(0); col != 4 {
		t.Fatalf("column before the loop start should clamp to 4, got %d", col)
	}
	if !e.IsPlaying(0) {
		t.Fatalf("trigger should start playback")
	}

	e.Stop(0, true)
	if e.IsPlaying(0) {
		t.Fatalf("stop should halt playback")
	}
}

func TestLoopLifecycle(t *testing.T) {
	e := New(Options{Strips: 1})
	if e.HasInnerLoop(0) {
		t.Fatalf("full range is not an inner loop")
	}

	e.SetLoop(0, 2, 6, true)
	if !e.HasInnerLoop(0) {
		t.Fatalf("narrowed region should count as an inner loop")
	}
	start, end, rev := e.Loop(0)
	if start != 2 || end != 6 || !rev {
		t.Fatalf("unexpected loop state %d %d %v", start, end, rev)
	}

	// Degenerate regions are rejected.
	e.SetLoop(0, 5, 5, false)
	if start, end, _ = e.Loop(0); start != 2 || end != 6 {
		t.Fatalf("empty region should be rejected, got [%d,%d)", start, end)
	}

	e.ClearLoop(0)
	if e.HasInnerLoop(0) {
		t.Fatalf("clear should restore the full range")
	}
	if _, _, rev = e.Loop(0); rev {
		t.Fatalf("clear should reset direction")
	}
}

func TestHeldCountNeverNegative(t *testing.T) {
	e := New(Options{Strips: 1})
	e.KeyUp(0)
	if e.HeldCount(0) != 0 {
		t.Fatalf("release without press went negative")
	}
	e.KeyDown(0)
	e.KeyDown(0)
	e.KeyUp(0)
	if e.HeldCount(0) != 1 {
		t.Fatalf("expected held count 1, got %d", e.HeldCount(0))
	}
}

func TestSetTempo_Clamps(t *testing.T) {
	e := New(Options{})
	e.SetTempo(5)
	if e.CurrentTempo() != 20 {
		t.Fatalf("tempo floor not applied, got %v", e.CurrentTempo())
	}
	e.SetTempo(1000)
	if e.CurrentTempo() != 300 {
		t.Fatalf("tempo ceiling not applied, got %v", e.CurrentTempo())
	}
}

func TestOutOfRangeStripsIgnored(t *testing.T) {
	e := New(Options{Strips: 2})
	e.TriggerAtSample(5, 0, 120, 0, 0)
	e.KeyDown(-1)
	e.SetLoop(9, 0, 4, false)
	if e.IsPlaying(5) || e.HeldCount(-1) != 0 {
		t.Fatalf("out-of-range strip mutated state")
	}
	if e.GroupOf(5) != -1 {
		t.Fatalf("out-of-range strip should report no group")
	}
}
