// Package scheduler converts button activations into immediate or
// beat-quantized playback commands against the engine, with a per-strip
// trigger gate and a loop-change queue sharing the same grid math.
package scheduler

import "math"

// Division is the number of grid subdivisions per 4/4 bar
type Division int

// divisionValues are the legal subdivision counts
var divisionValues = []int{1, 2, 3, 4, 6, 8, 12, 16, 24, 32}

// ClampDivision snaps an arbitrary count to the nearest legal division
func ClampDivision(div int) Division {
	best := divisionValues[0]
	bestDist := math.Abs(float64(div - best))
	for _, d := range divisionValues[1:] {
		if dist := math.Abs(float64(div - d)); dist < bestDist {
			bestDist = dist
			best = d
		}
	}
	return Division(best)
}

// BeatsPerDivision returns the grid spacing in beats (quarter notes)
func (d Division) BeatsPerDivision() float64 {
	if d <= 1 {
		return 4
	}
	return 4 / float64(d)
}

// gridEpsilon is the slack when comparing beat positions. A press landing
// within it of a grid line counts as on the line and schedules the next one.
const gridEpsilon = 1e-6

// NextGridBeat returns the first grid multiple strictly after currentPpq.
// A position exactly on a grid line advances a full division: a press must
// never schedule "now" or in the past.
func NextGridBeat(currentPpq, beatsPerDivision float64) float64 {
	if beatsPerDivision <= 0 {
		return currentPpq
	}
	next := math.Ceil(currentPpq/beatsPerDivision) * beatsPerDivision
	// Re-snap to kill float drift from the division.
	next = math.Round(next/beatsPerDivision) * beatsPerDivision
	if next <= currentPpq+gridEpsilon {
		next += beatsPerDivision
	}
	return next
}
