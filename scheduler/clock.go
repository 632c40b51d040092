package scheduler

import (
	"math"
	"sync"
)

// Clock is the musical time base shared by the trigger scheduler and the
// loop-change queue: it resolves the current beat (host ppq with internal
// fallback) and the quantization target for a request made now.
type Clock struct {
	host   HostTransport
	engine Engine

	mu       sync.Mutex
	enabled  bool
	division Division
}

// NewClock creates a clock over the host transport and engine timeline
func NewClock(host HostTransport, engine Engine, enabled bool, division Division) *Clock {
	return &Clock{host: host, engine: engine, enabled: enabled, division: division}
}

// SetQuantizeEnabled toggles quantization globally
func (c *Clock) SetQuantizeEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

// QuantizeEnabled reports the global quantization switch
func (c *Clock) QuantizeEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetDivision changes the grid resolution
func (c *Clock) SetDivision(d Division) {
	c.mu.Lock()
	c.division = d
	c.mu.Unlock()
}

// Division returns the current grid resolution
func (c *Clock) Division() Division {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.division
}

// Beat returns the current beat position: host ppq when available and
// finite, else the engine's internal timeline.
func (c *Clock) Beat() float64 {
	if ppq, ok := c.host.CurrentPpq(); ok && !math.IsNaN(ppq) && !math.IsInf(ppq, 0) {
		return ppq
	}
	return c.engine.TimelineBeat()
}

// Target computes where a request made now lands. quantized is false when
// any global bypass applies (quantization off, division <= 1, host clock
// unusable); the returned beat is then the current position.
func (c *Clock) Target() (beat float64, quantized bool) {
	c.mu.Lock()
	enabled, division := c.enabled, c.division
	c.mu.Unlock()

	if !enabled || division <= 1 {
		return c.Beat(), false
	}
	ppq, ok := c.host.CurrentPpq()
	if !ok || math.IsNaN(ppq) || math.IsInf(ppq, 0) {
		return c.engine.TimelineBeat(), false
	}
	return NextGridBeat(ppq, division.BeatsPerDivision()), true
}
