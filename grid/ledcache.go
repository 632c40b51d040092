package grid

import (
	"sync"

	"github.com/hypebeast/go-osc/osc"
)

// Grid dimensions for the supported controller surface.
const (
	GridWidth  = 16
	GridHeight = 8
)

// Brightness levels. Levels 0..3 render off on older devices, 15 is full.
const (
	LevelOff = 0
	LevelMax = 15
)

// levelUnknown marks a cell whose on-device state we cannot assume, forcing
// a resend on the next flush. Every cell starts unknown and reverts to it
// on reconnect.
const levelUnknown = -1

// Per 8x8 quad: a row with at least rowThreshold dirty cells is sent as a
// row op, and a quad with at least mapThreshold such rows is sent as a map.
const (
	rowThreshold = 3
	mapThreshold = 3
)

// LedFrameCache tracks the desired LED frame and the last frame actually
// sent, and emits only the difference. Writers set desired state from any
// goroutine; Flush runs on the network tick.
type LedFrameCache struct {
	mu      sync.Mutex
	desired [GridHeight][GridWidth]int8
	sent    [GridHeight][GridWidth]int8
}

// NewLedFrameCache creates a cache with every cell unknown
func NewLedFrameCache() *LedFrameCache {
	c := &LedFrameCache{}
	c.Invalidate()
	return c
}

// SetLevel sets the desired brightness (0..15) at x,y. Out-of-range
// coordinates and levels are clamped.
func (c *LedFrameCache) SetLevel(x, y, level int) {
	if x < 0 || x >= GridWidth || y < 0 || y >= GridHeight {
		return
	}
	if level < LevelOff {
		level = LevelOff
	}
	if level > LevelMax {
		level = LevelMax
	}
	c.mu.Lock()
	c.desired[y][x] = int8(level)
	c.mu.Unlock()
}

// SetOn switches a cell fully on or off
func (c *LedFrameCache) SetOn(x, y int, on bool) {
	if on {
		c.SetLevel(x, y, LevelMax)
	} else {
		c.SetLevel(x, y, LevelOff)
	}
}

// Clear sets the whole desired frame dark
func (c *LedFrameCache) Clear() {
	c.mu.Lock()
	for y := range c.desired {
		for x := range c.desired[y] {
			c.desired[y][x] = LevelOff
		}
	}
	c.mu.Unlock()
}

// Invalidate marks every cell unknown so the next flush resends the full
// frame. Called on every reconnect: the device may have been repainted by
// someone else while we were away.
func (c *LedFrameCache) Invalidate() {
	c.mu.Lock()
	for y := range c.sent {
		for x := range c.sent[y] {
			c.sent[y][x] = levelUnknown
		}
	}
	c.mu.Unlock()
}

// Snapshot returns the desired frame, for the monitor UI to mirror
func (c *LedFrameCache) Snapshot() [GridHeight][GridWidth]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [GridHeight][GridWidth]int
	for y := range c.desired {
		for x := range c.desired[y] {
			out[y][x] = int(c.desired[y][x])
		}
	}
	return out
}

// Flush sends every change since the last flush through send, under the
// given message prefix, and returns the number of messages emitted. The
// caller only invokes it while the link is up. Encoding per 8x8 quad:
// a full map when enough rows are dirty, row ops for dense rows, single
// cell sets for the rest.
func (c *LedFrameCache) Flush(prefix string, send func(*osc.Message) error) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := 0
	for _, xOff := range []int{0, 8} {
		msgs += c.flushQuadLocked(prefix, xOff, send)
	}
	return msgs
}

func (c *LedFrameCache) flushQuadLocked(prefix string, xOff int, send func(*osc.Message) error) int {
	var dirtyPerRow [8]int
	denseRows := 0
	for y := 0; y < 8; y++ {
		for x := xOff; x < xOff+8; x++ {
			if c.desired[y][x] != c.sent[y][x] {
				dirtyPerRow[y]++
			}
		}
		if dirtyPerRow[y] >= rowThreshold {
			denseRows++
		}
	}

	if denseRows >= mapThreshold {
		msg := osc.NewMessage(prefix + AddressLedLevelMap)
		msg.Append(int32(xOff), int32(0))
		for y := 0; y < 8; y++ {
			for x := xOff; x < xOff+8; x++ {
				msg.Append(int32(c.desired[y][x]))
			}
		}
		if send(msg) != nil {
			return 0
		}
		for y := 0; y < 8; y++ {
			for x := xOff; x < xOff+8; x++ {
				c.sent[y][x] = c.desired[y][x]
			}
		}
		return 1
	}

	msgs := 0
	for y := 0; y < 8; y++ {
		if dirtyPerRow[y] == 0 {
			continue
		}
		if dirtyPerRow[y] >= rowThreshold {
			msg := osc.NewMessage(prefix + AddressLedLevelRow)
			msg.Append(int32(xOff), int32(y))
			for x := xOff; x < xOff+8; x++ {
				msg.Append(int32(c.desired[y][x]))
			}
			if send(msg) != nil {
				continue
			}
			for x := xOff; x < xOff+8; x++ {
				c.sent[y][x] = c.desired[y][x]
			}
			msgs++
			continue
		}
		for x := xOff; x < xOff+8; x++ {
			if c.desired[y][x] == c.sent[y][x] {
				continue
			}
			msg := osc.NewMessage(prefix + AddressLedLevelSet)
			msg.Append(int32(x), int32(y), int32(c.desired[y][x]))
			if send(msg) != nil {
				continue
			}
			c.sent[y][x] = c.desired[y][x]
			msgs++
		}
	}
	return msgs
}
