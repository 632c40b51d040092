package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// levelRamp maps LED brightness 0..15 to an amber ramp, dark to bright
var levelRamp = [16][3]uint8{
	{24, 20, 12}, {40, 32, 16}, {56, 44, 20}, {72, 56, 24},
	{92, 70, 28}, {112, 84, 32}, {132, 98, 36}, {152, 112, 40},
	{172, 126, 44}, {192, 140, 48}, {208, 154, 56}, {222, 168, 68},
	{234, 184, 84}, {244, 200, 104}, {250, 216, 132}, {255, 232, 168},
}

// RenderPad renders a single LED cell at the given brightness (0..15)
func RenderPad(level int) string {
	if level < 0 {
		level = 0
	}
	if level > 15 {
		level = 15
	}
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(rgbToHex(levelRamp[level])))
	return style.Render("■")
}

// RenderLevelGrid renders the LED surface, row 0 at the top (matching the
// device orientation).
func RenderLevelGrid(grid [8][16]int) string {
	var lines []string
	for y := 0; y < 8; y++ {
		var line strings.Builder
		for x := 0; x < 16; x++ {
			if x > 0 {
				line.WriteString(" ")
			}
			line.WriteString(RenderPad(grid[y][x]))
		}
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// RenderLegendItem renders a single legend item: "■ Name - description"
func RenderLegendItem(level int, name, desc string) string {
	return fmt.Sprintf("  %s %s - %s", RenderPad(level), name, desc)
}

func rgbToHex(c [3]uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}
