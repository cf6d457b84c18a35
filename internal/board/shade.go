package board

import (
	"fmt"
	"math"
)

// Shade tints a column colour for the cell in the given row by appending a
// two-digit hex alpha. Opacity starts at 0.05 and grows 0.03 per row,
// saturating at fully opaque.
func Shade(color string, rowIndex int) string {
	if rowIndex < 0 {
		rowIndex = 0
	}
	opacity := math.Min(1, 0.05+float64(rowIndex)*0.03)
	return fmt.Sprintf("%s%02x", color, int(math.Round(opacity*255)))
}
