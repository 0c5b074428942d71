// Package layout places grid tiles on a fixed-width virtual grid.
//
// The solver is a pure function: given an ordered set of tile ids it picks a
// uniform tile size from a small candidate set, scores each candidate by area
// usage, wasted cells, squareness, and total height, and fills rows left to
// right. Rerunning it on the same input always yields the same placement.
package layout

import "math"

// GridWidth is the total column count of the virtual grid.
const GridWidth = 24

// DefaultMaxRows is the row budget used when callers pass maxRows <= 0.
const DefaultMaxRows = 24

// candidateWidths are the tile widths considered by Compute. All of them
// divide GridWidth so rows pack without horizontal gaps.
var candidateWidths = [...]int{12, 8, 6, 4, 3, 2}

// Placement is one tile's position and size in grid units.
type Placement struct {
	TileID string `json:"tileId"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Compute returns a placement for every id in tileIDs. Input order decides
// left-to-right fill order within rows; the last, possibly partial, row is
// horizontally centered. If no candidate width keeps the grid within maxRows,
// the smallest width is used anyway so the caller always gets a full layout.
func Compute(tileIDs []string, maxRows int) []Placement {
	n := len(tileIDs)
	if n == 0 {
		return []Placement{}
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	bestWidth := candidateWidths[len(candidateWidths)-1]
	bestScore := math.Inf(-1)
	feasible := false

	for _, w := range candidateWidths {
		cols := GridWidth / w
		if cols < 1 {
			continue
		}
		rows := (n + cols - 1) / cols
		h := tileHeight(w)
		totalHeight := rows * h
		if totalHeight > maxRows {
			continue
		}
		feasible = true
		waste := cols*rows - n
		score := 0.5*float64(w*h) +
			0.25*(1/float64(waste+1)) +
			0.15*(1/float64(abs(cols-rows)+1)) +
			0.10*(1/float64(totalHeight+1))
		if score > bestScore {
			bestScore = score
			bestWidth = w
		}
	}

	// No width fits the budget: degrade gracefully by forcing the most
	// columns, which minimizes total height.
	if !feasible {
		bestWidth = candidateWidths[len(candidateWidths)-1]
	}

	return place(tileIDs, bestWidth)
}

// place fills rows left to right with uniform bestWidth tiles, centering the
// final row.
func place(tileIDs []string, w int) []Placement {
	n := len(tileIDs)
	cols := GridWidth / w
	h := tileHeight(w)

	out := make([]Placement, 0, n)
	for i := 0; i < n; i += cols {
		end := i + cols
		if end > n {
			end = n
		}
		count := end - i
		offset := (GridWidth - count*w) / 2
		for j := i; j < end; j++ {
			out = append(out, Placement{
				TileID: tileIDs[j],
				X:      offset + (j-i)*w,
				Y:      (i / cols) * h,
				Width:  w,
				Height: h,
			})
		}
	}
	return out
}

// tileHeight approximates a 16:9 tile in integer grid units, never below 2.
func tileHeight(w int) int {
	h := int(math.Round(float64(w) * 9 / 16))
	if h < 2 {
		h = 2
	}
	return h
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
