package layout

import (
	"fmt"
	"reflect"
	"testing"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("tile-%d", i)
	}
	return out
}

func TestCompute_empty(t *testing.T) {
	got := Compute(nil, DefaultMaxRows)
	if len(got) != 0 {
		t.Errorf("expected empty placement for no tiles, got %d", len(got))
	}
}

func TestCompute_deterministic(t *testing.T) {
	in := ids(7)
	a := Compute(in, DefaultMaxRows)
	b := Compute(in, DefaultMaxRows)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("two runs on the same input differ:\n%v\n%v", a, b)
	}
}

func TestCompute_coverage(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 4, 5, 9, 24, 25, 100} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			in := ids(n)
			got := Compute(in, DefaultMaxRows)
			if len(got) != n {
				t.Fatalf("expected %d placements, got %d", n, len(got))
			}
			seen := make(map[string]bool, n)
			for _, p := range got {
				if seen[p.TileID] {
					t.Errorf("duplicate placement for %s", p.TileID)
				}
				seen[p.TileID] = true
			}
			for _, id := range in {
				if !seen[id] {
					t.Errorf("missing placement for %s", id)
				}
			}
		})
	}
}

func TestCompute_singleTileUsesLargestWidth(t *testing.T) {
	got := Compute(ids(1), DefaultMaxRows)
	if got[0].Width != 12 {
		t.Errorf("single tile should get width 12, got %d", got[0].Width)
	}
	if got[0].Height < 2 {
		t.Errorf("tile height below minimum: %d", got[0].Height)
	}
}

func TestCompute_rowBudget(t *testing.T) {
	got := Compute(ids(4), DefaultMaxRows)
	maxBottom := 0
	for _, p := range got {
		if b := p.Y + p.Height; b > maxBottom {
			maxBottom = b
		}
	}
	if maxBottom > DefaultMaxRows {
		t.Errorf("layout for n=4 exceeds row budget: height %d", maxBottom)
	}
}

func TestCompute_overBudgetStillPlacesAll(t *testing.T) {
	// At 200 tiles even the smallest width blows the 24-row budget; the
	// solver must fall back to that width rather than fail.
	got := Compute(ids(200), DefaultMaxRows)
	if len(got) != 200 {
		t.Fatalf("expected 200 placements, got %d", len(got))
	}
	for _, p := range got {
		if p.Width != 2 {
			t.Fatalf("expected fallback width 2, got %d", p.Width)
		}
	}
}

func TestCompute_lastRowCentered(t *testing.T) {
	// Three tiles at width 12 would be two rows (2+1); whatever width wins,
	// a lone tile in the final row must be centered.
	got := Compute(ids(3), DefaultMaxRows)
	w := got[0].Width
	cols := GridWidth / w
	rem := 3 % cols
	if rem == 0 {
		t.Skip("chosen width fills rows exactly")
	}
	last := got[len(got)-1]
	wantX := (GridWidth - rem*w) / 2
	if last.X != wantX {
		t.Errorf("last row not centered: x=%d want %d (width %d)", last.X, wantX, w)
	}
}

func TestCompute_fillOrderFollowsInput(t *testing.T) {
	in := []string{"c", "a", "b"}
	got := Compute(in, DefaultMaxRows)
	// Placements come back in input order, top-left first.
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if cur.Y < prev.Y || (cur.Y == prev.Y && cur.X < prev.X) {
			t.Errorf("placement %d (%s) out of reading order", i, cur.TileID)
		}
	}
	if got[0].TileID != "c" {
		t.Errorf("first input id should fill first slot, got %s", got[0].TileID)
	}
}
