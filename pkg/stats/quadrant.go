package stats

import (
	"fmt"
	"strings"
)

// Quadrant is one of the four map quarters relative to the origin.
type Quadrant string

const (
	QuadrantNE Quadrant = "ne"
	QuadrantSE Quadrant = "se"
	QuadrantSW Quadrant = "sw"
	QuadrantNW Quadrant = "nw"
)

// QuadrantOf assigns a coordinate pair to exactly one quadrant.
// Axis tie-break: non-negative coordinates round toward north/east,
// so (0, 0) is NE, (0, -1) is SE and (-1, 0) is NW.
func QuadrantOf(x, y int) Quadrant {
	switch {
	case x >= 0 && y >= 0:
		return QuadrantNE
	case x >= 0:
		return QuadrantSE
	case y < 0:
		return QuadrantSW
	default:
		return QuadrantNW
	}
}

// ParseQuadrant parses a quadrant name, case-insensitively.
func ParseQuadrant(s string) (Quadrant, error) {
	switch q := Quadrant(strings.ToLower(s)); q {
	case QuadrantNE, QuadrantSE, QuadrantSW, QuadrantNW:
		return q, nil
	}
	return "", fmt.Errorf("unknown quadrant %q (want ne, se, sw or nw)", s)
}

// FilterByQuadrant keeps only the records whose coordinates fall in q.
func FilterByQuadrant(records []GrowthRecord, q Quadrant) []GrowthRecord {
	var out []GrowthRecord
	for _, r := range records {
		if QuadrantOf(r.X, r.Y) == q {
			out = append(out, r)
		}
	}
	return out
}
