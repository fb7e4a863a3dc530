// Package positioning computes attention-aware placement for the elevated
// session surface: an initial placement derived from escalation context, and
// continuous repulsion deltas that keep the surface clear of the pointer
// without jumping.
package positioning

import "math"

// EdgeInset is the fixed margin, in pixels, between edge placements and the
// viewport boundary.
const EdgeInset = 50

// DefaultAttentionThreshold is the pointer distance, in pixels, below which
// the surface starts yielding space.
const DefaultAttentionThreshold = 120

// Point is a position in viewport coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Delta is a position adjustment.
type Delta struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Rect is the surface's current bounding box.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the center point of the rect.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Viewport is the visible area the surface is placed within.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Signals carries the context that drives initial placement.
type Signals struct {
	Viewport Viewport
	// TopTier marks users on the top service tier.
	TopTier bool
	// Reason is the escalation reason reported by the evaluator.
	Reason string
}

// InitialPlacement picks where the elevated surface first appears.
//
// Placement ladder, first match wins:
//  1. top-tier user: near the top-right corner, EdgeInset from both edges
//  2. frustration-driven escalation: near the bottom-right corner
//  3. otherwise: vertically centered on the right edge
//
// The viewport center is reserved for the baseline surface; if a degenerate
// viewport would land a placement there, the point is nudged toward the
// right edge.
func InitialPlacement(sig Signals) Point {
	vp := sig.Viewport

	var p Point
	switch {
	case sig.TopTier:
		p = Point{X: vp.Width - EdgeInset, Y: EdgeInset}
	case isFrustration(sig.Reason):
		p = Point{X: vp.Width - EdgeInset, Y: vp.Height - EdgeInset}
	default:
		p = Point{X: vp.Width - EdgeInset, Y: vp.Height / 2}
	}

	// Keep off the reserved center.
	if p.X == vp.Width/2 && p.Y == vp.Height/2 {
		p.X = vp.Width - EdgeInset/2
	}
	return p
}

func isFrustration(reason string) bool {
	return reason == "frustration"
}

// Adjust computes the repulsion delta for the surface given the pointer
// position. Zero when the pointer is at least threshold away from the
// surface center. Inside the threshold the surface is pushed directly away
// from the pointer, scaled by (threshold - distance) / 2, so the push fades
// to nothing at the threshold boundary.
//
// Adjust is pure: equal inputs always produce equal deltas.
func Adjust(rect Rect, cursor Point, threshold float64) Delta {
	center := rect.Center()
	dx := center.X - cursor.X
	dy := center.Y - cursor.Y
	dist := math.Hypot(dx, dy)

	if dist >= threshold {
		return Delta{}
	}

	scale := (threshold - dist) / 2
	if dist == 0 {
		// Pointer exactly on center: no meaningful direction, push right.
		return Delta{DX: scale}
	}
	return Delta{DX: dx / dist * scale, DY: dy / dist * scale}
}
