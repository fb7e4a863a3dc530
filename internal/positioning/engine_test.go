package positioning

import (
	"math"
	"testing"
)

var vp = Viewport{Width: 1920, Height: 1080}

func TestInitialPlacementTopTier(t *testing.T) {
	p := InitialPlacement(Signals{Viewport: vp, TopTier: true, Reason: "frustration"})
	if p.X != 1920-EdgeInset || p.Y != EdgeInset {
		t.Fatalf("expected top-right placement, got %+v", p)
	}
}

func TestInitialPlacementFrustration(t *testing.T) {
	p := InitialPlacement(Signals{Viewport: vp, Reason: "frustration"})
	if p.X != 1920-EdgeInset || p.Y != 1080-EdgeInset {
		t.Fatalf("expected bottom-right placement, got %+v", p)
	}
}

func TestInitialPlacementDefault(t *testing.T) {
	p := InitialPlacement(Signals{Viewport: vp, Reason: "keyword"})
	if p.X != 1920-EdgeInset || p.Y != 540 {
		t.Fatalf("expected right-edge vertical center, got %+v", p)
	}
}

func TestInitialPlacementNeverCenter(t *testing.T) {
	// A 100px-wide viewport makes the default right-edge placement collide
	// with the horizontal center.
	small := Viewport{Width: 100, Height: 100}
	p := InitialPlacement(Signals{Viewport: small, Reason: "keyword"})
	if p.X == small.Width/2 && p.Y == small.Height/2 {
		t.Fatalf("placement landed on reserved viewport center: %+v", p)
	}
}

func TestAdjustZeroBeyondThreshold(t *testing.T) {
	rect := Rect{X: 1000, Y: 500, Width: 100, Height: 100}
	// Center is (1050, 550); place cursor exactly threshold away.
	d := Adjust(rect, Point{X: 1050 - 120, Y: 550}, 120)
	if d.DX != 0 || d.DY != 0 {
		t.Fatalf("expected zero delta at threshold distance, got %+v", d)
	}

	d = Adjust(rect, Point{X: 0, Y: 0}, 120)
	if d.DX != 0 || d.DY != 0 {
		t.Fatalf("expected zero delta far away, got %+v", d)
	}
}

func TestAdjustPushesAwayFromCursor(t *testing.T) {
	rect := Rect{X: 1000, Y: 500, Width: 100, Height: 100}
	// Cursor 50px left of center: push must be strictly rightward.
	d := Adjust(rect, Point{X: 1000, Y: 550}, 120)
	if d.DX <= 0 {
		t.Fatalf("expected rightward push, got %+v", d)
	}
	if d.DY != 0 {
		t.Fatalf("expected no vertical push for horizontal approach, got %+v", d)
	}

	// Magnitude is (threshold - distance) / 2.
	want := (120.0 - 50.0) / 2
	if math.Abs(d.DX-want) > 1e-9 {
		t.Fatalf("expected magnitude %v, got %v", want, d.DX)
	}
}

func TestAdjustMagnitudeDecreasesTowardThreshold(t *testing.T) {
	rect := Rect{X: 0, Y: 0, Width: 100, Height: 100}
	center := rect.Center()

	prev := math.Inf(1)
	for _, dist := range []float64{10, 40, 70, 100, 119} {
		d := Adjust(rect, Point{X: center.X - dist, Y: center.Y}, 120)
		mag := math.Hypot(d.DX, d.DY)
		if mag == 0 {
			t.Fatalf("expected nonzero delta at distance %v", dist)
		}
		if mag >= prev {
			t.Fatalf("expected magnitude to decrease, got %v then %v at distance %v", prev, mag, dist)
		}
		prev = mag
	}
}

func TestAdjustCursorOnCenter(t *testing.T) {
	rect := Rect{X: 0, Y: 0, Width: 100, Height: 100}
	d := Adjust(rect, rect.Center(), 120)
	if d.DX == 0 && d.DY == 0 {
		t.Fatal("expected nonzero delta when cursor sits on center")
	}
}

func TestAdjustIsPure(t *testing.T) {
	rect := Rect{X: 10, Y: 20, Width: 30, Height: 40}
	cursor := Point{X: 15, Y: 25}
	first := Adjust(rect, cursor, 80)
	for i := 0; i < 5; i++ {
		if got := Adjust(rect, cursor, 80); got != first {
			t.Fatalf("expected identical delta on repeat call, got %+v vs %+v", got, first)
		}
	}
}
