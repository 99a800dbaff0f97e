package entity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func testMap() *GameMap {
	return NewGameMap("arena", 800, 600)
}

func TestIntegrateUpDecreasesYUntilClamped(t *testing.T) {
	m := testMap()
	p := NewPlayer("ana", 100, 5)
	p.X, p.Y = 400, 42
	p.SetInput(true, false, false, false)

	prev := p.Y
	for i := 0; i < 20; i++ {
		p.Integrate(m)
		if p.Y > 0 {
			assert.Less(t, p.Y, prev)
		}
		prev = p.Y
	}
	assert.Equal(t, 0.0, p.Y)

	// Further ticks stay clamped.
	p.Integrate(m)
	assert.Equal(t, 0.0, p.Y)
}

func TestIntegrateOpposingInputsCancel(t *testing.T) {
	m := testMap()
	p := NewPlayer("ana", 100, 5)
	p.X, p.Y = 100, 100

	p.SetInput(true, true, false, false)
	p.Integrate(m)
	assert.Equal(t, 100.0, p.Y)

	p.SetInput(false, false, true, true)
	wasFacingRight := p.FacingRight
	p.Integrate(m)
	assert.Equal(t, 100.0, p.X)
	assert.Equal(t, wasFacingRight, p.FacingRight, "left+right leaves facing unchanged")
}

func TestIntegrateDiagonalIsUncompensated(t *testing.T) {
	m := testMap()
	p := NewPlayer("ana", 100, 5)
	p.X, p.Y = 100, 100
	p.SetInput(true, false, false, true)

	p.Integrate(m)

	dist := math.Hypot(p.X-100, p.Y-100)
	assert.InDelta(t, 5*math.Sqrt2, dist, 1e-9)
}

func TestIntegrateUpdatesFacing(t *testing.T) {
	m := testMap()
	p := NewPlayer("ana", 100, 5)
	p.X, p.Y = 100, 100

	p.SetInput(false, false, true, false)
	p.Integrate(m)
	assert.False(t, p.FacingRight)
	assert.Equal(t, FacingLeft, p.Facing())

	p.SetInput(false, false, false, true)
	p.Integrate(m)
	assert.True(t, p.FacingRight)
	assert.Equal(t, FacingRight, p.Facing())
}

func TestIntegrateStaysInBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := testMap()
		p := NewPlayer("ana", 100, rapid.Float64Range(0.1, 50).Draw(t, "speed"))
		p.X = rapid.Float64Range(0, float64(m.Width)).Draw(t, "x")
		p.Y = rapid.Float64Range(0, float64(m.Height)).Draw(t, "y")

		ticks := rapid.IntRange(1, 200).Draw(t, "ticks")
		for i := 0; i < ticks; i++ {
			p.SetInput(
				rapid.Bool().Draw(t, "up"),
				rapid.Bool().Draw(t, "down"),
				rapid.Bool().Draw(t, "left"),
				rapid.Bool().Draw(t, "right"),
			)
			p.Integrate(m)
			if !m.WithinBounds(p.Position()) {
				t.Fatalf("position (%f, %f) escaped map bounds", p.X, p.Y)
			}
		}
	})
}

func TestApplyDamageClampsAtZero(t *testing.T) {
	p := NewPlayer("ana", 100, 5)

	p.ApplyDamage(60)
	assert.Equal(t, 40, p.Health)
	assert.True(t, p.Alive())

	p.ApplyDamage(999)
	assert.Equal(t, 0, p.Health)
	assert.False(t, p.Alive())

	// Damage against a dead player is a no-op.
	p.ApplyDamage(10)
	assert.Equal(t, 0, p.Health)

	p.Health = 50
	p.ApplyDamage(-5)
	assert.Equal(t, 50, p.Health)
}

func TestResetToDefaults(t *testing.T) {
	p := NewPlayer("ana", 100, 5)
	p.Ready = true
	p.Host = true
	p.X, p.Y = 250, 130
	p.Health = 7
	p.SetInput(true, false, true, false)

	p.ResetToDefaults()

	assert.False(t, p.Ready)
	assert.False(t, p.Host)
	assert.Equal(t, 100, p.Health)
	assert.Equal(t, 0.0, p.X)
	assert.Equal(t, 0.0, p.Y)
	assert.Equal(t, InputState{}, p.Input)
}
