package entity

import (
	"math/rand"

	"github.com/google/uuid"
)

// GameMap is the playable area owned by a single room. All positions that
// reference the map satisfy 0 <= x <= Width and 0 <= y <= Height.
type GameMap struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// NewGameMap creates a map with a fresh ID.
//
// Precondition: width and height must be positive.
func NewGameMap(name string, width, height int) *GameMap {
	return &GameMap{
		ID:     uuid.NewString(),
		Name:   name,
		Width:  width,
		Height: height,
	}
}

// Size is the logical scale of the map: max(width, height).
func (m *GameMap) Size() int {
	if m.Width > m.Height {
		return m.Width
	}
	return m.Height
}

// Center returns the map's central position.
func (m *GameMap) Center() Position {
	return Position{X: float64(m.Width) / 2, Y: float64(m.Height) / 2}
}

// WithinBounds reports whether pos lies inside the map.
func (m *GameMap) WithinBounds(pos Position) bool {
	return pos.X >= 0 && pos.X <= float64(m.Width) &&
		pos.Y >= 0 && pos.Y <= float64(m.Height)
}

// Clamp returns pos with each axis independently clamped to the map bounds.
func (m *GameMap) Clamp(pos Position) Position {
	if pos.X < 0 {
		pos.X = 0
	} else if pos.X > float64(m.Width) {
		pos.X = float64(m.Width)
	}
	if pos.Y < 0 {
		pos.Y = 0
	} else if pos.Y > float64(m.Height) {
		pos.Y = float64(m.Height)
	}
	return pos
}

// RandomPosition returns a uniformly random in-bounds position.
//
// Precondition: rng must be non-nil.
func (m *GameMap) RandomPosition(rng *rand.Rand) Position {
	return Position{
		X: rng.Float64() * float64(m.Width),
		Y: rng.Float64() * float64(m.Height),
	}
}

// RandomEdgePosition returns a random position on one of the four map edges.
// Used as the spawn fallback when no interior position is acceptable.
//
// Precondition: rng must be non-nil.
func (m *GameMap) RandomEdgePosition(rng *rand.Rand) Position {
	switch rng.Intn(4) {
	case 0: // top
		return Position{X: rng.Float64() * float64(m.Width), Y: 0}
	case 1: // bottom
		return Position{X: rng.Float64() * float64(m.Width), Y: float64(m.Height)}
	case 2: // left
		return Position{X: 0, Y: rng.Float64() * float64(m.Height)}
	default: // right
		return Position{X: float64(m.Width), Y: rng.Float64() * float64(m.Height)}
	}
}
