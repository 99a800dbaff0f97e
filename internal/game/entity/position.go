// Package entity defines the core game domain types: maps, rooms, players,
// chests, and the per-room experience counter. Types here carry no storage
// or transport concerns; services mutate them under the owning room's lock.
package entity

import "math"

// Position is a point in map coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceTo returns the Euclidean distance to other.
func (p Position) DistanceTo(other Position) float64 {
	dx := other.X - p.X
	dy := other.Y - p.Y
	return math.Sqrt(dx*dx + dy*dy)
}
