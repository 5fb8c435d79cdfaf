package counting

import "fmt"

// Policy selects how a track's position is turned into a crossing decision.
type Policy int

const (
	// PositionPolicy counts a track the first time it is seen below the line.
	PositionPolicy Policy = iota
	// DirectionPolicy counts a track only when it moves from at-or-above the
	// line to below it between two observations.
	DirectionPolicy
)

func (p Policy) String() string {
	if p == DirectionPolicy {
		return "direction"
	}
	return "position"
}

// ParsePolicy maps a configuration value onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "position":
		return PositionPolicy, nil
	case "direction":
		return DirectionPolicy, nil
	}
	return PositionPolicy, fmt.Errorf("unknown crossing policy %q", s)
}

// HasCrossed decides whether a track at currentY is past boundaryY. hasPrev
// reports whether previousY holds an earlier observation of the same track.
// Image coordinates grow downward, so "past" means a larger y.
func HasCrossed(policy Policy, previousY float64, hasPrev bool, currentY, boundaryY float64) bool {
	if policy == DirectionPolicy {
		return hasPrev && previousY <= boundaryY && currentY > boundaryY
	}
	return currentY > boundaryY
}
