package domain

import "math"

// LevelForExperience maps accumulated experience points to a level.
// Each level requires progressively more experience.
func LevelForExperience(xp int) int {
	if xp <= 0 {
		return 1
	}
	return int(math.Sqrt(float64(xp)/50.0)) + 1
}
