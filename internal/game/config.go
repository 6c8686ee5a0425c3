package game

import "time"

// PointValues holds the scoring deltas for one difficulty bucket.
// Wrong is configured as a negative number.
type PointValues struct {
	Correct int
	Wrong   int
}

// RoomConfig is supplied by the configuration collaborator and validated
// once at room creation. Unknown or missing fields fail closed to the
// defaults below, never silently coerce.
type RoomConfig struct {
	MaxPlayers        int
	CountdownDuration time.Duration // ticks at one-second granularity, rounded up
	ReadDuration      time.Duration
	QuestionDuration  time.Duration
	ResultsDuration   time.Duration
	DisconnectGrace   time.Duration
	DifficultyPoints  map[Difficulty]PointValues
}

// DefaultRoomConfig returns the fallback configuration used when the
// configuration source omits a field.
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		MaxPlayers:        12,
		CountdownDuration: 3 * time.Second,
		QuestionDuration:  15 * time.Second,
		ResultsDuration:   5 * time.Second,
		DisconnectGrace:   30 * time.Second,
		DifficultyPoints: map[Difficulty]PointValues{
			DifficultyEasy:   {Correct: 50, Wrong: -25},
			DifficultyMedium: {Correct: 100, Wrong: -50},
			DifficultyHard:   {Correct: 200, Wrong: -100},
		},
	}
}

// Normalize fills zero-valued fields from the defaults and returns the
// validated config. The receiver is not mutated.
func (c RoomConfig) Normalize() RoomConfig {
	def := DefaultRoomConfig()
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = def.MaxPlayers
	}
	if c.CountdownDuration <= 0 {
		c.CountdownDuration = def.CountdownDuration
	}
	if c.ReadDuration < 0 {
		// No read grace by default: Question opens for answers on the
		// same tick unless the config asks for a reading window.
		c.ReadDuration = 0
	}
	if c.QuestionDuration <= 0 {
		c.QuestionDuration = def.QuestionDuration
	}
	if c.ResultsDuration <= 0 {
		c.ResultsDuration = def.ResultsDuration
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = def.DisconnectGrace
	}
	if len(c.DifficultyPoints) == 0 {
		c.DifficultyPoints = def.DifficultyPoints
	} else {
		// Fill any missing difficulty bucket from defaults so scoring
		// never looks up a missing entry.
		points := make(map[Difficulty]PointValues, len(def.DifficultyPoints))
		for d, v := range def.DifficultyPoints {
			points[d] = v
		}
		for d, v := range c.DifficultyPoints {
			points[d] = v
		}
		c.DifficultyPoints = points
	}
	return c
}
