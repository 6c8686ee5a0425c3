// Package config loads the process configuration from a YAML file with
// environment variable overrides, and serves per-room configuration to
// the registry. All wire durations are milliseconds; they are converted
// to time.Duration at the boundary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quizloop/quizloop/internal/game"
)

// Config is the full process configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	LogLevel    string `yaml:"log_level"`
	Maintenance bool   `yaml:"maintenance"`

	Postgres struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"postgres"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"nats"`

	Room roomYAML `yaml:"room"`

	Registry struct {
		EmptyRoomGraceMs  int64 `yaml:"empty_room_grace_ms"`
		ResultRetentionMs int64 `yaml:"result_retention_ms"`
		SweepIntervalMs   int64 `yaml:"sweep_interval_ms"`
	} `yaml:"registry"`

	// QuestionSets maps a set name to its ordered questions. A room whose
	// ID is "<set>:<suffix>" plays that set; everything else plays
	// DefaultSet.
	QuestionSets map[string][]questionYAML `yaml:"question_sets"`
	DefaultSet   string                    `yaml:"default_set"`
}

type roomYAML struct {
	MaxPlayers        int                   `yaml:"max_players"`
	CountdownMs       int64                 `yaml:"countdown_ms"`
	ReadMs            int64                 `yaml:"read_ms"`
	QuestionMs        int64                 `yaml:"question_ms"`
	ResultsMs         int64                 `yaml:"results_ms"`
	DisconnectGraceMs int64                 `yaml:"disconnect_grace_ms"`
	DifficultyPoints  map[string]pointsYAML `yaml:"difficulty_points"`
}

type pointsYAML struct {
	Correct int `yaml:"correct"`
	Wrong   int `yaml:"wrong"`
}

type questionYAML struct {
	ID            string   `yaml:"id"`
	Text          string   `yaml:"text"`
	Difficulty    string   `yaml:"difficulty"`
	Options       []string `yaml:"options"`
	CorrectOption int      `yaml:"correct_option"`
	DurationMs    int64    `yaml:"duration_ms"`
}

// Load reads the YAML config file (optional) and applies environment
// overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", defaultString(cfg.Server.Port, "8080"))
	cfg.LogLevel = getEnv("LOG_LEVEL", defaultString(cfg.LogLevel, "info"))
	cfg.Maintenance = getEnvAsBool("MAINTENANCE", cfg.Maintenance)
	cfg.NATS.URL = getEnv("NATS_URL", defaultString(cfg.NATS.URL, "nats://localhost:4222"))

	return &cfg, nil
}

// RoomConfig converts the wire representation into the validated domain
// config; missing fields fail closed to the domain defaults.
func (c *Config) RoomConfig() game.RoomConfig {
	points := make(map[game.Difficulty]game.PointValues, len(c.Room.DifficultyPoints))
	for name, v := range c.Room.DifficultyPoints {
		points[game.Difficulty(name)] = game.PointValues{Correct: v.Correct, Wrong: v.Wrong}
	}
	return game.RoomConfig{
		MaxPlayers:        c.Room.MaxPlayers,
		CountdownDuration: time.Duration(c.Room.CountdownMs) * time.Millisecond,
		ReadDuration:      time.Duration(c.Room.ReadMs) * time.Millisecond,
		QuestionDuration:  time.Duration(c.Room.QuestionMs) * time.Millisecond,
		ResultsDuration:   time.Duration(c.Room.ResultsMs) * time.Millisecond,
		DisconnectGrace:   time.Duration(c.Room.DisconnectGraceMs) * time.Millisecond,
		DifficultyPoints:  points,
	}.Normalize()
}

func (c *Config) questions(name string) []game.Question {
	raw, ok := c.QuestionSets[name]
	if !ok {
		return nil
	}
	questions := make([]game.Question, len(raw))
	for i, q := range raw {
		questions[i] = game.Question{
			ID:            q.ID,
			Text:          q.Text,
			Difficulty:    game.Difficulty(q.Difficulty),
			Options:       q.Options,
			CorrectOption: q.CorrectOption,
			Duration:      time.Duration(q.DurationMs) * time.Millisecond,
		}
	}
	return questions
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func defaultString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// Source serves room configuration and question sets to the registry. It
// implements room.ConfigSource and room.QuestionSource. The maintenance
// flag can be flipped at runtime by an operator endpoint.
type Source struct {
	cfg         *Config
	roomCfg     game.RoomConfig
	maintenance atomic.Bool
}

func NewSource(cfg *Config) *Source {
	s := &Source{cfg: cfg, roomCfg: cfg.RoomConfig()}
	s.maintenance.Store(cfg.Maintenance)
	return s
}

func (s *Source) RoomConfig(roomID string) game.RoomConfig {
	return s.roomCfg
}

func (s *Source) MaintenanceMode() bool {
	return s.maintenance.Load()
}

func (s *Source) SetMaintenance(on bool) {
	s.maintenance.Store(on)
}

// QuestionsForRoom picks the question set named by the roomID's
// "<set>:" prefix, falling back to the default set.
func (s *Source) QuestionsForRoom(roomID string) ([]game.Question, error) {
	name := s.cfg.DefaultSet
	if i := strings.IndexByte(roomID, ':'); i > 0 {
		if _, ok := s.cfg.QuestionSets[roomID[:i]]; ok {
			name = roomID[:i]
		}
	}
	questions := s.cfg.questions(name)
	if len(questions) == 0 {
		return nil, fmt.Errorf("no question set available for room %s", roomID)
	}
	return questions, nil
}
