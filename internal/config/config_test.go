package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quizloop/quizloop/internal/game"
)

const sampleYAML = `
server:
  port: "9090"
log_level: debug
room:
  max_players: 8
  question_ms: 10000
  difficulty_points:
    easy:
      correct: 50
      wrong: -200
default_set: general
question_sets:
  general:
    - id: g1
      text: first?
      difficulty: easy
      options: [a, b, c]
      correct_option: 1
  sports:
    - id: s1
      text: second?
      difficulty: hard
      options: [x, y]
      correct_option: 0
      duration_ms: 20000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quizloop.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAndRoomConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Server.Port)
	}

	rc := cfg.RoomConfig()
	if rc.MaxPlayers != 8 {
		t.Errorf("max players = %d, want 8", rc.MaxPlayers)
	}
	if rc.QuestionDuration != 10*time.Second {
		t.Errorf("question duration = %v, want 10s", rc.QuestionDuration)
	}
	if got := rc.DifficultyPoints[game.DifficultyEasy]; got.Correct != 50 || got.Wrong != -200 {
		t.Errorf("easy points = %+v, want 50/-200", got)
	}
	// Missing fields fail closed to defaults.
	if rc.CountdownDuration != game.DefaultRoomConfig().CountdownDuration {
		t.Errorf("countdown = %v, want default", rc.CountdownDuration)
	}
	if _, ok := rc.DifficultyPoints[game.DifficultyHard]; !ok {
		t.Error("hard bucket missing, want default filled")
	}
}

func TestQuestionsForRoomPrefixSelection(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	src := NewSource(cfg)

	qs, err := src.QuestionsForRoom("friday-night")
	if err != nil {
		t.Fatalf("default set: %v", err)
	}
	if len(qs) != 1 || qs[0].ID != "g1" {
		t.Fatalf("default set questions = %+v, want g1", qs)
	}
	if qs[0].CorrectOption != 1 {
		t.Errorf("correct option = %d, want 1", qs[0].CorrectOption)
	}

	qs, err = src.QuestionsForRoom("sports:lobby-7")
	if err != nil {
		t.Fatalf("prefixed set: %v", err)
	}
	if len(qs) != 1 || qs[0].ID != "s1" {
		t.Fatalf("prefixed set questions = %+v, want s1", qs)
	}
	if qs[0].Duration != 20*time.Second {
		t.Errorf("per-question duration = %v, want 20s override", qs[0].Duration)
	}
}

func TestQuestionsForRoomMissingSet(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	src := NewSource(cfg)
	if _, err := src.QuestionsForRoom("anything"); err == nil {
		t.Fatal("expected error for missing question set")
	}
}

func TestMaintenanceToggle(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	src := NewSource(cfg)
	if src.MaintenanceMode() {
		t.Fatal("maintenance on by default")
	}
	src.SetMaintenance(true)
	if !src.MaintenanceMode() {
		t.Fatal("maintenance toggle had no effect")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("MAINTENANCE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("port = %q, want env override 7070", cfg.Server.Port)
	}
	if !cfg.Maintenance {
		t.Error("maintenance env override ignored")
	}
}
