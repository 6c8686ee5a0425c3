// Package persist flushes final room results to the document store and
// announces finished rooms on the message bus. The store itself is opaque
// behind ResultStore; gameplay never depends on it being reachable.
package persist

import "github.com/rs/zerolog/log"

// FinalResult is one player's final standing in a finished room.
type FinalResult struct {
	Rank        int    `json:"rank"`
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
}

// ResultStore is the narrow interface to the document store.
type ResultStore interface {
	PutResults(roomID string, results []FinalResult) error
}

// LogStore is the development fallback when no document store is
// configured: results are only logged.
type LogStore struct{}

func (LogStore) PutResults(roomID string, results []FinalResult) error {
	log.Info().Str("room_id", roomID).Int("players", len(results)).Msg("results (log-only store)")
	return nil
}

// ResultSink receives a best-effort announcement of a finished room, e.g.
// for downstream consumers on a message bus. Failures are logged, never
// retried past the flusher budget, and never block game progression.
type ResultSink interface {
	PublishFinished(roomID string, results []FinalResult) error
}
