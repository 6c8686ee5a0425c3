// Package fence enforces at most one live connection per account identity.
package fence

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quizloop/quizloop/internal/game"
)

// KickReasonSuperseded is sent to a connection displaced by a newer login.
const KickReasonSuperseded = "logged in elsewhere"

// KickFunc delivers a kick signal to a superseded connection. It is invoked
// outside the fence lock and must not call back into the fence.
type KickFunc func(reason string)

type entry struct {
	epoch uint64
	kick  KickFunc
}

// Fence is the process-wide accountID -> epoch mapping. Entries for
// different accounts are independent; a single mutex is enough since
// authorize is rare compared to validate.
type Fence struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Fence {
	return &Fence{entries: make(map[string]*entry)}
}

// Authorize registers a new connection for accountID and returns its epoch.
// If a previous connection held the fence, its kick func fires with
// KickReasonSuperseded before the new epoch is visible to Validate.
//
// Guests (empty accountID) are exempt: each guest connection gets epoch 1
// and no entry is stored, so concurrent guest connections never kick each
// other.
func (f *Fence) Authorize(accountID string, kick KickFunc) uint64 {
	if accountID == "" {
		return 1
	}

	f.mu.Lock()
	prev := f.entries[accountID]
	next := uint64(1)
	if prev != nil {
		next = prev.epoch + 1
	}
	f.entries[accountID] = &entry{epoch: next, kick: kick}
	f.mu.Unlock()

	if prev != nil && prev.kick != nil {
		log.Info().
			Str("account_id", accountID).
			Uint64("old_epoch", prev.epoch).
			Uint64("new_epoch", next).
			Msg("kicking superseded connection")
		prev.kick(KickReasonSuperseded)
	}
	return next
}

// Validate checks that epoch is still the authorized epoch for accountID.
// Superseded connections get game.ErrStaleSession until they re-authorize.
// Guest epochs always validate.
func (f *Fence) Validate(accountID string, epoch uint64) error {
	if accountID == "" {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cur, ok := f.entries[accountID]
	if !ok || cur.epoch != epoch {
		return game.ErrStaleSession
	}
	return nil
}

// Release drops the fence entry if epoch is still the live one. A stale
// release (the account already re-authorized elsewhere) is a no-op.
func (f *Fence) Release(accountID string, epoch uint64) {
	if accountID == "" {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, ok := f.entries[accountID]; ok && cur.epoch == epoch {
		delete(f.entries, accountID)
	}
}
