package identity

import "sync"

// BanList is the in-memory view of moderation decisions. Moderation feeds
// it asynchronously; bans affect future joins only, never players already
// in a room.
type BanList struct {
	mu     sync.RWMutex
	banned map[string]bool
}

func NewBanList() *BanList {
	return &BanList{banned: make(map[string]bool)}
}

// SetBanned records or lifts a ban for an account.
func (b *BanList) SetBanned(accountID string, banned bool) {
	if accountID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if banned {
		b.banned[accountID] = true
	} else {
		delete(b.banned, accountID)
	}
}

// IsBanned implements room.BanChecker.
func (b *BanList) IsBanned(accountID string) bool {
	if accountID == "" {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.banned[accountID]
}
