// Package model defines the persisted data of the wager bot.
package model

import (
	"slices"
	"strconv"
	"time"
)

// Account is a user's ledger record. Balance is never negative at rest.
type Account struct {
	ID               int64      `json:"id" db:"id"`
	Username         string     `json:"username" db:"username"`
	FirstName        string     `json:"first_name" db:"first_name"`
	Balance          int64      `json:"balance" db:"balance"`
	LastDailyClaim   *time.Time `json:"last_daily_claim,omitempty" db:"last_daily_claim"`
	LastWeeklyClaim  *time.Time `json:"last_weekly_claim,omitempty" db:"last_weekly_claim"`
	OwnedCosmetics   []string   `json:"owned_cosmetics" db:"owned_cosmetics"`
	SelectedCosmetic string     `json:"selected_cosmetic" db:"selected_cosmetic"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (a *Account) Clone() *Account {
	c := *a
	if a.LastDailyClaim != nil {
		t := *a.LastDailyClaim
		c.LastDailyClaim = &t
	}
	if a.LastWeeklyClaim != nil {
		t := *a.LastWeeklyClaim
		c.LastWeeklyClaim = &t
	}
	c.OwnedCosmetics = slices.Clone(a.OwnedCosmetics)
	return &c
}

// DisplayName returns the @username if known, the first name otherwise.
func (a *Account) DisplayName() string {
	if a.Username != "" {
		return "@" + a.Username
	}
	if a.FirstName != "" {
		return a.FirstName
	}
	return "player"
}

// OwnsCosmetic reports whether the account has bought the item.
func (a *Account) OwnsCosmetic(key string) bool {
	return slices.Contains(a.OwnedCosmetics, key)
}

// Transaction is one journal line describing a balance change.
type Transaction struct {
	ID          int64     `json:"id" db:"id"`
	AccountID   int64     `json:"account_id" db:"account_id"`
	Amount      int64     `json:"amount" db:"amount"`
	Type        string    `json:"type" db:"type"`
	Description *string   `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypeInitial      = "initial"       // Starting balance on account creation
	TxTypeDaily        = "daily"         // Daily bonus claim
	TxTypeWeekly       = "weekly"        // Weekly bonus claim
	TxTypeGift         = "gift"          // User-to-user transfer
	TxTypeMinesStake   = "mines_stake"   // Mines stake escrow
	TxTypeMinesPayout  = "mines_payout"  // Mines cash-out
	TxTypeMinesRefund  = "mines_refund"  // Mines cancel
	TxTypeDuelStake    = "duel_stake"    // Turn game stake escrow
	TxTypeDuelPayout   = "duel_payout"   // Turn game winner payout
	TxTypeDuelRefund   = "duel_refund"   // Turn game draw or cancel
	TxTypeHouseFee     = "house_fee"     // Fee retained by the house
	TxTypeAdminSet     = "admin_set"     // Admin set balance
	TxTypeAdminReset   = "admin_reset"   // Admin bulk reset
	TxTypeShopPurchase = "shop_purchase" // Cosmetic purchase
)

// SnapshotVersion is the current persisted document layout. Version 1 (or a
// document without a version) is the flat "users" map of the first bot.
const SnapshotVersion = 2

// Snapshot is the whole persisted ledger document.
type Snapshot struct {
	Version  int                 `json:"version"`
	Accounts map[string]*Account `json:"accounts"`
	Chats    []int64             `json:"chats"`

	// Users holds version 1 records until Migrate moves them into Accounts.
	Users map[string]*LegacyUser `json:"users,omitempty"`
}

// LegacyUser is a version 1 record. Claim times are naive ISO-8601 strings.
type LegacyUser struct {
	Username   string  `json:"username"`
	Balance    int64   `json:"balance"`
	LastDaily  *string `json:"last_daily"`
	LastWeekly *string `json:"last_weekly"`
}

// NewSnapshot returns an empty snapshot at the current version.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:  SnapshotVersion,
		Accounts: make(map[string]*Account),
		Chats:    []int64{},
	}
}

// Migrate upgrades an older document in place and fills fields the stored
// layout did not have.
func (s *Snapshot) Migrate(now time.Time) {
	if s.Accounts == nil {
		s.Accounts = make(map[string]*Account)
	}
	if s.Chats == nil {
		s.Chats = []int64{}
	}
	if s.Version < 2 {
		s.migrateV1(now)
	}
	for _, acc := range s.Accounts {
		if acc == nil {
			continue
		}
		if acc.OwnedCosmetics == nil {
			acc.OwnedCosmetics = []string{}
		}
		if acc.CreatedAt.IsZero() {
			acc.CreatedAt = now
		}
		if acc.UpdatedAt.IsZero() {
			acc.UpdatedAt = acc.CreatedAt
		}
		if acc.Balance < 0 {
			acc.Balance = 0
		}
	}
	if s.Version < SnapshotVersion {
		s.Version = SnapshotVersion
	}
}

// migrateV1 moves version 1 users into Accounts. An account already present
// under the same id wins.
func (s *Snapshot) migrateV1(now time.Time) {
	for key, u := range s.Users {
		if u == nil {
			continue
		}
		if _, ok := s.Accounts[key]; ok {
			continue
		}
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		s.Accounts[key] = &Account{
			ID:              id,
			Username:        u.Username,
			Balance:         u.Balance,
			LastDailyClaim:  legacyTime(u.LastDaily),
			LastWeeklyClaim: legacyTime(u.LastWeekly),
			OwnedCosmetics:  []string{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}
	s.Users = nil
}

// legacyTime parses a version 1 claim time, read as UTC. Unreadable values
// count as never claimed.
func legacyTime(v *string) *time.Time {
	if v == nil || *v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, *v, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
