package shop

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/ledger"
	"mines-wager-bot/internal/model"
)

// Shop errors.
var (
	ErrItemNotFound = errors.New("no such theme")
	ErrAlreadyOwned = errors.New("theme already owned")
	ErrNotOwned     = errors.New("theme not owned")
)

// Service buys and selects themes on ledger accounts.
type Service struct {
	ledger *ledger.Ledger
}

// NewService creates a Service backed by l.
func NewService(l *ledger.Ledger) *Service {
	return &Service{ledger: l}
}

// Owns reports whether acc may use the theme.
func Owns(acc *model.Account, key ItemKey) bool {
	it, ok := GetItem(key)
	if !ok {
		return false
	}
	return it.Free() || acc.OwnsCosmetic(string(key))
}

// Purchase debits the price and adds the theme to the account in one commit.
// A bought theme is selected straight away.
func (s *Service) Purchase(ctx context.Context, userID int64, key ItemKey) (*model.Account, Item, error) {
	item, ok := GetItem(key)
	if !ok {
		return nil, Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}

	acc, err := s.ledger.Mutate(ctx, userID, func(a *model.Account) (*model.Transaction, error) {
		if Owns(a, key) {
			return nil, ErrAlreadyOwned
		}
		if a.Balance < item.Price {
			return nil, &ledger.InsufficientFundsError{AccountID: userID, Balance: a.Balance, Required: item.Price}
		}
		a.Balance -= item.Price
		a.OwnedCosmetics = append(a.OwnedCosmetics, string(key))
		a.SelectedCosmetic = string(key)
		note := "theme " + string(key)
		return &model.Transaction{Amount: -item.Price, Type: model.TxTypeShopPurchase, Description: &note}, nil
	})
	if err != nil {
		return nil, Item{}, err
	}

	log.Info().
		Int64("user_id", userID).
		Str("item", string(key)).
		Int64("price", item.Price).
		Msg("Theme purchased")

	return acc, item, nil
}

// Select makes an owned theme the active one for new boards.
func (s *Service) Select(ctx context.Context, userID int64, key ItemKey) (*model.Account, error) {
	if _, ok := GetItem(key); !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}
	return s.ledger.Mutate(ctx, userID, func(a *model.Account) (*model.Transaction, error) {
		if !Owns(a, key) {
			return nil, ErrNotOwned
		}
		a.SelectedCosmetic = string(key)
		return nil, nil
	})
}

// Selected returns the active theme of an account.
func Selected(acc *model.Account) Item {
	if it, ok := GetItem(ItemKey(acc.SelectedCosmetic)); ok && Owns(acc, it.Key) {
		return it
	}
	return catalog[0]
}
