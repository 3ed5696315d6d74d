package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/pkg/lock"
)

// Ledger errors.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSelfTransfer      = errors.New("cannot transfer to yourself")
	ErrCooldownActive    = errors.New("bonus cooldown active")
	// ErrPersistence means the store rejected a commit. In-memory state is unchanged.
	ErrPersistence = errors.New("ledger persistence failed")
	// ErrBusy means an account stayed locked past the lock timeout. Nothing changed.
	ErrBusy = errors.New("account busy")
)

// busy tags a lock timeout with ErrBusy and the accounts involved.
func busy(err error, ids ...int64) error {
	if errors.Is(err, lock.ErrLockTimeout) {
		log.Warn().Ints64("account_ids", ids).Msg("Account lock timed out")
		return fmt.Errorf("%w: accounts %v: %w", ErrBusy, ids, err)
	}
	return err
}

// CooldownError reports when a bonus becomes claimable again.
type CooldownError struct {
	Bonus          string
	NextEligibleAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s bonus available at %s", e.Bonus, e.NextEligibleAt.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrCooldownActive) match.
func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// InsufficientFundsError names the account that could not cover a debit.
type InsufficientFundsError struct {
	AccountID int64
	Balance   int64
	Required  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %d has %d, needs %d", e.AccountID, e.Balance, e.Required)
}

// Is makes errors.Is(err, ErrInsufficientFunds) match.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
