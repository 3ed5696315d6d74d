// Package ledger owns every account balance. All balance changes go through
// here: each mutation holds the affected accounts' locks, works on copies,
// commits them to the Store and only then publishes the copies in memory.
package ledger

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/metrics"
	"mines-wager-bot/internal/model"
	"mines-wager-bot/internal/pkg/lock"
)

// Store persists ledger state.
type Store interface {
	Load(ctx context.Context) (*model.Snapshot, error)
	// Commit writes all accounts and journal lines or none of them.
	Commit(ctx context.Context, accounts []*model.Account, journal []model.Transaction) error
	AddChat(ctx context.Context, chatID int64) error
	History(ctx context.Context, accountID int64, limit int) ([]model.Transaction, error)
}

// Config holds ledger amounts and cooldowns.
type Config struct {
	StartingBalance int64
	HouseID         int64
	HouseBalance    int64
	DailyAmount     int64
	DailyCooldown   time.Duration
	WeeklyAmount    int64
	WeeklyCooldown  time.Duration
	// LockTimeout bounds the wait for a busy account. Zero waits without limit.
	LockTimeout time.Duration
}

// Entry is one side of a multi-account debit or credit. Amount is positive.
type Entry struct {
	AccountID int64
	Amount    int64
	Type      string
	Note      string
}

// Ledger is safe for concurrent use.
type Ledger struct {
	store Store
	cfg   Config
	locks *lock.UserLock
	now   func() time.Time

	mu       sync.RWMutex
	accounts map[int64]*model.Account
	chats    []int64
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New loads the ledger from store and makes sure the house account exists.
func New(ctx context.Context, store Store, cfg Config, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:    store,
		cfg:      cfg,
		locks:    lock.NewUserLock(),
		now:      time.Now,
		accounts: make(map[int64]*model.Account),
	}
	for _, opt := range opts {
		opt(l)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	for key, acc := range snap.Accounts {
		if acc == nil {
			continue
		}
		if acc.ID == 0 {
			if id, err := strconv.ParseInt(key, 10, 64); err == nil {
				acc.ID = id
			}
		}
		l.accounts[acc.ID] = acc
	}
	l.chats = slices.Clone(snap.Chats)

	if _, ok := l.accounts[cfg.HouseID]; !ok {
		if _, _, err := l.create(ctx, cfg.HouseID, "house", "House", cfg.HouseBalance); err != nil {
			return nil, fmt.Errorf("failed to create house account: %w", err)
		}
	}

	log.Info().
		Int("accounts", len(l.accounts)).
		Int("chats", len(l.chats)).
		Msg("Ledger loaded")

	return l, nil
}

// RoundCredits converts a fractional amount to credits, rounding half away from zero.
func RoundCredits(v float64) int64 {
	return int64(math.Round(v))
}

// HouseID returns the house account id.
func (l *Ledger) HouseID() int64 {
	return l.cfg.HouseID
}

// EnsureAccount returns the account, creating it with the starting balance on
// first sight. Changed names are updated.
func (l *Ledger) EnsureAccount(ctx context.Context, id int64, username, firstName string) (*model.Account, bool, error) {
	if acc := l.lookup(id); acc != nil {
		if (username == "" && firstName == "") ||
			(acc.Username == username && acc.FirstName == firstName) {
			return acc.Clone(), false, nil
		}
		updated, err := l.Mutate(ctx, id, func(a *model.Account) (*model.Transaction, error) {
			if username != "" {
				a.Username = username
			}
			if firstName != "" {
				a.FirstName = firstName
			}
			return nil, nil
		})
		return updated, false, err
	}
	return l.create(ctx, id, username, firstName, l.cfg.StartingBalance)
}

func (l *Ledger) create(ctx context.Context, id int64, username, firstName string, balance int64) (*model.Account, bool, error) {
	var (
		acc     *model.Account
		created bool
	)
	err := l.locks.WithLockContext(ctx, id, l.cfg.LockTimeout, func() error {
		if existing := l.lookup(id); existing != nil {
			acc = existing.Clone()
			return nil
		}
		var err error
		acc, err = l.insert(ctx, id, username, firstName, balance)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, busy(err, id)
	}
	return acc, created, nil
}

// insert commits a new account. The caller holds the account's lock.
func (l *Ledger) insert(ctx context.Context, id int64, username, firstName string, balance int64) (*model.Account, error) {
	now := l.now()
	acc := &model.Account{
		ID:             id,
		Username:       username,
		FirstName:      firstName,
		Balance:        balance,
		OwnedCosmetics: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	journal := []model.Transaction{{AccountID: id, Amount: balance, Type: model.TxTypeInitial, CreatedAt: now}}

	if err := l.commit(ctx, []*model.Account{acc}, journal); err != nil {
		return nil, err
	}
	l.publish(acc)

	log.Info().Int64("account_id", id).Str("username", username).Msg("Account created")
	return acc.Clone(), nil
}

// Get returns a copy of the account.
func (l *Ledger) Get(id int64) (*model.Account, error) {
	acc := l.lookup(id)
	if acc == nil {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
	}
	return acc.Clone(), nil
}

// GetBalance returns the current balance.
func (l *Ledger) GetBalance(ctx context.Context, id int64) (int64, error) {
	acc := l.lookup(id)
	if acc == nil {
		return 0, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
	}
	return acc.Balance, nil
}

// Debit subtracts amount, failing with ErrInsufficientFunds if it does not fit.
func (l *Ledger) Debit(ctx context.Context, id, amount int64, txType string) (*model.Account, error) {
	accs, err := l.DebitMany(ctx, Entry{AccountID: id, Amount: amount, Type: txType})
	if err != nil {
		return nil, err
	}
	return accs[id], nil
}

// Credit adds amount.
func (l *Ledger) Credit(ctx context.Context, id, amount int64, txType string) (*model.Account, error) {
	accs, err := l.CreditMany(ctx, Entry{AccountID: id, Amount: amount, Type: txType})
	if err != nil {
		return nil, err
	}
	return accs[id], nil
}

// DebitMany applies every debit or none. Amounts must be positive.
func (l *Ledger) DebitMany(ctx context.Context, entries ...Entry) (map[int64]*model.Account, error) {
	return l.Post(ctx, entries, nil)
}

// CreditMany applies every credit or none. Zero amounts are skipped.
func (l *Ledger) CreditMany(ctx context.Context, entries ...Entry) (map[int64]*model.Account, error) {
	return l.Post(ctx, nil, entries)
}

// Post applies debits and then credits in a single commit. Debit amounts must
// be positive; zero credits are skipped. If any debit does not fit nothing changes.
func (l *Ledger) Post(ctx context.Context, debits, credits []Entry) (map[int64]*model.Account, error) {
	for _, e := range debits {
		if e.Amount <= 0 {
			return nil, fmt.Errorf("%w: debit of %d", ErrInvalidAmount, e.Amount)
		}
	}
	kept := credits[:0:0]
	for _, e := range credits {
		if e.Amount < 0 {
			return nil, fmt.Errorf("%w: credit of %d", ErrInvalidAmount, e.Amount)
		}
		if e.Amount > 0 {
			kept = append(kept, e)
		}
	}

	if len(debits) == 0 && len(kept) == 0 {
		out := make(map[int64]*model.Account, len(credits))
		for _, e := range credits {
			acc, err := l.Get(e.AccountID)
			if err != nil {
				return nil, err
			}
			out[e.AccountID] = acc
		}
		return out, nil
	}

	ids := make([]int64, 0, len(debits)+len(kept))
	for _, e := range debits {
		ids = append(ids, e.AccountID)
	}
	for _, e := range kept {
		ids = append(ids, e.AccountID)
	}

	return l.mutateMany(ctx, ids, func(accs map[int64]*model.Account) ([]model.Transaction, error) {
		journal := make([]model.Transaction, 0, len(ids))
		for _, e := range debits {
			acc := accs[e.AccountID]
			if acc.Balance < e.Amount {
				return nil, &InsufficientFundsError{AccountID: acc.ID, Balance: acc.Balance, Required: e.Amount}
			}
			acc.Balance -= e.Amount
			journal = append(journal, journalLine(acc.ID, -e.Amount, e.Type, e.Note))
		}
		for _, e := range kept {
			acc := accs[e.AccountID]
			acc.Balance += e.Amount
			journal = append(journal, journalLine(acc.ID, e.Amount, e.Type, e.Note))
		}
		return journal, nil
	})
}

// Transfer moves credits between two accounts. The sender is checked first;
// if it cannot pay nothing changes.
func (l *Ledger) Transfer(ctx context.Context, from, to, amount int64) (sender, recipient *model.Account, err error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if from == to {
		return nil, nil, ErrSelfTransfer
	}

	accs, err := l.mutateMany(ctx, []int64{from, to}, func(accs map[int64]*model.Account) ([]model.Transaction, error) {
		s, r := accs[from], accs[to]
		if s.Balance < amount {
			return nil, &InsufficientFundsError{AccountID: from, Balance: s.Balance, Required: amount}
		}
		s.Balance -= amount
		r.Balance += amount
		return []model.Transaction{
			journalLine(from, -amount, model.TxTypeGift, "to "+strconv.FormatInt(to, 10)),
			journalLine(to, amount, model.TxTypeGift, "from "+strconv.FormatInt(from, 10)),
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Int64("from_id", from).
		Int64("to_id", to).
		Int64("amount", amount).
		Msg("Transfer completed")

	return accs[from], accs[to], nil
}

// Mutate runs fn on a copy of one account and commits the result. fn may
// return a journal line. A negative resulting balance fails with ErrInsufficientFunds.
func (l *Ledger) Mutate(ctx context.Context, id int64, fn func(acc *model.Account) (*model.Transaction, error)) (*model.Account, error) {
	accs, err := l.mutateMany(ctx, []int64{id}, func(accs map[int64]*model.Account) ([]model.Transaction, error) {
		acc := accs[id]
		before := acc.Balance
		tx, err := fn(acc)
		if err != nil {
			return nil, err
		}
		if acc.Balance < 0 {
			return nil, &InsufficientFundsError{AccountID: id, Balance: before, Required: before - acc.Balance}
		}
		if tx == nil {
			return nil, nil
		}
		tx.AccountID = id
		return []model.Transaction{*tx}, nil
	})
	if err != nil {
		return nil, err
	}
	return accs[id], nil
}

// mutateMany locks ids in ascending order, hands copies to fn, commits and publishes.
func (l *Ledger) mutateMany(ctx context.Context, ids []int64, fn func(map[int64]*model.Account) ([]model.Transaction, error)) (map[int64]*model.Account, error) {
	unlock, err := lock.LockMany(ctx, l.locks, l.cfg.LockTimeout, ids...)
	if err != nil {
		return nil, busy(err, ids...)
	}
	defer unlock()

	work := make(map[int64]*model.Account, len(ids))
	for _, id := range ids {
		if _, ok := work[id]; ok {
			continue
		}
		acc := l.lookup(id)
		if acc == nil {
			return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
		}
		work[id] = acc.Clone()
	}

	journal, err := fn(work)
	if err != nil {
		return nil, err
	}

	now := l.now()
	changed := make([]*model.Account, 0, len(work))
	for _, id := range sortedIDs(work) {
		acc := work[id]
		acc.UpdatedAt = now
		changed = append(changed, acc)
	}
	for i := range journal {
		if journal[i].CreatedAt.IsZero() {
			journal[i].CreatedAt = now
		}
	}

	if err := l.commit(ctx, changed, journal); err != nil {
		return nil, err
	}
	l.publish(changed...)

	out := make(map[int64]*model.Account, len(changed))
	for _, acc := range changed {
		out[acc.ID] = acc.Clone()
	}
	return out, nil
}

func (l *Ledger) commit(ctx context.Context, accounts []*model.Account, journal []model.Transaction) error {
	if err := l.store.Commit(ctx, accounts, journal); err != nil {
		metrics.LedgerCommits.WithLabelValues("error").Inc()
		log.Error().Err(err).Int("accounts", len(accounts)).Msg("Ledger commit failed")
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	metrics.LedgerCommits.WithLabelValues("ok").Inc()
	return nil
}

func (l *Ledger) publish(accounts ...*model.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, acc := range accounts {
		l.accounts[acc.ID] = acc
	}
}

// lookup returns the published account. Published accounts are never mutated.
func (l *Ledger) lookup(id int64) *model.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accounts[id]
}

func journalLine(id, amount int64, txType, note string) model.Transaction {
	tx := model.Transaction{AccountID: id, Amount: amount, Type: txType}
	if note != "" {
		tx.Description = &note
	}
	return tx
}

func sortedIDs(m map[int64]*model.Account) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
