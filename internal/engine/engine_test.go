package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mines-wager-bot/internal/game/mines"
	"mines-wager-bot/internal/ledger"
	"mines-wager-bot/internal/model"
)

const (
	chat  int64 = 500
	alice int64 = 1
	bob   int64 = 2
	house int64 = -1
)

// memStore is an in-memory ledger.Store that can be told to fail commits.
type memStore struct {
	mu   sync.Mutex
	snap *model.Snapshot
	fail bool
}

func (s *memStore) Load(context.Context) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := model.NewSnapshot()
	for k, acc := range s.snap.Accounts {
		out.Accounts[k] = acc.Clone()
	}
	return out, nil
}

func (s *memStore) Commit(_ context.Context, accounts []*model.Account, _ []model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	for _, acc := range accounts {
		s.snap.Accounts[strconv.FormatInt(acc.ID, 10)] = acc.Clone()
	}
	return nil
}

func (s *memStore) AddChat(context.Context, int64) error { return nil }

func (s *memStore) History(context.Context, int64, int) ([]model.Transaction, error) {
	return nil, nil
}

func (s *memStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder captures notifications and can be told to fail them.
type recorder struct {
	mu      sync.Mutex
	events  []string
	settled []Settlement
	expired []Invitation
	fail    error
}

func (r *recorder) add(event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.fail
}

func (r *recorder) SessionCreated(context.Context, MinesView) error { return r.add("created") }
func (r *recorder) BoardUpdated(context.Context, MinesView) error { return r.add("board") }
func (r *recorder) InvitationIssued(context.Context, Invitation) error { return r.add("issued") }
func (r *recorder) InvitationAccepted(context.Context, DuelView) error { return r.add("accepted") }
func (r *recorder) DuelUpdated(context.Context, DuelView) error { return r.add("duel") }

func (r *recorder) SessionSettled(_ context.Context, s Settlement) error {
	r.mu.Lock()
	r.settled = append(r.settled, s)
	r.mu.Unlock()
	return r.add("settled")
}

func (r *recorder) InvitationExpired(_ context.Context, inv Invitation) error {
	r.mu.Lock()
	r.expired = append(r.expired, inv)
	r.mu.Unlock()
	return r.add("expired")
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

// tb is the part of testing.TB the fixture needs; *rapid.T has it too.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

type fixture struct {
	eng   *Engine
	led   *ledger.Ledger
	store *memStore
	clock *fakeClock
	rec   *recorder
}

func testConfig() Config {
	return Config{
		MinesMinStake:       1,
		MinMines:            3,
		MaxMines:            24,
		MinRevealsToCashOut: 2,
		Coefficients:        mines.DefaultCoefficients,
		DuelMinStake:        1,
		FeePercent:          5,
		InvitationTTL:       2 * time.Minute,
	}
}

func newFixture(t tb, players ...int64) *fixture {
	t.Helper()
	ctx := context.Background()
	store := &memStore{snap: model.NewSnapshot()}
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}

	led, err := ledger.New(ctx, store, ledger.Config{
		StartingBalance: 100,
		HouseID:         house,
		HouseBalance:    10_000,
		DailyAmount:     50,
		DailyCooldown:   24 * time.Hour,
		WeeklyAmount:    200,
		WeeklyCooldown:  7 * 24 * time.Hour,
	}, ledger.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	for _, id := range players {
		if _, _, err := led.EnsureAccount(ctx, id, "user"+strconv.FormatInt(id, 10), ""); err != nil {
			t.Fatalf("account: %v", err)
		}
	}

	rec := &recorder{}
	eng := New(led, rec, testConfig(),
		WithClock(clock.Now),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	)
	return &fixture{eng: eng, led: led, store: store, clock: clock, rec: rec}
}

func (f *fixture) balance(t tb, id int64) int64 {
	t.Helper()
	b, err := f.led.GetBalance(context.Background(), id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

// plantMines swaps the live board for one with mines at fixed cells.
func (f *fixture) plantMines(t *testing.T, user int64, positions ...int) {
	t.Helper()
	board, err := mines.NewBoardWithMines(positions, mines.DefaultCoefficients)
	require.NoError(t, err)
	require.NoError(t, f.eng.mines.Update(Key{ChatID: chat, UserID: user}, func(s *minesSession) (bool, error) {
		s.board = board
		return false, nil
	}))
}

// topRow puts five mines on row 0; rows 1-4 are safe.
var topRow = []int{0, 1, 2, 3, 4}

func TestStartMines_Validation(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()

	tests := []struct {
		name  string
		stake int64
		mines int
	}{
		{"zero stake", 0, 5},
		{"negative stake", -10, 5},
		{"too few mines", 10, 2},
		{"too many mines", 10, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.StartMines(ctx, chat, alice, tt.stake, tt.mines)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, int64(100), f.balance(t, alice))
		})
	}
}

func TestStartMines_InsufficientFunds(t *testing.T) {
	f := newFixture(t, alice)
	_, err := f.eng.StartMines(context.Background(), chat, alice, 101, 5)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, int64(100), f.balance(t, alice))

	_, err = f.eng.MinesState(chat, alice)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStartMines_DebitsOnceAndNotifies(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()

	v, err := f.eng.StartMines(ctx, chat, alice, 40, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(60), f.balance(t, alice))
	assert.Equal(t, 5, v.MineCount)
	assert.Len(t, v.SessionID, 8)
	assert.False(t, v.CanCashOut)
	assert.Equal(t, 1, f.rec.count("created"))

	_, err = f.eng.StartMines(ctx, chat, alice, 40, 5)
	assert.ErrorIs(t, err, ErrSessionConflict)
	assert.Equal(t, int64(60), f.balance(t, alice))

	// another chat is another key
	_, err = f.eng.StartMines(ctx, chat+1, alice, 40, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(20), f.balance(t, alice))
}

func TestCashOutExample(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()
	total := f.led.TotalBalance()

	_, err := f.eng.StartMines(ctx, chat, alice, 100, 5)
	require.NoError(t, err)
	f.plantMines(t, alice, topRow...)

	res, err := f.eng.RevealCell(ctx, chat, alice, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, mines.Safe, res.Outcome)
	assert.Nil(t, res.Settlement)

	// one gem is below the cash-out minimum
	_, err = f.eng.CashOut(ctx, chat, alice)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, int64(0), f.balance(t, alice))

	res, err = f.eng.RevealCell(ctx, chat, alice, 1, 1)
	require.NoError(t, err)
	assert.True(t, res.View.CanCashOut)
	assert.Equal(t, int64(170), res.View.Payout)

	st, err := f.eng.CashOut(ctx, chat, alice)
	require.NoError(t, err)
	assert.True(t, st.Applied)
	assert.Equal(t, OutcomeWin, st.Outcome)
	assert.Equal(t, int64(170), st.Payout)
	assert.Equal(t, int64(170), st.Balances[alice])

	assert.Equal(t, int64(170), f.balance(t, alice))
	assert.Equal(t, int64(10_000), f.balance(t, house), "winnings are not drawn from the house")
	assert.Equal(t, total+70, f.led.TotalBalance())
	assert.Equal(t, 1, f.rec.count("settled"))

	_, err = f.eng.MinesState(chat, alice)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevealTwiceIsRejected(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()
	_, err := f.eng.StartMines(ctx, chat, alice, 10, 5)
	require.NoError(t, err)
	f.plantMines(t, alice, topRow...)

	_, err = f.eng.RevealCell(ctx, chat, alice, 2, 2)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.eng.RevealCell(ctx, chat, alice, 2, 2)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.ErrorIs(t, err, mines.ErrAlreadyRevealed)
	}

	v, err := f.eng.MinesState(chat, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, v.SafeRevealed)

	_, err = f.eng.RevealCell(ctx, chat, alice, 5, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBombSettlesLoss(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()
	total := f.led.TotalBalance()

	_, err := f.eng.StartMines(ctx, chat, alice, 30, 5)
	require.NoError(t, err)
	f.plantMines(t, alice, topRow...)

	res, err := f.eng.RevealCell(ctx, chat, alice, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, mines.Bomb, res.Outcome)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, OutcomeLoss, res.Settlement.Outcome)
	assert.True(t, res.View.Cells[0][3].Exploded)
	assert.True(t, res.View.Cells[4][4].Revealed, "a lost board is fully revealed")

	assert.Equal(t, int64(70), f.balance(t, alice))
	assert.Equal(t, int64(10_030), f.balance(t, house))
	assert.Equal(t, total, f.led.TotalBalance())

	_, err = f.eng.RevealCell(ctx, chat, alice, 1, 1)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestClearingTheBoardCashesOut(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()

	_, err := f.eng.StartMines(ctx, chat, alice, 10, 24)
	require.NoError(t, err)
	positions := make([]int, 0, 24)
	for i := 1; i < mines.Cells; i++ {
		positions = append(positions, i)
	}
	f.plantMines(t, alice, positions...)

	res, err := f.eng.RevealCell(ctx, chat, alice, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, OutcomeWin, res.Settlement.Outcome)
	// 1 + 1*(0.25 + 24/24*0.5) = 1.75
	assert.Equal(t, int64(17), res.Settlement.Payout)
	assert.Equal(t, int64(107), f.balance(t, alice))
}

func TestWinPaysWithEmptyHouse(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()
	_, err := f.led.SetBalance(ctx, house, 0)
	require.NoError(t, err)

	_, err = f.eng.StartMines(ctx, chat, alice, 100, 24)
	require.NoError(t, err)
	positions := make([]int, 0, 24)
	for i := range 24 {
		positions = append(positions, i)
	}
	f.plantMines(t, alice, positions...)

	res, err := f.eng.RevealCell(ctx, chat, alice, 4, 4)
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.True(t, res.Settlement.Applied)
	assert.Equal(t, OutcomeWin, res.Settlement.Outcome)
	assert.Equal(t, int64(175), res.Settlement.Payout)
	assert.Equal(t, int64(175), f.balance(t, alice))
	assert.Equal(t, int64(0), f.balance(t, house))

	_, err = f.eng.MinesState(chat, alice)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.eng.StartMines(ctx, chat, alice, 10, 5)
	assert.NoError(t, err, "the key is free again")
}

func TestCancelFinishedBoardSettlesItsOutcome(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()

	_, err := f.eng.StartMines(ctx, chat, alice, 20, 5)
	require.NoError(t, err)
	f.plantMines(t, alice, topRow...)

	f.store.setFail(true)
	_, err = f.eng.RevealCell(ctx, chat, alice, 0, 0)
	require.ErrorIs(t, err, ledger.ErrPersistence)
	f.store.setFail(false)

	res, err := f.eng.CancelSession(ctx, chat, alice)
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, OutcomeLoss, res.Settlement.Outcome, "an exploded board is not refunded")
	assert.Equal(t, int64(80), f.balance(t, alice))
	assert.Equal(t, int64(10_020), f.balance(t, house))
	assert.False(t, f.eng.mines.Has(Key{ChatID: chat, UserID: alice}))
}

func TestCancelRefundsStake(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()
	total := f.led.TotalBalance()

	_, err := f.eng.StartMines(ctx, chat, alice, 55, 7)
	require.NoError(t, err)
	f.plantMines(t, alice, topRow...)
	_, err = f.eng.RevealCell(ctx, chat, alice, 3, 3)
	require.NoError(t, err)

	res, err := f.eng.CancelSession(ctx, chat, alice)
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, OutcomeCancel, res.Settlement.Outcome)
	assert.Equal(t, int64(55), res.Settlement.Payout)

	assert.Equal(t, int64(100), f.balance(t, alice))
	assert.Equal(t, total, f.led.TotalBalance())

	_, err = f.eng.CancelSession(ctx, chat, alice)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSettleTwiceIsNoop(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()
	key := Key{ChatID: chat, UserID: alice}

	_, err := f.eng.StartMines(ctx, chat, alice, 20, 5)
	require.NoError(t, err)

	first, err := f.eng.Settle(ctx, key, OutcomeCancel)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	before := f.balance(t, alice)

	second, err := f.eng.Settle(ctx, key, OutcomeCancel)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, before, f.balance(t, alice))
	assert.Equal(t, 1, f.rec.count("settled"))
}

func TestSettleDropsAlreadySettledSession(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()
	key := Key{ChatID: chat, UserID: alice}

	_, err := f.eng.StartMines(ctx, chat, alice, 20, 5)
	require.NoError(t, err)
	// paid but not removed, as after a crash between the two steps
	require.NoError(t, f.eng.mines.Update(key, func(s *minesSession) (bool, error) {
		s.settled = true
		return false, nil
	}))

	st, err := f.eng.Settle(ctx, key, OutcomeCancel)
	require.NoError(t, err)
	assert.False(t, st.Applied)
	assert.Equal(t, int64(80), f.balance(t, alice), "orphaned sessions are never re-paid")
	assert.False(t, f.eng.mines.Has(key))
}

func TestPersistenceFailureKeepsSession(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()

	_, err := f.eng.StartMines(ctx, chat, alice, 100, 5)
	require.NoError(t, err)
	f.plantMines(t, alice, topRow...)
	_, err = f.eng.RevealCell(ctx, chat, alice, 1, 0)
	require.NoError(t, err)
	_, err = f.eng.RevealCell(ctx, chat, alice, 1, 1)
	require.NoError(t, err)

	f.store.setFail(true)
	_, err = f.eng.CashOut(ctx, chat, alice)
	require.ErrorIs(t, err, ledger.ErrPersistence)
	assert.Equal(t, int64(0), f.balance(t, alice))

	v, err := f.eng.MinesState(chat, alice)
	require.NoError(t, err, "the session survives a failed settlement")
	assert.Equal(t, 2, v.SafeRevealed)

	f.store.setFail(false)
	st, err := f.eng.CashOut(ctx, chat, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(170), st.Payout)
	assert.Equal(t, int64(170), f.balance(t, alice))
}

func TestFailedLossSettlementIsRetriedOnNextReveal(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()

	_, err := f.eng.StartMines(ctx, chat, alice, 10, 5)
	require.NoError(t, err)
	f.plantMines(t, alice, topRow...)

	f.store.setFail(true)
	_, err = f.eng.RevealCell(ctx, chat, alice, 0, 0)
	require.ErrorIs(t, err, ledger.ErrPersistence)

	f.store.setFail(false)
	res, err := f.eng.RevealCell(ctx, chat, alice, 2, 2)
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, OutcomeLoss, res.Settlement.Outcome)
	assert.Equal(t, int64(10_010), f.balance(t, house))
}

func TestNotificationFailureIsSurfacedNotRolledBack(t *testing.T) {
	f := newFixture(t, alice)
	f.rec.fail = errors.New("telegram: 502")

	v, err := f.eng.StartMines(context.Background(), chat, alice, 10, 5)
	assert.ErrorIs(t, err, ErrNotify)
	assert.NotEmpty(t, v.SessionID)

	_, err = f.eng.MinesState(chat, alice)
	assert.NoError(t, err)
	assert.Equal(t, int64(90), f.balance(t, alice))
}

func TestConcurrentStartsSingleDebit(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	start := make(chan struct{})
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := f.eng.StartMines(ctx, chat, alice, 10, 5)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSessionConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, conflicts)
	assert.Equal(t, int64(90), f.balance(t, alice))
}

func TestAccountOperations(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()

	acc, err := f.eng.ClaimDailyBonus(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(150), acc.Balance)

	_, err = f.eng.ClaimDailyBonus(ctx, alice)
	var cooldown *ledger.CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), cooldown.NextEligibleAt)

	f.clock.Advance(24 * time.Hour)
	_, err = f.eng.ClaimDailyBonus(ctx, alice)
	require.NoError(t, err)

	_, err = f.eng.ClaimWeeklyBonus(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(300), f.balance(t, bob))

	_, recipient, err := f.eng.Gift(ctx, alice, "@USER2", 25)
	require.NoError(t, err)
	assert.Equal(t, int64(325), recipient.Balance)

	_, _, err = f.eng.Gift(ctx, alice, "user1", 5)
	assert.ErrorIs(t, err, ErrValidation)
	_, _, err = f.eng.Gift(ctx, alice, "user2", 0)
	assert.ErrorIs(t, err, ErrValidation)
	_, _, err = f.eng.Gift(ctx, alice, "house", 5)
	assert.ErrorIs(t, err, ErrValidation)

	top := f.eng.Leaderboard(10)
	require.Len(t, top, 2)
	assert.Equal(t, bob, top[0].ID)

	_, err = f.eng.AdminSetBalance(ctx, alice, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), f.balance(t, alice))
	_, err = f.eng.AdminSetBalance(ctx, alice, -1)
	assert.ErrorIs(t, err, ErrValidation)

	n, err := f.eng.AdminResetAllBalances(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(100), f.balance(t, bob))
	assert.Equal(t, int64(10_000), f.balance(t, house))
}
