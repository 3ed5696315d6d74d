package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"mines-wager-bot/internal/game/tictactoe"
	"mines-wager-bot/internal/ledger"
)

// firstEmpty always takes the first free cell in row-major order.
type firstEmpty struct{}

func (firstEmpty) ChooseMove(g *tictactoe.Game) (int, int, bool) {
	cells := g.EmptyCells()
	if len(cells) == 0 {
		return 0, 0, false
	}
	return cells[0][0], cells[0][1], true
}

// fixStarter restarts the duel's game with a known first mover.
func (f *fixture) fixStarter(t *testing.T, owner, starter int64) {
	t.Helper()
	require.NoError(t, f.eng.duels.Update(Key{ChatID: chat, UserID: owner}, func(d *duelSession) (bool, error) {
		p1, p2 := d.game.Players()
		d.game = tictactoe.NewGameWithStarter(p1, p2, tictactoe.Player(starter))
		return false, nil
	}))
}

func (f *fixture) startPvP(t *testing.T, stake int64) DuelView {
	t.Helper()
	ctx := context.Background()
	res, err := f.eng.IssueChallenge(ctx, chat, alice, stake, OpponentHuman)
	require.NoError(t, err)
	require.NotNil(t, res.Invitation)

	v, err := f.eng.AcceptChallenge(ctx, chat, alice, bob)
	require.NoError(t, err)
	f.fixStarter(t, alice, alice)
	return v
}

func (f *fixture) move(t *testing.T, row, col int, actor int64) MoveResult {
	t.Helper()
	res, err := f.eng.MakeMove(context.Background(), chat, alice, row, col, actor)
	require.NoError(t, err)
	return res
}

func TestInvitationExpiry(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"accepted at 119s", 119 * time.Second, nil},
		{"rejected at 121s", 121 * time.Second, ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, alice, bob)
			ctx := context.Background()

			res, err := f.eng.IssueChallenge(ctx, chat, alice, 10, OpponentHuman)
			require.NoError(t, err)
			assert.Equal(t, f.clock.Now().Add(2*time.Minute), res.Invitation.ExpiresAt)
			assert.Equal(t, int64(100), f.balance(t, alice), "nothing is escrowed before acceptance")

			f.clock.Advance(tt.elapsed)
			_, err = f.eng.AcceptChallenge(ctx, chat, alice, bob)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 1, f.rec.count("expired"))
				assert.Equal(t, int64(100), f.balance(t, alice))
				assert.Equal(t, int64(100), f.balance(t, bob))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(90), f.balance(t, alice))
			assert.Equal(t, int64(90), f.balance(t, bob))
		})
	}
}

func TestSweepInvitations(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()

	_, err := f.eng.IssueChallenge(ctx, chat, alice, 10, OpponentHuman)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.eng.IssueChallenge(ctx, chat, bob, 10, OpponentHuman)
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)
	expired := f.eng.SweepInvitations(ctx)
	require.Len(t, expired, 1)
	assert.Equal(t, alice, expired[0].Key.UserID)
	require.Len(t, f.rec.expired, 1)

	_, err = f.eng.AcceptChallenge(ctx, chat, alice, bob)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.eng.AcceptChallenge(ctx, chat, bob, alice)
	assert.NoError(t, err)
}

func TestIssueChallengeRules(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()

	_, err := f.eng.IssueChallenge(ctx, chat, alice, 0, OpponentHuman)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.eng.IssueChallenge(ctx, chat, alice, 500, OpponentHuman)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	_, err = f.eng.IssueChallenge(ctx, chat, alice, 10, OpponentHuman)
	require.NoError(t, err)
	_, err = f.eng.IssueChallenge(ctx, chat, alice, 10, OpponentHuman)
	assert.ErrorIs(t, err, ErrSessionConflict)

	_, err = f.eng.AcceptChallenge(ctx, chat, alice, alice)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAcceptWithoutFundsKeepsInvitation(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()

	_, err := f.eng.IssueChallenge(ctx, chat, alice, 60, OpponentHuman)
	require.NoError(t, err)
	_, err = f.eng.AdminSetBalance(ctx, bob, 10)
	require.NoError(t, err)

	_, err = f.eng.AcceptChallenge(ctx, chat, alice, bob)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, int64(100), f.balance(t, alice), "a failed escrow debits no one")
	assert.Equal(t, int64(10), f.balance(t, bob))

	_, err = f.eng.AdminSetBalance(ctx, bob, 100)
	require.NoError(t, err)
	_, err = f.eng.AcceptChallenge(ctx, chat, alice, bob)
	require.NoError(t, err)
}

func TestConcurrentAcceptFirstWins(t *testing.T) {
	f := newFixture(t, alice, bob, 3)
	ctx := context.Background()
	_, err := f.eng.IssueChallenge(ctx, chat, alice, 10, OpponentHuman)
	require.NoError(t, err)

	errs := make(chan error, 2)
	for _, id := range []int64{bob, 3} {
		go func(id int64) {
			_, err := f.eng.AcceptChallenge(ctx, chat, alice, id)
			errs <- err
		}(id)
	}
	var ok int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(90), f.balance(t, alice))
	assert.Equal(t, int64(190), f.balance(t, bob)+f.balance(t, 3))
}

func TestDuelWinPaysPoolMinusFee(t *testing.T) {
	f := newFixture(t, alice, bob)
	total := f.led.TotalBalance()
	f.startPvP(t, 50)

	f.move(t, 0, 0, alice)
	f.move(t, 1, 0, bob)
	f.move(t, 0, 1, alice)

	// out of turn and occupied cells are rejected without a state change
	_, err := f.eng.MakeMove(context.Background(), chat, alice, 2, 2, alice)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.eng.MakeMove(context.Background(), chat, alice, 0, 0, bob)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.eng.MakeMove(context.Background(), chat, alice, 2, 2, 3)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.move(t, 1, 1, bob)
	res := f.move(t, 0, 2, alice)

	require.NotNil(t, res.Settlement)
	st := res.Settlement
	assert.Equal(t, OutcomeWin, st.Outcome)
	assert.Equal(t, alice, st.Winner)
	assert.Equal(t, int64(5), st.Fee)
	assert.Equal(t, int64(95), st.Payout)
	assert.Equal(t, tictactoe.Won, res.View.Status)

	assert.Equal(t, int64(145), f.balance(t, alice))
	assert.Equal(t, int64(50), f.balance(t, bob))
	assert.Equal(t, int64(10_005), f.balance(t, house))
	assert.Equal(t, total, f.led.TotalBalance())

	_, err = f.eng.DuelState(chat, bob)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.eng.StartMines(context.Background(), chat, bob, 10, 5)
	assert.NoError(t, err, "a settled duel frees both keys")
}

func TestDuelDrawRefundsBoth(t *testing.T) {
	f := newFixture(t, alice, bob)
	aBefore, bBefore := f.balance(t, alice), f.balance(t, bob)
	f.startPvP(t, 30)

	// X O X / X O O / O X X
	moves := [][3]int64{
		{0, 0, alice}, {0, 1, bob}, {0, 2, alice},
		{1, 1, bob}, {1, 0, alice}, {1, 2, bob},
		{2, 1, alice}, {2, 0, bob},
	}
	for _, m := range moves {
		res := f.move(t, int(m[0]), int(m[1]), m[2])
		require.Nil(t, res.Settlement)
	}
	res := f.move(t, 2, 2, alice)

	require.NotNil(t, res.Settlement)
	assert.Equal(t, OutcomeDraw, res.Settlement.Outcome)
	assert.Equal(t, aBefore+bBefore, f.balance(t, alice)+f.balance(t, bob))
	assert.Equal(t, aBefore, f.balance(t, alice))
	assert.Equal(t, int64(10_000), f.balance(t, house), "draws carry no fee")
}

func TestSettleDuelTwiceIsNoop(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()
	f.startPvP(t, 20)
	key := Key{ChatID: chat, UserID: alice}

	st, err := f.eng.SettleDuel(ctx, key, OutcomeDraw)
	require.NoError(t, err)
	require.True(t, st.Applied)
	before := f.balance(t, alice) + f.balance(t, bob)

	st, err = f.eng.SettleDuel(ctx, key, OutcomeDraw)
	require.NoError(t, err)
	assert.False(t, st.Applied)
	assert.Equal(t, before, f.balance(t, alice)+f.balance(t, bob))
}

func TestPlayerDuelCannotBeAbandoned(t *testing.T) {
	f := newFixture(t, alice, bob)
	f.startPvP(t, 20)

	_, err := f.eng.CancelSession(context.Background(), chat, bob)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	v, err := f.eng.DuelState(chat, bob)
	require.NoError(t, err)
	assert.Equal(t, alice, v.Key.UserID)
}

func TestCancelWithdrawsInvitation(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()
	_, err := f.eng.IssueChallenge(ctx, chat, alice, 10, OpponentHuman)
	require.NoError(t, err)

	res, err := f.eng.CancelSession(ctx, chat, alice)
	require.NoError(t, err)
	require.NotNil(t, res.Invitation)
	assert.Nil(t, res.Settlement)

	_, err = f.eng.AcceptChallenge(ctx, chat, alice, bob)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMinesAndDuelAreExclusive(t *testing.T) {
	f := newFixture(t, alice, bob)
	ctx := context.Background()

	_, err := f.eng.StartMines(ctx, chat, alice, 10, 5)
	require.NoError(t, err)
	_, err = f.eng.IssueChallenge(ctx, chat, alice, 10, OpponentHouse)
	assert.ErrorIs(t, err, ErrSessionConflict)

	_, err = f.eng.IssueChallenge(ctx, chat, bob, 10, OpponentHuman)
	require.NoError(t, err)
	_, err = f.eng.AcceptChallenge(ctx, chat, bob, alice)
	assert.ErrorIs(t, err, ErrSessionConflict)

	_, err = f.eng.CancelSession(ctx, chat, alice)
	require.NoError(t, err)
	_, err = f.eng.AcceptChallenge(ctx, chat, bob, alice)
	require.NoError(t, err)

	_, err = f.eng.StartMines(ctx, chat, alice, 10, 5)
	assert.ErrorIs(t, err, ErrSessionConflict)
}

func TestPlayerChallengeDuringMinesConflicts(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()

	_, err := f.eng.StartMines(ctx, chat, alice, 10, 5)
	require.NoError(t, err)

	_, err = f.eng.IssueChallenge(ctx, chat, alice, 10, OpponentHuman)
	assert.ErrorIs(t, err, ErrSessionConflict)
	assert.Zero(t, f.rec.count("issued"))
	_, err = f.eng.invites.Peek(Key{ChatID: chat, UserID: alice})
	assert.Error(t, err, "no invitation is left behind")
}

func TestBusyGateTimesOut(t *testing.T) {
	f := newFixture(t, alice)
	f.eng.cfg.LockTimeout = 20 * time.Millisecond
	ctx := context.Background()
	key := Key{ChatID: chat, UserID: alice}

	f.eng.gate.Lock(key)
	_, err := f.eng.StartMines(ctx, chat, alice, 10, 5)
	require.ErrorIs(t, err, ErrBusy)
	_, err = f.eng.IssueChallenge(ctx, chat, alice, 10, OpponentHuman)
	require.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, int64(100), f.balance(t, alice))
	assert.False(t, f.eng.mines.Has(key))

	f.eng.gate.Unlock(key)
	_, err = f.eng.StartMines(ctx, chat, alice, 10, 5)
	require.NoError(t, err)
}

func TestHouseDuel(t *testing.T) {
	f := newFixture(t, alice)
	f.eng.policy = firstEmpty{}
	ctx := context.Background()
	total := f.led.TotalBalance()

	res, err := f.eng.IssueChallenge(ctx, chat, alice, 25, OpponentHouse)
	require.NoError(t, err)
	require.NotNil(t, res.Duel)
	assert.Equal(t, OpponentHouse, res.Duel.Opponent)
	assert.Equal(t, int64(75), f.balance(t, alice))
	assert.Equal(t, int64(10_000-25), f.balance(t, house), "both stakes are escrowed at once")
	assert.Equal(t, 1, f.rec.count("duel"))

	var st *Settlement
	for i := 0; i < 5 && st == nil; i++ {
		v, err := f.eng.DuelState(chat, alice)
		require.NoError(t, err)
		require.Equal(t, alice, v.Turn, "the house replies inside the same move")
		cell := firstFree(v)
		mr, err := f.eng.MakeMove(ctx, chat, alice, cell[0], cell[1], alice)
		require.NoError(t, err)
		st = mr.Settlement
	}
	require.NotNil(t, st)
	assert.Equal(t, total, f.led.TotalBalance())
	assert.False(t, f.eng.duels.Has(Key{ChatID: chat, UserID: alice}))
}

func TestHouseDuelCancelRefundsBothStakes(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()
	_, err := f.eng.IssueChallenge(ctx, chat, alice, 25, OpponentHouse)
	require.NoError(t, err)

	res, err := f.eng.CancelSession(ctx, chat, alice)
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, OutcomeCancel, res.Settlement.Outcome)
	assert.Equal(t, int64(100), f.balance(t, alice))
	assert.Equal(t, int64(10_000), f.balance(t, house))
}

func firstFree(v DuelView) [2]int {
	for r := 0; r < tictactoe.Size; r++ {
		for c := 0; c < tictactoe.Size; c++ {
			if v.Board[r][c] == tictactoe.Empty {
				return [2]int{r, c}
			}
		}
	}
	return [2]int{-1, -1}
}

// TestCreditConservationProperty tests Property: Credit Conservation.
// *For any* sequence of starts, reveals, cash-outs and cancels, the total of
// all balances plus live stakes SHALL equal the initial total plus the
// profit paid on won boards.
func TestCreditConservationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt, alice, bob)
		ctx := context.Background()
		total := f.led.TotalBalance()
		players := []int64{alice, bob}
		var profit int64
		won := func(st *Settlement) {
			if st != nil && st.Applied && st.Outcome == OutcomeWin {
				profit += st.Payout - st.Mines.Stake
			}
		}

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			user := rapid.SampledFrom(players).Draw(rt, "user")
			switch rapid.IntRange(0, 3).Draw(rt, "action") {
			case 0:
				stake := rapid.Int64Range(1, 60).Draw(rt, "stake")
				m := rapid.IntRange(3, 24).Draw(rt, "mines")
				_, _ = f.eng.StartMines(ctx, chat, user, stake, m)
			case 1:
				r := rapid.IntRange(0, 4).Draw(rt, "row")
				c := rapid.IntRange(0, 4).Draw(rt, "col")
				if res, err := f.eng.RevealCell(ctx, chat, user, r, c); err == nil {
					won(res.Settlement)
				}
			case 2:
				if st, err := f.eng.CashOut(ctx, chat, user); err == nil {
					won(&st)
				}
			case 3:
				if res, err := f.eng.CancelSession(ctx, chat, user); err == nil {
					won(res.Settlement)
				}
			}

			var escrow int64
			for _, id := range players {
				if v, err := f.eng.MinesState(chat, id); err == nil {
					escrow += v.Stake
				} else if !errors.Is(err, ErrSessionNotFound) {
					rt.Fatalf("unexpected state error: %v", err)
				}
			}
			if got := f.led.TotalBalance() + escrow; got != total+profit {
				rt.Fatalf("credits not conserved: %d != %d", got, total+profit)
			}
		}
	})
}
