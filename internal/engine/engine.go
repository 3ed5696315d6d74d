// Package engine is the wager session engine. It creates Mines games and
// duels, routes player actions to them under per-key exclusive sections and
// settles their outcomes against the ledger.
//
// Every state change happens inside the session's section; notifications are
// sent after the section is released.
package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/game/mines"
	"mines-wager-bot/internal/game/tictactoe"
	"mines-wager-bot/internal/ledger"
	"mines-wager-bot/internal/metrics"
	"mines-wager-bot/internal/model"
	"mines-wager-bot/internal/pkg/lock"
	"mines-wager-bot/internal/session"
)

// Config holds game limits.
type Config struct {
	MinesMinStake       int64
	MinesMaxStake       int64 // 0 means unlimited
	MinMines            int
	MaxMines            int
	MinRevealsToCashOut int
	Coefficients        mines.Coefficients

	DuelMinStake  int64
	FeePercent    float64
	InvitationTTL time.Duration

	// LockTimeout bounds the wait for a player's session gate. Zero waits
	// without limit.
	LockTimeout time.Duration
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg      Config
	ledger   *ledger.Ledger
	notifier Notifier
	now      func() time.Time

	mines   *session.Registry[Key, *minesSession]
	duels   *session.Registry[Key, *duelSession]
	invites *session.Book[Key, Invitation]

	// gate serializes session creation per key so a key never holds a Mines
	// game and a duel at once.
	gate *lock.KeyLock[Key]

	linkMu sync.Mutex
	links  map[Key]Key // participant key -> duel key

	rngMu  sync.Mutex
	rng    *rand.Rand
	policy tictactoe.Policy
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand sets the source used for boards and first movers.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithHousePolicy sets the policy the house plays duels with.
func WithHousePolicy(p tictactoe.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// New creates an engine. A nil notifier drops events.
func New(l *ledger.Ledger, notifier Notifier, cfg Config, opts ...Option) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	e := &Engine{
		cfg:      cfg,
		ledger:   l,
		notifier: notifier,
		now:      time.Now,
		gate:     lock.New[Key](),
		links:    make(map[Key]Key),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if e.policy == nil {
		e.policy = tictactoe.NewRandomPolicy(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	}

	e.mines = session.NewRegistry[Key, *minesSession](session.WithSizeHook(func(n int) {
		metrics.ActiveSessions.WithLabelValues(string(GameMines)).Set(float64(n))
	}))
	e.duels = session.NewRegistry[Key, *duelSession](session.WithSizeHook(func(n int) {
		metrics.ActiveSessions.WithLabelValues(string(GameDuel)).Set(float64(n))
	}))
	e.invites = session.NewBook[Key, Invitation](cfg.InvitationTTL, func() time.Time { return e.now() })

	return e
}

// Ledger returns the ledger the engine settles against.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Run sweeps expired invitations every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	log.Info().Dur("interval", interval).Msg("Invitation sweeper started")
	e.invites.Run(ctx, interval, func(expired []Invitation) {
		e.expired(ctx, expired)
	})
	log.Info().Msg("Invitation sweeper stopped")
}

// SweepInvitations removes invitations past their deadline and reports them.
func (e *Engine) SweepInvitations(ctx context.Context) []Invitation {
	expired := e.invites.Sweep(e.now())
	e.expired(ctx, expired)
	return expired
}

func (e *Engine) expired(ctx context.Context, invs []Invitation) {
	for _, inv := range invs {
		metrics.InvitationsExpired.Inc()
		log.Info().
			Str("invitation_id", inv.ID).
			Int64("chat_id", inv.Key.ChatID).
			Int64("user_id", inv.Key.UserID).
			Msg("Invitation expired")
		_ = e.notify("invitation_expired", inv.Key, func() error {
			return e.notifier.InvitationExpired(ctx, inv)
		})
	}
}

// lockKeys takes the creation gate for every key in a fixed order. It fails
// with ErrBusy when a key stays held past the lock timeout.
func (e *Engine) lockKeys(ctx context.Context, keys ...Key) (unlock func(), err error) {
	unlock, err = lock.LockManyFunc(ctx, e.gate, e.cfg.LockTimeout, Key.compare, keys...)
	if err != nil {
		log.Warn().Interface("keys", keys).Msg("Session gate timed out")
		return nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}
	return unlock, nil
}

// inDuel reports whether key sits in a live duel.
func (e *Engine) inDuel(key Key) bool {
	e.linkMu.Lock()
	defer e.linkMu.Unlock()
	_, ok := e.links[key]
	return ok
}

// DuelKey returns the duel a participant sits in.
func (e *Engine) DuelKey(key Key) (Key, bool) {
	e.linkMu.Lock()
	defer e.linkMu.Unlock()
	k, ok := e.links[key]
	return k, ok
}

func (e *Engine) link(duel Key, participants ...Key) {
	e.linkMu.Lock()
	defer e.linkMu.Unlock()
	for _, p := range participants {
		e.links[p] = duel
	}
}

func (e *Engine) unlink(duel Key) {
	e.linkMu.Lock()
	defer e.linkMu.Unlock()
	for p, d := range e.links {
		if d == duel {
			delete(e.links, p)
		}
	}
}

func (e *Engine) newBoard(mineCount int) (*mines.Board, error) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return mines.NewBoard(mineCount, e.rng, e.cfg.Coefficients)
}

func (e *Engine) newGame(p1, p2 int64) *tictactoe.Game {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return tictactoe.NewGame(tictactoe.Player(p1), tictactoe.Player(p2), e.rng)
}

func newID() string {
	return uuid.New().String()[:8]
}

// displayName returns the account's name, or "" if it is unknown.
func (e *Engine) displayName(id int64) string {
	acc, err := e.ledger.Get(id)
	if err != nil {
		return ""
	}
	return acc.DisplayName()
}

func balances(accs map[int64]*model.Account) map[int64]int64 {
	out := make(map[int64]int64, len(accs))
	for id, acc := range accs {
		out[id] = acc.Balance
	}
	return out
}
