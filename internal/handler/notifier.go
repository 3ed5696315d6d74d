package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"mines-wager-bot/internal/engine"
	"mines-wager-bot/internal/model"
	"mines-wager-bot/internal/pkg/lock"
)

// API is the part of *tele.Bot the notifier needs.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Directory resolves account ids to display names.
type Directory interface {
	Get(id int64) (*model.Account, error)
}

// Notifier renders engine events as Telegram messages. Each session owns one
// message that is edited as the game progresses; a duel reuses the message of
// the invitation it came from.
type Notifier struct {
	api   API
	names Directory
	now   func() time.Time

	// chats serializes message binding per chat so concurrent events for
	// one session never send two boards.
	chats *lock.KeyLock[int64]

	mu       sync.Mutex
	messages map[string]tele.StoredMessage // session or invitation id -> message
}

var _ engine.Notifier = (*Notifier)(nil)

// NewNotifier creates a Notifier sending through api.
func NewNotifier(api API, names Directory) *Notifier {
	return &Notifier{
		api:      api,
		names:    names,
		now:      time.Now,
		chats:    lock.New[int64](),
		messages: make(map[string]tele.StoredMessage),
	}
}

func (n *Notifier) SessionCreated(ctx context.Context, v engine.MinesView) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.show(v.SessionID, v.Key.ChatID, MinesText(v, n.name(v.Key.UserID)), MinesMarkup(v))
}

func (n *Notifier) BoardUpdated(ctx context.Context, v engine.MinesView) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.show(v.SessionID, v.Key.ChatID, MinesText(v, n.name(v.Key.UserID)), MinesMarkup(v))
}

func (n *Notifier) SessionSettled(ctx context.Context, st engine.Settlement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer n.forget(st.SessionID)

	text := SettlementText(st, n.name(st.Key.UserID))
	switch {
	case st.Mines != nil:
		v := *st.Mines
		v.CanCashOut = false
		return n.show(st.SessionID, st.Key.ChatID, text, MinesMarkup(v))
	case st.Duel != nil:
		return n.show(st.SessionID, st.Key.ChatID, text, DuelMarkup(*st.Duel))
	default:
		return n.show(st.SessionID, st.Key.ChatID, text, nil)
	}
}

func (n *Notifier) InvitationIssued(ctx context.Context, inv engine.Invitation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.show(inv.ID, inv.Key.ChatID, InvitationText(inv, n.now()), InvitationMarkup(inv))
}

// InvitationAccepted turns the invitation message into the duel board. The
// duel carries the invitation's id.
func (n *Notifier) InvitationAccepted(ctx context.Context, v engine.DuelView) error {
	return n.DuelUpdated(ctx, v)
}

func (n *Notifier) InvitationExpired(ctx context.Context, inv engine.Invitation) error {
	return n.closeInvitation(ctx, inv, fmt.Sprintf("⌛ %s's challenge for %d expired.", inv.InviterName, inv.Stake))
}

// InvitationWithdrawn closes the message of a cancelled invitation.
func (n *Notifier) InvitationWithdrawn(ctx context.Context, inv engine.Invitation) error {
	return n.closeInvitation(ctx, inv, fmt.Sprintf("🚫 %s withdrew the challenge.", inv.InviterName))
}

func (n *Notifier) DuelUpdated(ctx context.Context, v engine.DuelView) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.show(v.SessionID, v.Key.ChatID, DuelText(v), DuelMarkup(v))
}

func (n *Notifier) closeInvitation(ctx context.Context, inv engine.Invitation, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, ok := n.lookup(inv.ID)
	if !ok {
		return nil
	}
	defer n.forget(inv.ID)
	return n.edit(ref, text, nil)
}

// show edits the message bound to key, or sends a new one and binds it.
func (n *Notifier) show(key string, chatID int64, text string, markup *tele.ReplyMarkup) error {
	n.chats.Lock(chatID)
	defer n.chats.Unlock(chatID)

	if ref, ok := n.lookup(key); ok {
		return n.edit(ref, text, markup)
	}

	opts := []interface{}{}
	if markup != nil {
		opts = append(opts, markup)
	}
	msg, err := n.api.Send(tele.ChatID(chatID), text, opts...)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	n.mu.Lock()
	n.messages[key] = tele.StoredMessage{MessageID: strconv.Itoa(msg.ID), ChatID: chatID}
	n.mu.Unlock()
	return nil
}

func (n *Notifier) edit(ref tele.StoredMessage, text string, markup *tele.ReplyMarkup) error {
	opts := []interface{}{}
	if markup != nil {
		opts = append(opts, markup)
	}
	_, err := n.api.Edit(ref, text, opts...)
	if err != nil && !errors.Is(err, tele.ErrSameMessageContent) {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

func (n *Notifier) lookup(key string) (tele.StoredMessage, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ref, ok := n.messages[key]
	return ref, ok
}

func (n *Notifier) forget(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.messages, key)
}

// Tracked returns how many messages are bound to live sessions.
func (n *Notifier) Tracked() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func (n *Notifier) name(id int64) string {
	acc, err := n.names.Get(id)
	if err != nil {
		log.Debug().Err(err).Int64("user_id", id).Msg("Unknown account in notification")
		return "player"
	}
	return acc.DisplayName()
}
