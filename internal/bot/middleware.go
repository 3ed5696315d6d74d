package bot

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"mines-wager-bot/internal/config"
	"mines-wager-bot/internal/engine"
	"mines-wager-bot/internal/handler"
	"mines-wager-bot/internal/metrics"
)

// privateUserCache tracks users who have used the bot in whitelisted groups.
// This allows them to use the bot in private chat.
var (
	privateUserCache = make(map[int64]bool)
	privateUserMu    sync.RWMutex
)

// AllowPrivateUser marks a user as allowed to use private chat.
func AllowPrivateUser(userID int64) {
	privateUserMu.Lock()
	defer privateUserMu.Unlock()
	privateUserCache[userID] = true
}

// IsPrivateUserAllowed checks if a user is allowed to use private chat.
func IsPrivateUserAllowed(userID int64) bool {
	privateUserMu.RLock()
	defer privateUserMu.RUnlock()
	return privateUserCache[userID]
}

// chatAllowed decides whether an update from chat/sender is served. Private
// chats are open when the whitelist is empty or the user was seen in an
// allowed group.
func chatAllowed(cfg *config.Config, chat *tele.Chat, senderID int64) bool {
	if chat.Type == tele.ChatPrivate {
		return len(cfg.Whitelist.Chats) == 0 || IsPrivateUserAllowed(senderID)
	}
	return cfg.IsChatAllowed(chat.ID)
}

// WhitelistMiddleware drops updates from chats that are not whitelisted.
func WhitelistMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			sender := c.Sender()
			if chat == nil || sender == nil {
				return nil
			}

			if !chatAllowed(cfg, chat, sender.ID) {
				log.Debug().
					Int64("chat_id", chat.ID).
					Int64("user_id", sender.ID).
					Msg("Ignoring update from non-whitelisted chat")
				return nil
			}
			if chat.Type != tele.ChatPrivate {
				AllowPrivateUser(sender.ID)
			}

			return next(c)
		}
	}
}

// AccountMiddleware makes sure the sender has an account and the chat is
// known for broadcasts before any handler runs.
func AccountMiddleware(eng *engine.Engine) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil || sender.IsBot {
				return nil
			}
			ctx := context.Background()

			_, created, err := eng.EnsurePlayer(ctx, sender.ID, sender.Username, sender.FirstName)
			if err != nil {
				log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to ensure account")
				return c.Reply("❌ Could not open your account, please try again later")
			}
			c.Set(handler.ContextKeyCreated, created)

			if chat := c.Chat(); chat != nil {
				if err := eng.RegisterChat(ctx, chat.ID); err != nil {
					log.Warn().Err(err).Int64("chat_id", chat.ID).Msg("Failed to register chat")
				}
			}

			return next(c)
		}
	}
}

// AdminMiddleware creates a middleware that checks if the user is an admin.
func AdminMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}

			if !cfg.IsAdmin(sender.ID) {
				log.Warn().
					Int64("user_id", sender.ID).
					Str("command", c.Text()).
					Msg("Non-admin attempted admin command")
				return c.Reply("❌ This command is for admins only")
			}

			return next(c)
		}
	}
}

// LoggingMiddleware logs incoming updates and counts handler results.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			chat := c.Chat()

			logEvent := log.Debug()
			if sender != nil {
				logEvent = logEvent.
					Int64("user_id", sender.ID).
					Str("username", sender.Username)
			}
			if chat != nil {
				logEvent = logEvent.
					Int64("chat_id", chat.ID).
					Str("chat_type", string(chat.Type))
			}
			logEvent.
				Str("text", c.Text()).
				Msg("Received update")

			kind := "message"
			if c.Callback() != nil {
				kind = "callback"
			}
			err := next(c)
			result := "ok"
			if err != nil {
				result = "error"
				log.Warn().Err(err).Str("kind", kind).Msg("Handler failed")
			}
			metrics.UpdatesHandled.WithLabelValues(kind, result).Inc()
			return err
		}
	}
}

// RecoveryMiddleware creates a middleware that recovers from panics.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Msg("Recovered from panic in handler")
					err = c.Reply("❌ Internal error, please try again later")
				}
			}()
			return next(c)
		}
	}
}
