// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"mines-wager-bot/internal/config"
	"mines-wager-bot/internal/engine"
	"mines-wager-bot/internal/handler"
	"mines-wager-bot/internal/shop"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config

	// Handlers
	accountHandler  *handler.AccountHandler
	transferHandler *handler.TransferHandler
	rankingHandler  *handler.RankingHandler
	adminHandler    *handler.AdminHandler
	gameHandler     *handler.GameHandler
	duelHandler     *handler.DuelHandler
	shopHandler     *handler.ShopHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config   *config.Config
	Engine   *engine.Engine
	Shop     *shop.Service
	Notifier *handler.Notifier
}

// Connect creates the telebot instance. It is separate from New because the
// engine's notifier needs the bot before the handlers can be built.
func Connect(cfg *config.Config) (*tele.Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	teleBot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Bot.Token,
		Poller: &tele.LongPoller{Timeout: cfg.Bot.PollTimeout},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("Telegram handler error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return teleBot, nil
}

// New registers middleware and handlers on teleBot.
func New(teleBot *tele.Bot, deps *Dependencies) *Bot {
	eng := deps.Engine
	b := &Bot{
		bot:             teleBot,
		cfg:             deps.Config,
		accountHandler:  handler.NewAccountHandler(eng),
		transferHandler: handler.NewTransferHandler(eng),
		rankingHandler:  handler.NewRankingHandler(eng),
		adminHandler:    handler.NewAdminHandler(eng, deps.Config.Accounts.StartingBalance),
		gameHandler:     handler.NewGameHandler(eng, deps.Notifier),
		duelHandler:     handler.NewDuelHandler(eng),
		shopHandler:     handler.NewShopHandler(eng, deps.Shop),
	}

	b.registerMiddleware(eng)
	b.registerHandlers()

	return b
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware(eng *engine.Engine) {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware())
	b.bot.Use(AccountMiddleware(eng))
}

// registerHandlers registers all command and callback handlers.
func (b *Bot) registerHandlers() {
	// Account handlers
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/help", b.accountHandler.HandleHelp)
	b.bot.Handle("/balance", b.accountHandler.HandleBalance)
	b.bot.Handle("/daily", b.accountHandler.HandleDaily)
	b.bot.Handle("/weekly", b.accountHandler.HandleWeekly)
	b.bot.Handle("/history", b.accountHandler.HandleHistory)
	b.bot.Handle("/leaderboard", b.rankingHandler.HandleLeaderboard)
	b.bot.Handle("/gift", b.transferHandler.HandleGift)

	// Mines
	b.bot.Handle("/mine", b.gameHandler.HandleMine)
	b.bot.Handle("/cashout", b.gameHandler.HandleCashOut)
	b.bot.Handle("/end", b.gameHandler.HandleEnd)

	// Duels
	b.bot.Handle("/duel", b.duelHandler.HandleDuel)

	// Shop
	b.bot.Handle("/shop", b.shopHandler.HandleShop)
	b.bot.Handle("/buy", b.shopHandler.HandleBuy)
	b.bot.Handle("/theme", b.shopHandler.HandleTheme)

	// Admin handlers (with admin middleware)
	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/broadcast", b.adminHandler.HandleBroadcast)
	adminGroup.Handle("/resetdata", b.adminHandler.HandleResetData)
	adminGroup.Handle("/setbalance", b.adminHandler.HandleSetBalance)

	// Every inline button lands here
	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

// callbackRoute names the handler family for raw callback data.
func callbackRoute(data string) string {
	data = strings.TrimPrefix(data, "\f")
	switch {
	case strings.HasPrefix(data, "shop_"):
		return "shop"
	case strings.HasPrefix(data, "mines_"):
		return "mines"
	case strings.HasPrefix(data, "duel_"):
		return "duel"
	}
	return ""
}

// handleCallback routes callbacks to appropriate handlers
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	log.Debug().Str("data", callback.Data).Msg("Callback received")

	switch callbackRoute(callback.Data) {
	case "shop":
		return b.shopHandler.HandleCallback(c)
	case "mines":
		return b.gameHandler.HandleCallback(c)
	case "duel":
		return b.duelHandler.HandleCallback(c)
	}
	return c.Respond()
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Str("bot", b.bot.Me.Username).Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
