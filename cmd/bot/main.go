// Package main is the entry point for the Mines wager bot.
package main

import (
	"context"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/bot"
	"mines-wager-bot/internal/config"
	"mines-wager-bot/internal/engine"
	"mines-wager-bot/internal/game/mines"
	"mines-wager-bot/internal/game/tictactoe"
	"mines-wager-bot/internal/handler"
	"mines-wager-bot/internal/ledger"
	"mines-wager-bot/internal/metrics"
	"mines-wager-bot/internal/pkg/db"
	"mines-wager-bot/internal/repository"
	"mines-wager-bot/internal/shop"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("storage", cfg.Storage.Driver).
		Str("house_policy", cfg.Games.Duel.HousePolicy).
		Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, health, closeStore := openStore(ctx, cfg)
	defer closeStore()

	led, err := ledger.New(ctx, store, ledger.Config{
		StartingBalance: cfg.Accounts.StartingBalance,
		HouseID:         cfg.Accounts.HouseID,
		HouseBalance:    cfg.Accounts.HouseBalance,
		DailyAmount:     cfg.Bonus.DailyAmount,
		DailyCooldown:   cfg.Bonus.DailyCooldown,
		WeeklyAmount:    cfg.Bonus.WeeklyAmount,
		WeeklyCooldown:  cfg.Bonus.WeeklyCooldown,
		LockTimeout:     cfg.Locks.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger")
	}

	teleBot, err := bot.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}
	notifier := handler.NewNotifier(teleBot, led)

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	eng := engine.New(led, notifier, engineConfig(cfg),
		engine.WithRand(rng),
		engine.WithHousePolicy(housePolicy(cfg.Games.Duel.HousePolicy)),
	)

	telegramBot := bot.New(teleBot, &bot.Dependencies{
		Config:   cfg,
		Engine:   eng,
		Shop:     shop.NewService(led),
		Notifier: notifier,
	})

	go metrics.NewServer(cfg.Metrics.Addr, health).Run(ctx)
	go eng.Run(ctx, cfg.Games.Duel.SweepInterval)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start bot in a goroutine
	go func() {
		log.Info().Msg("Bot is starting...")
		telegramBot.Start()
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	telegramBot.Stop()
	cancel()
	log.Info().Msg("Bot stopped gracefully")
}

// openStore picks the ledger backend. The returned health check is nil for
// the file store.
func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, metrics.HealthFunc, func()) {
	if cfg.Storage.Driver != config.StoragePostgres {
		log.Info().Str("path", cfg.Storage.Path).Msg("Using file storage")
		return repository.NewFileStore(cfg.Storage.Path), nil, func() {}
	}

	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := repository.Migrate(ctx, pool.Pool); err != nil {
		pool.Close()
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	return repository.NewPostgresStore(pool.Pool), pool.HealthCheck, pool.Close
}

func engineConfig(cfg *config.Config) engine.Config {
	m, d := cfg.Games.Mines, cfg.Games.Duel
	return engine.Config{
		MinesMinStake:       m.MinStake,
		MinesMaxStake:       m.MaxStake,
		MinMines:            m.MinMines,
		MaxMines:            m.MaxMines,
		MinRevealsToCashOut: m.MinRevealsToCashOut,
		Coefficients:        mines.Coefficients{Base: m.BaseRate, Density: m.DensityRate},
		DuelMinStake:        d.MinStake,
		FeePercent:          d.FeePercent,
		InvitationTTL:       d.InvitationTTL,
		LockTimeout:         cfg.Locks.Timeout,
	}
}

// housePolicy builds the house's duel policy on its own random source; the
// engine's source is guarded by the engine.
func housePolicy(name string) tictactoe.Policy {
	random := tictactoe.NewRandomPolicy(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	if name == config.HousePolicyBlocking {
		return tictactoe.BlockingPolicy{Fallback: random}
	}
	return random
}
