// Package config provides configuration management using viper.
// Values come from an optional YAML file, a .env file and environment variables.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

// House duel policies.
const (
	HousePolicyRandom   = "random"
	HousePolicyBlocking = "blocking"
)

// Config holds all application configuration.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Accounts  AccountsConfig  `mapstructure:"accounts"`
	Bonus     BonusConfig     `mapstructure:"bonus"`
	Games     GamesConfig     `mapstructure:"games"`
	Locks     LocksConfig     `mapstructure:"locks"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token       string        `mapstructure:"token"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// AccountsConfig holds ledger account defaults.
type AccountsConfig struct {
	StartingBalance int64 `mapstructure:"starting_balance"`
	HouseID         int64 `mapstructure:"house_id"`
	HouseBalance    int64 `mapstructure:"house_balance"`
}

// BonusConfig holds the periodic bonus amounts and cooldowns.
type BonusConfig struct {
	DailyAmount    int64         `mapstructure:"daily_amount"`
	DailyCooldown  time.Duration `mapstructure:"daily_cooldown"`
	WeeklyAmount   int64         `mapstructure:"weekly_amount"`
	WeeklyCooldown time.Duration `mapstructure:"weekly_cooldown"`
}

// GamesConfig holds game-specific configuration.
type GamesConfig struct {
	Mines MinesConfig `mapstructure:"mines"`
	Duel  DuelConfig  `mapstructure:"duel"`
}

// MinesConfig holds Mines game configuration.
type MinesConfig struct {
	MinStake            int64   `mapstructure:"min_stake"`
	MaxStake            int64   `mapstructure:"max_stake"` // 0 means unlimited
	MinMines            int     `mapstructure:"min_mines"`
	MaxMines            int     `mapstructure:"max_mines"`
	MinRevealsToCashOut int     `mapstructure:"min_reveals_to_cashout"`
	BaseRate            float64 `mapstructure:"base_rate"`
	DensityRate         float64 `mapstructure:"density_rate"`
}

// DuelConfig holds two-player turn game configuration.
type DuelConfig struct {
	MinStake      int64         `mapstructure:"min_stake"`
	FeePercent    float64       `mapstructure:"fee_percent"`
	InvitationTTL time.Duration `mapstructure:"invitation_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	HousePolicy   string        `mapstructure:"house_policy"` // random | blocking
}

// LocksConfig bounds how long an action waits for a busy player or account.
type LocksConfig struct {
	Timeout time.Duration `mapstructure:"timeout"` // 0 waits without limit
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in configPath, the working directory and ./config.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. BOT_TOKEN, STORAGE_DRIVER, GAMES_DUEL_FEE_PERCENT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.poll_timeout", "10s")
	v.SetDefault("log.level", "info")

	v.SetDefault("storage.driver", StorageFile)
	v.SetDefault("storage.path", "data/users.json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "minesbot")
	v.SetDefault("database.name", "minesbot")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("accounts.starting_balance", 100)
	v.SetDefault("accounts.house_id", -1)
	v.SetDefault("accounts.house_balance", 1_000_000)

	v.SetDefault("bonus.daily_amount", 50)
	v.SetDefault("bonus.daily_cooldown", "24h")
	v.SetDefault("bonus.weekly_amount", 200)
	v.SetDefault("bonus.weekly_cooldown", "168h")

	v.SetDefault("games.mines.min_stake", 1)
	v.SetDefault("games.mines.max_stake", 0)
	v.SetDefault("games.mines.min_mines", 3)
	v.SetDefault("games.mines.max_mines", 24)
	v.SetDefault("games.mines.min_reveals_to_cashout", 2)
	v.SetDefault("games.mines.base_rate", 0.25)
	v.SetDefault("games.mines.density_rate", 0.5)

	v.SetDefault("games.duel.min_stake", 1)
	v.SetDefault("games.duel.fee_percent", 5)
	v.SetDefault("games.duel.invitation_ttl", "2m")
	v.SetDefault("games.duel.sweep_interval", "10s")
	v.SetDefault("games.duel.house_policy", HousePolicyRandom)

	v.SetDefault("locks.timeout", "5s")

	v.SetDefault("metrics.addr", ":9090")
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageFile, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	m := c.Games.Mines
	if m.MinMines < 1 || m.MaxMines > 24 || m.MinMines > m.MaxMines {
		return fmt.Errorf("invalid mine count range %d..%d", m.MinMines, m.MaxMines)
	}
	if c.Games.Duel.FeePercent < 0 || c.Games.Duel.FeePercent >= 100 {
		return fmt.Errorf("invalid duel fee percent %v", c.Games.Duel.FeePercent)
	}
	switch c.Games.Duel.HousePolicy {
	case HousePolicyRandom, HousePolicyBlocking:
	default:
		return fmt.Errorf("unknown house policy %q", c.Games.Duel.HousePolicy)
	}
	if c.Accounts.StartingBalance < 0 {
		return fmt.Errorf("starting balance must not be negative")
	}
	if c.Locks.Timeout < 0 {
		return fmt.Errorf("lock timeout must not be negative")
	}
	return nil
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	return slices.Contains(c.Admin.IDs, userID)
}

// IsChatAllowed checks if a chat ID is in the whitelist.
// Empty whitelist means all chats are allowed.
func (c *Config) IsChatAllowed(chatID int64) bool {
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	return slices.Contains(c.Whitelist.Chats, chatID)
}
