package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mines-wager-bot/internal/model"
)

// Common errors for repository operations.
var (
	ErrAccountNotFound = errors.New("account not found")
)

const accountColumns = `id, username, first_name, balance, last_daily_claim, last_weekly_claim,
	owned_cosmetics, selected_cosmetic, created_at, updated_at`

// PostgresStore persists the ledger in PostgreSQL. Multi-account commits run
// inside one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
	txs  *TransactionRepository
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, txs: NewTransactionRepository(pool)}
}

// Load reads every account and known chat.
func (s *PostgresStore) Load(ctx context.Context) (*model.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	defer rows.Close()

	snap := model.NewSnapshot()
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		snap.Accounts[strconv.FormatInt(acc.ID, 10)] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	chats, err := s.loadChats(ctx)
	if err != nil {
		return nil, err
	}
	snap.Chats = chats

	return snap, nil
}

// GetByID retrieves one account.
// Returns ErrAccountNotFound if the account does not exist.
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return acc, nil
}

// Commit upserts the accounts and appends the journal atomically.
func (s *PostgresStore) Commit(ctx context.Context, accounts []*model.Account, journal []model.Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO accounts (id, username, first_name, balance, last_daily_claim, last_weekly_claim,
			owned_cosmetics, selected_cosmetic, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			balance = EXCLUDED.balance,
			last_daily_claim = EXCLUDED.last_daily_claim,
			last_weekly_claim = EXCLUDED.last_weekly_claim,
			owned_cosmetics = EXCLUDED.owned_cosmetics,
			selected_cosmetic = EXCLUDED.selected_cosmetic,
			updated_at = EXCLUDED.updated_at
	`

	batch := &pgx.Batch{}
	for _, acc := range accounts {
		owned := acc.OwnedCosmetics
		if owned == nil {
			owned = []string{}
		}
		batch.Queue(upsert,
			acc.ID, acc.Username, acc.FirstName, acc.Balance,
			acc.LastDailyClaim, acc.LastWeeklyClaim,
			owned, acc.SelectedCosmetic, acc.CreatedAt, acc.UpdatedAt,
		)
	}
	for _, j := range journal {
		batch.Queue(insertTransaction, j.AccountID, j.Amount, j.Type, j.Description, j.CreatedAt)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write ledger batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ledger: %w", err)
	}
	return nil
}

// AddChat records a chat for broadcasts.
func (s *PostgresStore) AddChat(ctx context.Context, chatID int64) error {
	const query = `INSERT INTO known_chats (chat_id) VALUES ($1) ON CONFLICT DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, chatID); err != nil {
		return fmt.Errorf("failed to add chat: %w", err)
	}
	return nil
}

// History returns the newest journal lines for an account.
func (s *PostgresStore) History(ctx context.Context, accountID int64, limit int) ([]model.Transaction, error) {
	return s.txs.ListByAccount(ctx, accountID, limit)
}

func (s *PostgresStore) loadChats(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT chat_id FROM known_chats ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load chats: %w", err)
	}
	chats, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan chats: %w", err)
	}
	if chats == nil {
		chats = []int64{}
	}
	return chats, nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var acc model.Account
	err := row.Scan(
		&acc.ID,
		&acc.Username,
		&acc.FirstName,
		&acc.Balance,
		&acc.LastDailyClaim,
		&acc.LastWeeklyClaim,
		&acc.OwnedCosmetics,
		&acc.SelectedCosmetic,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &acc, nil
}
