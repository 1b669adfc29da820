package db

import (
	"context"
	"fmt"
	"time"

	"github.com/hkanaan/sarraf/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Begin starts a unit-of-work transaction. The caller owns it: commit once
// at the end, rollback on every other path.
func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// CreateUser inserts a new user together with a zero balance row, as one
// transaction. Every user has a balance row for its whole lifetime.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	user := &models.User{}
	err = tx.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	_, err = tx.Exec(ctx, "INSERT INTO user_balances (user_id) VALUES ($1)", user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetBalance retrieves a user's balance without locking it. The snapshot may
// be stale by the time the caller acts on it.
func (db *DB) GetBalance(ctx context.Context, userID int) (*models.UserBalance, error) {
	bal := &models.UserBalance{}
	err := db.Pool.QueryRow(ctx,
		"SELECT user_id, usd_amount, lbp_amount, updated_at FROM user_balances WHERE user_id = $1",
		userID).Scan(&bal.UserID, &bal.USDAmount, &bal.LBPAmount, &bal.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return bal, nil
}

const offerColumns = "id, user_id, from_currency, to_currency, amount_total, amount_remaining, exchange_rate, status, created_at"

func scanOffers(rows pgx.Rows) ([]models.Offer, error) {
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		var o models.Offer
		if err := rows.Scan(&o.ID, &o.UserID, &o.FromCurrency, &o.ToCurrency,
			&o.AmountTotal, &o.AmountRemaining, &o.ExchangeRate, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offers, nil
}

// GetUserOffers retrieves all offers created by a user, newest first.
func (db *DB) GetUserOffers(ctx context.Context, userID int) ([]models.Offer, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+offerColumns+" FROM offers WHERE user_id = $1 ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user offers: %w", err)
	}
	return scanOffers(rows)
}

// GetOpenOffers retrieves every offer that can still be filled.
func (db *DB) GetOpenOffers(ctx context.Context) ([]models.Offer, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+offerColumns+" FROM offers WHERE status IN ('OPEN', 'PARTIAL') AND amount_remaining > 0 ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to get open offers: %w", err)
	}
	return scanOffers(rows)
}

// GetUserTrades retrieves trades where the user was maker or taker, newest
// first.
func (db *DB) GetUserTrades(ctx context.Context, userID, limit int) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, offer_id, maker_id, taker_id, amount_from, amount_to, executed_rate, direction, created_at
		 FROM trades WHERE maker_id = $1 OR taker_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get user trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.OfferID, &t.MakerID, &t.TakerID,
			&t.AmountFrom, &t.AmountTo, &t.ExecutedRate, &t.Direction, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}

// CreateTransaction records a currency conversion outside the settlement
// path (a direct exchange reported by a caller, possibly anonymous).
func (db *DB) CreateTransaction(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	created := &models.Transaction{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO transactions (usd_amount, lbp_amount, usd_to_lbp, user_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, usd_amount, lbp_amount, usd_to_lbp, user_id, added_date`,
		txn.USDAmount, txn.LBPAmount, txn.USDToLBP, txn.UserID).Scan(
		&created.ID, &created.USDAmount, &created.LBPAmount, &created.USDToLBP,
		&created.UserID, &created.AddedDate)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return created, nil
}

// GetUserTransactions retrieves all conversions recorded for a user.
func (db *DB) GetUserTransactions(ctx context.Context, userID int) ([]models.Transaction, error) {
	return db.queryTransactions(ctx,
		`SELECT id, usd_amount, lbp_amount, usd_to_lbp, user_id, added_date
		 FROM transactions WHERE user_id = $1 ORDER BY added_date DESC`, userID)
}

// GetTransactionsBetween retrieves conversions in [start, end) for one
// direction, oldest first.
func (db *DB) GetTransactionsBetween(ctx context.Context, start, end time.Time, usdToLBP bool) ([]models.Transaction, error) {
	return db.queryTransactions(ctx,
		`SELECT id, usd_amount, lbp_amount, usd_to_lbp, user_id, added_date
		 FROM transactions
		 WHERE added_date >= $1 AND added_date < $2 AND usd_to_lbp = $3
		 ORDER BY added_date ASC`, start, end, usdToLBP)
}

func (db *DB) queryTransactions(ctx context.Context, sql string, args ...interface{}) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.USDAmount, &t.LBPAmount, &t.USDToLBP, &t.UserID, &t.AddedDate); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txns, nil
}
