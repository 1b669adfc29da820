// Package ledger owns per-user two-currency balances. Balances are only ever
// mutated through a Balance handle obtained with LockForUpdate inside a
// caller-owned transaction, so all mutations to one balance are totally
// ordered by the row lock and become durable only when the caller commits.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/hkanaan/sarraf/internal/apperr"
	"github.com/hkanaan/sarraf/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Balance is an exclusively locked balance row. It is valid only for the
// lifetime of the transaction it was locked in.
type Balance struct {
	UserID    int
	USD       decimal.Decimal
	LBP       decimal.Decimal
	UpdatedAt time.Time

	tx pgx.Tx
}

// LockForUpdate acquires an exclusive lock on the user's balance row within
// tx, blocking while another transaction holds it.
func LockForUpdate(ctx context.Context, tx pgx.Tx, userID int) (*Balance, error) {
	b := &Balance{tx: tx}
	err := tx.QueryRow(ctx,
		"SELECT user_id, usd_amount, lbp_amount, updated_at FROM user_balances WHERE user_id = $1 FOR UPDATE",
		userID).Scan(&b.UserID, &b.USD, &b.LBP, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("balance not found for user %d", userID)
		}
		return nil, apperr.Internal("failed to lock balance", err)
	}
	return b, nil
}

// LockPair locks two balance rows, always in ascending user-id order
// regardless of argument order. Every call site that needs two balances must
// go through here; locking in any other order can deadlock against a
// concurrent settlement running with the roles reversed.
func LockPair(ctx context.Context, tx pgx.Tx, firstID, secondID int) (*Balance, *Balance, error) {
	lo, hi := firstID, secondID
	if lo > hi {
		lo, hi = hi, lo
	}

	loBal, err := LockForUpdate(ctx, tx, lo)
	if err != nil {
		return nil, nil, err
	}
	hiBal, err := LockForUpdate(ctx, tx, hi)
	if err != nil {
		return nil, nil, err
	}

	if firstID == lo {
		return loBal, hiBal, nil
	}
	return hiBal, loBal, nil
}

// Amount returns the held amount of currency.
func (b *Balance) Amount(currency models.Currency) decimal.Decimal {
	if currency == models.USD {
		return b.USD
	}
	return b.LBP
}

// Debit decreases the balance of currency by amount. Fails with
// InsufficientFunds if the balance would go negative; nothing is written in
// that case.
func (b *Balance) Debit(ctx context.Context, currency models.Currency, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return apperr.Validation("debit amount must be greater than 0")
	}
	if b.Amount(currency).LessThan(amount) {
		return apperr.InsufficientFunds("insufficient %s balance: required %s, available %s",
			currency, amount, b.Amount(currency))
	}
	return b.apply(ctx, currency, b.Amount(currency).Sub(amount))
}

// Credit increases the balance of currency by amount.
func (b *Balance) Credit(ctx context.Context, currency models.Currency, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return apperr.Validation("credit amount must be greater than 0")
	}
	return b.apply(ctx, currency, b.Amount(currency).Add(amount))
}

func (b *Balance) apply(ctx context.Context, currency models.Currency, next decimal.Decimal) error {
	column := "usd_amount"
	if currency == models.LBP {
		column = "lbp_amount"
	}

	var updatedAt time.Time
	err := b.tx.QueryRow(ctx,
		"UPDATE user_balances SET "+column+" = $1, updated_at = now() WHERE user_id = $2 RETURNING updated_at",
		next, b.UserID).Scan(&updatedAt)
	if err != nil {
		return apperr.Internal("failed to update balance", err)
	}

	if currency == models.USD {
		b.USD = next
	} else {
		b.LBP = next
	}
	b.UpdatedAt = updatedAt
	return nil
}

// Snapshot returns the balance as a plain record.
func (b *Balance) Snapshot() models.UserBalance {
	return models.UserBalance{
		UserID:    b.UserID,
		USDAmount: b.USD,
		LBPAmount: b.LBP,
		UpdatedAt: b.UpdatedAt,
	}
}
