// Package exchange implements the offer/trade settlement engine: offers with
// escrow at creation, partial and full fills, and cancellation with refund.
// Every mutating operation runs as one transaction that locks each row it
// touches for the whole operation.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/hkanaan/sarraf/internal/apperr"
	"github.com/hkanaan/sarraf/internal/db"
	"github.com/hkanaan/sarraf/internal/ledger"
	"github.com/hkanaan/sarraf/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Listing directions, from the caller's perspective on USD.
const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// DefaultListLimit caps listings when the caller does not ask for a limit.
const DefaultListLimit = 20

// Book manages the offer lifecycle: create with escrow, list, cancel with
// refund.
type Book struct {
	db  *db.DB
	log zerolog.Logger
}

// NewBook creates an offer book backed by database.
func NewBook(database *db.DB, log zerolog.Logger) *Book {
	return &Book{db: database, log: log.With().Str("component", "offer_book").Logger()}
}

// Create validates the offer, debits the escrowed amount from the maker and
// inserts the offer, as one transaction. If the maker cannot cover the
// amount, nothing is created.
func (b *Book) Create(ctx context.Context, makerID int, from, to models.Currency, amount, rate decimal.Decimal) (*models.Offer, error) {
	if !from.Valid() {
		return nil, apperr.Validation("invalid from_currency %q", from)
	}
	if !to.Valid() {
		return nil, apperr.Validation("invalid to_currency %q", to)
	}
	if from == to {
		return nil, apperr.Validation("cannot exchange a currency for itself")
	}
	if amount.Sign() <= 0 {
		return nil, apperr.Validation("amount must be greater than 0")
	}
	if rate.Sign() <= 0 {
		return nil, apperr.Validation("exchange_rate must be greater than 0")
	}

	tx, err := b.db.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal("could not create offer", err)
	}
	defer tx.Rollback(ctx)

	// Escrow: the sold amount leaves the maker's balance now and lives in
	// the offer's amount_remaining until filled or cancelled.
	balance, err := ledger.LockForUpdate(ctx, tx, makerID)
	if err != nil {
		return nil, err
	}
	if err := balance.Debit(ctx, from, amount); err != nil {
		return nil, err
	}

	offer := &models.Offer{}
	err = tx.QueryRow(ctx,
		`INSERT INTO offers (user_id, from_currency, to_currency, amount_total, amount_remaining, exchange_rate, status)
		 VALUES ($1, $2, $3, $4, $4, $5, 'OPEN')
		 RETURNING `+offerColumns,
		makerID, from, to, amount, rate).Scan(offerFields(offer)...)
	if err != nil {
		return nil, apperr.Internal("could not create offer", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal("could not create offer", err)
	}

	b.log.Info().
		Int("offer_id", offer.ID).
		Int("maker_id", makerID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("amount", amount.String()).
		Str("rate", rate.String()).
		Msg("offer created")
	return offer, nil
}

// List returns fillable offers for one side of the market. "buy" means the
// caller wants to acquire USD, so it returns USD sellers cheapest first;
// "sell" returns LBP sellers paying the most LBP per USD first. The listing
// takes no locks and may be stale by the time a caller accepts; accept
// re-validates under the offer lock.
func (b *Book) List(ctx context.Context, direction string, limit int) ([]models.Offer, error) {
	if direction != DirectionBuy && direction != DirectionSell {
		return nil, apperr.Validation("direction must be %q or %q", DirectionBuy, DirectionSell)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	from, order := models.USD, "ASC"
	if direction == DirectionSell {
		from, order = models.LBP, "DESC"
	}

	rows, err := b.db.Pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM offers
		 WHERE from_currency = $1 AND status IN ('OPEN', 'PARTIAL') AND amount_remaining > 0
		 ORDER BY exchange_rate %s
		 LIMIT $2`, offerColumns, order),
		from, limit)
	if err != nil {
		return nil, apperr.Internal("could not list offers", err)
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		var o models.Offer
		if err := rows.Scan(offerFields(&o)...); err != nil {
			return nil, apperr.Internal("could not list offers", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("could not list offers", err)
	}
	return offers, nil
}

// Cancel terminates an offer and refunds its unfilled remainder to the
// maker, as one transaction. Only the maker may cancel, and only while the
// offer is still OPEN or PARTIAL.
func (b *Book) Cancel(ctx context.Context, offerID, requesterID int) (*models.Offer, error) {
	tx, err := b.db.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal("could not cancel offer", err)
	}
	defer tx.Rollback(ctx)

	offer, err := lockOffer(ctx, tx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.UserID != requesterID {
		return nil, apperr.Forbidden("only the offer owner can cancel the offer")
	}
	if !offer.Status.Acceptable() {
		return nil, apperr.InvalidState("offer cannot be cancelled (status=%s)", offer.Status)
	}

	// Release escrow: the remainder goes back to the maker in the currency
	// it was debited in.
	if offer.AmountRemaining.Sign() > 0 {
		balance, err := ledger.LockForUpdate(ctx, tx, offer.UserID)
		if err != nil {
			return nil, err
		}
		if err := balance.Credit(ctx, offer.FromCurrency, offer.AmountRemaining); err != nil {
			return nil, err
		}
	}

	_, err = tx.Exec(ctx,
		"UPDATE offers SET amount_remaining = 0, status = 'CANCELLED' WHERE id = $1",
		offer.ID)
	if err != nil {
		return nil, apperr.Internal("could not cancel offer", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal("could not cancel offer", err)
	}

	b.log.Info().
		Int("offer_id", offer.ID).
		Int("maker_id", offer.UserID).
		Str("refunded", offer.AmountRemaining.String()).
		Msg("offer cancelled")

	offer.AmountRemaining = decimal.Zero
	offer.Status = models.OfferCancelled
	return offer, nil
}

const offerColumns = "id, user_id, from_currency, to_currency, amount_total, amount_remaining, exchange_rate, status, created_at"

func offerFields(o *models.Offer) []interface{} {
	return []interface{}{
		&o.ID, &o.UserID, &o.FromCurrency, &o.ToCurrency,
		&o.AmountTotal, &o.AmountRemaining, &o.ExchangeRate, &o.Status, &o.CreatedAt,
	}
}

// lockOffer acquires an exclusive lock on the offer row within tx. All
// mutations to one offer serialize on this lock, which is what makes the
// check-then-decrement of amount_remaining race-free.
func lockOffer(ctx context.Context, tx pgx.Tx, offerID int) (*models.Offer, error) {
	offer := &models.Offer{}
	err := tx.QueryRow(ctx,
		"SELECT "+offerColumns+" FROM offers WHERE id = $1 FOR UPDATE",
		offerID).Scan(offerFields(offer)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("offer %d not found", offerID)
		}
		return nil, apperr.Internal("failed to lock offer", err)
	}
	return offer, nil
}
