package exchange

import (
	"context"

	"github.com/hkanaan/sarraf/internal/apperr"
	"github.com/hkanaan/sarraf/internal/db"
	"github.com/hkanaan/sarraf/internal/ledger"
	"github.com/hkanaan/sarraf/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Executor settles accepted offers. Each Accept call is one transaction that
// locks the offer and both balances, moves funds, records the trade and
// updates the offer.
type Executor struct {
	db  *db.DB
	log zerolog.Logger
}

// NewExecutor creates a trade executor backed by database.
func NewExecutor(database *db.DB, log zerolog.Logger) *Executor {
	return &Executor{db: database, log: log.With().Str("component", "trade_executor").Logger()}
}

// Fill is the outcome of a successful Accept.
type Fill struct {
	Trade models.Trade `json:"trade"`
	Offer models.Offer `json:"offer"`
}

// Accept fills amount of the offer on behalf of takerID.
//
// The offer row is locked before any remaining-amount check, so concurrent
// accepts against the same offer serialize and can never oversell it. The
// two balance rows are then locked in ascending user-id order; the maker's
// side was escrowed at creation, so only the taker's balance is checked.
func (e *Executor) Accept(ctx context.Context, offerID, takerID int, amount decimal.Decimal) (*Fill, error) {
	if amount.Sign() <= 0 {
		return nil, apperr.Validation("amount must be greater than 0")
	}

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal("could not accept offer", err)
	}
	defer tx.Rollback(ctx)

	offer, err := lockOffer(ctx, tx, offerID)
	if err != nil {
		return nil, err
	}
	if !offer.Status.Acceptable() {
		return nil, apperr.InvalidState("offer is not available (status=%s)", offer.Status)
	}
	if offer.UserID == takerID {
		return nil, apperr.Forbidden("cannot accept your own offer")
	}
	if amount.GreaterThan(offer.AmountRemaining) {
		return nil, apperr.Validation("requested amount exceeds remaining offer (%s)", offer.AmountRemaining)
	}

	takerBalance, makerBalance, err := ledger.LockPair(ctx, tx, takerID, offer.UserID)
	if err != nil {
		return nil, err
	}

	// The taker pays counterAmount in the offer's to currency and receives
	// amount in its from currency; the maker receives counterAmount. The
	// maker's from-currency side was already debited at creation.
	counterAmount := amount.Mul(offer.ExchangeRate)
	payCurrency := offer.ToCurrency
	receiveCurrency := offer.FromCurrency

	if takerBalance.Amount(payCurrency).LessThan(counterAmount) {
		return nil, apperr.InsufficientFunds("insufficient %s balance: required %s, available %s",
			payCurrency, counterAmount, takerBalance.Amount(payCurrency))
	}

	if err := takerBalance.Debit(ctx, payCurrency, counterAmount); err != nil {
		return nil, err
	}
	if err := takerBalance.Credit(ctx, receiveCurrency, amount); err != nil {
		return nil, err
	}
	if err := makerBalance.Credit(ctx, payCurrency, counterAmount); err != nil {
		return nil, err
	}

	// Direction and conversion record are from the taker's perspective.
	direction := DirectionBuy
	usdToLBP := false
	usdAmount, lbpAmount := amount, counterAmount
	if offer.FromCurrency == models.LBP {
		direction = DirectionSell
		usdToLBP = true
		usdAmount, lbpAmount = counterAmount, amount
	}

	trade := models.Trade{}
	err = tx.QueryRow(ctx,
		`INSERT INTO trades (offer_id, maker_id, taker_id, amount_from, amount_to, executed_rate, direction)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, offer_id, maker_id, taker_id, amount_from, amount_to, executed_rate, direction, created_at`,
		offer.ID, offer.UserID, takerID, amount, counterAmount, offer.ExchangeRate, direction).Scan(
		&trade.ID, &trade.OfferID, &trade.MakerID, &trade.TakerID,
		&trade.AmountFrom, &trade.AmountTo, &trade.ExecutedRate, &trade.Direction, &trade.CreatedAt)
	if err != nil {
		return nil, apperr.Internal("could not accept offer", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO transactions (usd_amount, lbp_amount, usd_to_lbp, user_id) VALUES ($1, $2, $3, $4)",
		usdAmount, lbpAmount, usdToLBP, takerID)
	if err != nil {
		return nil, apperr.Internal("could not accept offer", err)
	}

	offer.AmountRemaining = offer.AmountRemaining.Sub(amount)
	if offer.AmountRemaining.IsZero() {
		offer.Status = models.OfferFilled
	} else {
		offer.Status = models.OfferPartial
	}

	_, err = tx.Exec(ctx,
		"UPDATE offers SET amount_remaining = $1, status = $2 WHERE id = $3",
		offer.AmountRemaining, offer.Status, offer.ID)
	if err != nil {
		return nil, apperr.Internal("could not accept offer", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal("could not accept offer", err)
	}

	e.log.Info().
		Int("trade_id", trade.ID).
		Int("offer_id", offer.ID).
		Int("maker_id", offer.UserID).
		Int("taker_id", takerID).
		Str("amount", amount.String()).
		Str("counter_amount", counterAmount.String()).
		Str("rate", offer.ExchangeRate.String()).
		Str("offer_status", string(offer.Status)).
		Msg("trade executed")

	return &Fill{Trade: trade, Offer: *offer}, nil
}
