package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is one of the two sides of the market.
type Currency string

const (
	USD Currency = "USD"
	LBP Currency = "LBP"
)

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	return c == USD || c == LBP
}

// Other returns the counter currency.
func (c Currency) Other() Currency {
	if c == USD {
		return LBP
	}
	return USD
}

// OfferStatus tracks an offer through its lifecycle. FILLED and CANCELLED
// are terminal.
type OfferStatus string

const (
	OfferOpen      OfferStatus = "OPEN"
	OfferPartial   OfferStatus = "PARTIAL"
	OfferFilled    OfferStatus = "FILLED"
	OfferCancelled OfferStatus = "CANCELLED"
)

// Acceptable reports whether the offer can still be filled or cancelled.
func (s OfferStatus) Acceptable() bool {
	return s == OfferOpen || s == OfferPartial
}

// User represents a registered user
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserBalance is a user's spendable holdings in both currencies. Amounts
// escrowed by open offers are not part of the balance until released by a
// fill or a cancellation.
type UserBalance struct {
	UserID    int             `json:"user_id"`
	USDAmount decimal.Decimal `json:"usd_amount"`
	LBPAmount decimal.Decimal `json:"lbp_amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Offer is a standing commitment by its maker to sell AmountTotal of
// FromCurrency for ToCurrency at ExchangeRate (units of ToCurrency per unit
// of FromCurrency). The sold amount is debited from the maker when the offer
// is created and held as AmountRemaining until filled or cancelled.
type Offer struct {
	ID              int             `json:"id"`
	UserID          int             `json:"user_id"`
	FromCurrency    Currency        `json:"from_currency"`
	ToCurrency      Currency        `json:"to_currency"`
	AmountTotal     decimal.Decimal `json:"amount_total"`
	AmountRemaining decimal.Decimal `json:"amount_remaining"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	Status          OfferStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Trade is an immutable record of one fill. AmountFrom is what the taker
// acquired (in the offer's from currency), AmountTo what the taker paid.
// Direction is from the taker's perspective: "buy" or "sell" USD.
type Trade struct {
	ID           int             `json:"id"`
	OfferID      int             `json:"offer_id"`
	MakerID      int             `json:"maker_id"`
	TakerID      int             `json:"taker_id"`
	AmountFrom   decimal.Decimal `json:"amount_from"`
	AmountTo     decimal.Decimal `json:"amount_to"`
	ExecutedRate decimal.Decimal `json:"executed_rate"`
	Direction    string          `json:"direction"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Transaction is an append-only record of a currency conversion, used for
// exchange-rate statistics. UserID is nil for anonymous recordings.
type Transaction struct {
	ID        int             `json:"id"`
	USDAmount decimal.Decimal `json:"usd_amount"`
	LBPAmount decimal.Decimal `json:"lbp_amount"`
	USDToLBP  bool            `json:"usd_to_lbp"`
	UserID    *int            `json:"user_id"`
	AddedDate time.Time       `json:"added_date"`
}
