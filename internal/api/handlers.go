package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hkanaan/sarraf/internal/apperr"
	"github.com/hkanaan/sarraf/internal/auth"
	"github.com/hkanaan/sarraf/internal/db"
	"github.com/hkanaan/sarraf/internal/exchange"
	"github.com/hkanaan/sarraf/internal/models"
	"github.com/hkanaan/sarraf/internal/rates"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const maxListLimit = 100

type ctxKey int

const userIDKey ctxKey = iota

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB       *db.DB
	Auth     *auth.Service
	Book     *exchange.Book
	Executor *exchange.Executor
	Rates    *rates.Service

	log      zerolog.Logger
	validate *validator.Validate
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, authService *auth.Service, book *exchange.Book, executor *exchange.Executor, rateService *rates.Service, log zerolog.Logger) *Handler {
	return &Handler{
		DB:       database,
		Auth:     authService,
		Book:     book,
		Executor: executor,
		Rates:    rateService,
		log:      log.With().Str("component", "api").Logger(),
		validate: validator.New(),
	}
}

type credentialsRequest struct {
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required,max=100"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUsernameTaken) {
			h.writeErrorStatus(w, http.StatusConflict, "username already exists")
			return
		}
		h.log.Error().Err(err).Msg("registration failed")
		h.writeErrorStatus(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeErrorStatus(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT bearer tokens and stores the caller's user
// id in the request context.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := h.callerFromHeader(r)
		if !ok {
			h.writeErrorStatus(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) callerFromHeader(r *http.Request) (int, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return 0, false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return 0, false
	}
	userID, err := h.Auth.UserFromToken(token)
	if err != nil {
		return 0, false
	}
	return userID, true
}

func callerID(r *http.Request) (int, bool) {
	userID, ok := r.Context().Value(userIDKey).(int)
	return userID, ok
}

type createOfferRequest struct {
	FromCurrency string          `json:"from_currency" validate:"required"`
	ToCurrency   string          `json:"to_currency" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

// CreateOffer posts a new offer, escrowing the sold amount.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	makerID, ok := callerID(r)
	if !ok {
		h.writeErrorStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createOfferRequest
	if !h.decode(w, r, &req) {
		return
	}

	offer, err := h.Book.Create(r.Context(), makerID,
		models.Currency(strings.ToUpper(req.FromCurrency)),
		models.Currency(strings.ToUpper(req.ToCurrency)),
		req.Amount, req.ExchangeRate)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "offer created",
		"offer":   offer,
	})
}

// ListOffers returns fillable offers for one side of the market.
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	direction := strings.ToLower(r.URL.Query().Get("direction"))

	limit := exchange.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeErrorStatus(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	offers, err := h.Book.List(r.Context(), direction, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	h.writeJSON(w, http.StatusOK, offers)
}

// MyOffers returns the caller's own offers, newest first.
func (h *Handler) MyOffers(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		h.writeErrorStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	offers, err := h.DB.GetUserOffers(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get user offers")
		h.writeErrorStatus(w, http.StatusInternalServerError, "failed to retrieve offers")
		return
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	h.writeJSON(w, http.StatusOK, offers)
}

type acceptOfferRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// AcceptOffer fills part or all of an offer on behalf of the caller.
func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	takerID, ok := callerID(r)
	if !ok {
		h.writeErrorStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	offerID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		h.writeErrorStatus(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	var req acceptOfferRequest
	if !h.decode(w, r, &req) {
		return
	}

	fill, err := h.Executor.Accept(r.Context(), offerID, takerID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":          "offer accepted",
		"trade_id":         fill.Trade.ID,
		"offer_status":     fill.Offer.Status,
		"amount_remaining": fill.Offer.AmountRemaining,
	})
}

// CancelOffer cancels the caller's offer and refunds the remainder.
func (h *Handler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := callerID(r)
	if !ok {
		h.writeErrorStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	offerID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		h.writeErrorStatus(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	offer, err := h.Book.Cancel(r.Context(), offerID, requesterID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "offer cancelled",
		"offer_id": offer.ID,
	})
}

// MyTrades returns trades where the caller was maker or taker.
func (h *Handler) MyTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		h.writeErrorStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	trades, err := h.DB.GetUserTrades(r.Context(), userID, 100)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get user trades")
		h.writeErrorStatus(w, http.StatusInternalServerError, "failed to retrieve trades")
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

// MyBalance returns the caller's balance snapshot.
func (h *Handler) MyBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		h.writeErrorStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	balance, err := h.DB.GetBalance(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get balance")
		h.writeErrorStatus(w, http.StatusInternalServerError, "failed to retrieve balance")
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

type createTransactionRequest struct {
	USDAmount decimal.Decimal `json:"usd_amount"`
	LBPAmount decimal.Decimal `json:"lbp_amount"`
	USDToLBP  *bool           `json:"usd_to_lbp" validate:"required"`
}

// CreateTransaction records an off-platform conversion. Anonymous callers
// are allowed; authenticated ones get the record attributed to them.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.USDAmount.Sign() <= 0 || req.LBPAmount.Sign() <= 0 {
		h.writeErrorStatus(w, http.StatusBadRequest, "amounts must be greater than 0")
		return
	}

	var userID *int
	if id, ok := h.callerFromHeader(r); ok {
		userID = &id
	}

	txn, err := h.DB.CreateTransaction(r.Context(), &models.Transaction{
		USDAmount: req.USDAmount,
		LBPAmount: req.LBPAmount,
		USDToLBP:  *req.USDToLBP,
		UserID:    userID,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create transaction")
		h.writeErrorStatus(w, http.StatusInternalServerError, "failed to record transaction")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":     "transaction recorded",
		"transaction": txn,
	})
}

// MyTransactions returns the caller's conversion records.
func (h *Handler) MyTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		h.writeErrorStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	txns, err := h.DB.GetUserTransactions(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get transactions")
		h.writeErrorStatus(w, http.StatusInternalServerError, "failed to retrieve transactions")
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}

// ExchangeRate returns volume-weighted average rates over the trailing 72h.
func (h *Handler) ExchangeRate(w http.ResponseWriter, r *http.Request) {
	pair, err := h.Rates.Current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pair)
}

// ExchangeRateAnalytics returns per-direction rate statistics for a window.
func (h *Handler) ExchangeRateAnalytics(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.parseWindow(w, r)
	if !ok {
		return
	}

	usdToLBP, lbpToUSD, err := h.Rates.Analytics(r.Context(), start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"usd_to_lbp": usdToLBP,
		"lbp_to_usd": lbpToUSD,
	})
}

// ExchangeRateHistory returns a rate series bucketed by hour or day.
func (h *Handler) ExchangeRateHistory(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.parseWindow(w, r)
	if !ok {
		return
	}
	interval := r.URL.Query().Get("interval")

	usdToLBP, lbpToUSD, err := h.Rates.History(r.Context(), start, end, interval)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"usd_to_lbp": usdToLBP,
		"lbp_to_usd": lbpToUSD,
	})
}

// parseWindow reads optional start/end query params as YYYY-MM-DD dates,
// defaulting to the trailing three days.
func (h *Handler) parseWindow(w http.ResponseWriter, r *http.Request) (start, end time.Time, ok bool) {
	now := time.Now().UTC()
	start, end = now.Add(-rates.DefaultWindow), now

	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.writeErrorStatus(w, http.StatusBadRequest, "invalid date format, use YYYY-MM-DD")
			return start, end, false
		}
		start = parsed
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.writeErrorStatus(w, http.StatusBadRequest, "invalid date format, use YYYY-MM-DD")
			return start, end, false
		}
		end = parsed
	}
	return start, end, true
}

// decode parses and validates a JSON request body. On failure it writes a
// 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeErrorStatus(w, http.StatusBadRequest, "missing or invalid fields: "+err.Error())
		return false
	}
	return true
}

// writeError translates a coded failure into an HTTP response. Internal
// failures are logged with their cause and surfaced without it.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if apperr.CodeOf(err) == apperr.CodeInternal {
		h.log.Error().Err(err).Msg("internal failure")
	}
	h.writeJSON(w, apperr.HTTPStatus(err), map[string]string{"error": apperr.MessageOf(err)})
}

func (h *Handler) writeErrorStatus(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}
