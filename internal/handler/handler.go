// Package handler contains the HTTP handlers of the feiramais core API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/feiramais/feiramais-core/internal/catalog"
	"github.com/feiramais/feiramais-core/internal/middleware"
	"github.com/feiramais/feiramais-core/internal/model"
	"github.com/feiramais/feiramais-core/internal/repository"
	"github.com/feiramais/feiramais-core/internal/service"
)

// Service defines the business logic contract used by the HTTP handlers.
type Service interface {
	RegisterUser(ctx context.Context, login, password, referralCode string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	GetCart(ctx context.Context, userID int64) (*model.Cart, []model.CartLine, *model.CartSummary, error)
	AddItem(ctx context.Context, userID, productID int64, qty int) (*model.CartLine, error)
	UpdateItemQuantity(ctx context.Context, userID, lineID int64, qty int) error
	RemoveItem(ctx context.Context, userID, lineID int64) error
	ClearCart(ctx context.Context, userID int64) error
	Checkout(ctx context.Context, userID int64) (*model.Order, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetTransactions(ctx context.Context, userID int64) ([]model.PointsTransaction, error)
	RecordTransaction(ctx context.Context, userID int64, amount int64, cause model.TransactionCause, referenceID string) error
	AuditUserPoints(ctx context.Context, userID int64) (*model.AuditResult, error)
	AutoFixDiscrepancies(ctx context.Context, userID int64) (*model.AuditResult, error)
	CalculateTransactionSummary(ctx context.Context, userID int64) (*model.TransactionSummary, error)
	ProcessReferral(ctx context.Context, newUserID int64, code string) (*model.Referral, error)
}

// Handler implements the HTTP handlers of the feiramais core API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler instance.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login        string `json:"login"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code,omitempty"`
}

// Register handles the registration of a new user, optionally applying a
// referral code.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, req.ReferralCode)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login authenticates the user and sets the auth cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type cartLineResponse struct {
	ID             int64 `json:"id"`
	ProductID      int64 `json:"product_id"`
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unit_price_cents"`
}

type cartResponse struct {
	CartID  int64              `json:"cart_id"`
	Lines   []cartLineResponse `json:"lines"`
	Summary *model.CartSummary `json:"summary"`
}

// GetCart returns the consolidated active cart of the current user.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	cart, lines, summary, err := h.service.GetCart(r.Context(), userID)
	if err != nil {
		h.logger.Error("get cart error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := cartResponse{
		CartID:  cart.ID,
		Lines:   make([]cartLineResponse, 0, len(lines)),
		Summary: summary,
	}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, cartLineResponse{
			ID:             l.ID,
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
		})
	}

	writeJSON(w, resp)
}

type addItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// AddItem puts a product into the current user's cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	line, err := h.service.AddItem(r.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		h.writeCartError(w, err, userID)
		return
	}

	writeJSON(w, cartLineResponse{
		ID:             line.ID,
		ProductID:      line.ProductID,
		Quantity:       line.Quantity,
		UnitPriceCents: line.UnitPriceCents,
	})
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateItemQuantity overwrites the quantity of a cart line.
func (h *Handler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateItemQuantity(r.Context(), userID, lineID, req.Quantity); err != nil {
		h.writeCartError(w, err, userID)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// RemoveItem deletes a cart line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveItem(r.Context(), userID, lineID); err != nil {
		h.writeCartError(w, err, userID)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ClearCart deactivates the current user's cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.ClearCart(r.Context(), userID); err != nil {
		h.logger.Error("clear cart error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type orderResponse struct {
	ID         int64  `json:"id"`
	TotalCents int64  `json:"total_cents"`
	CreatedAt  string `json:"created_at"`
}

// Checkout confirms the purchase of the current cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	order, err := h.service.Checkout(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrEmptyCart) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("checkout error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, orderResponse{
		ID:         order.ID,
		TotalCents: order.TotalCents,
		CreatedAt:  order.CreatedAt.Format(time.RFC3339),
	})
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// GetBalance returns the cached points balance of the current user.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, balanceResponse{Balance: balance})
}

type transactionResponse struct {
	ID          int64   `json:"id"`
	Amount      int64   `json:"amount"`
	Cause       string  `json:"cause"`
	ReferenceID *string `json:"reference_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// GetTransactions returns the points history of the current user.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	txs, err := h.service.GetTransactions(r.Context(), userID)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, transactionResponse{
			ID:          tx.ID,
			Amount:      tx.Amount,
			Cause:       string(tx.Cause),
			ReferenceID: tx.ReferenceID,
			CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, resp)
}

type redeemRequest struct {
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id"`
}

// Redeem spends points of the current user.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.RecordTransaction(r.Context(), userID, -req.Amount, model.CauseRedemption, req.ReferenceID)
	if err != nil {
		if errors.Is(err, service.ErrInsufficientBalance) {
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
			return
		}
		h.logger.Error("redeem error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// AuditPoints recomputes the current user's balance from history and reports
// any discrepancy. Discrepancies are data, not errors.
func (h *Handler) AuditPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	audit, err := h.service.AuditUserPoints(r.Context(), userID)
	if err != nil {
		h.logger.Error("audit error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, audit)
}

// FixPoints applies the corrective transaction converging the cached balance
// and returns the fresh audit.
func (h *Handler) FixPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	audit, err := h.service.AutoFixDiscrepancies(r.Context(), userID)
	if err != nil {
		h.logger.Error("audit fix error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, audit)
}

// GetPointsSummary returns totals earned and redeemed for the current user.
func (h *Handler) GetPointsSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	summary, err := h.service.CalculateTransactionSummary(r.Context(), userID)
	if err != nil {
		h.logger.Error("points summary error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, summary)
}

type referralRequest struct {
	Code string `json:"code"`
}

// ApplyReferral applies a referral code for the current user.
func (h *Handler) ApplyReferral(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req referralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ref, err := h.service.ProcessReferral(r.Context(), userID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCodeInvalid), errors.Is(err, service.ErrSelfReferral):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrReferralExists):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("apply referral error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, map[string]any{
		"referral_id": ref.ID,
		"status":      string(ref.Status),
	})
}

func (h *Handler) writeCartError(w http.ResponseWriter, err error, userID int64) {
	switch {
	case errors.Is(err, service.ErrInvalidQuantity):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, service.ErrOutOfStock):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, catalog.ErrProductNotFound), errors.Is(err, repository.ErrLineNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	default:
		h.logger.Error("cart operation error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
