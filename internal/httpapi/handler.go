// Package httpapi exposes the transfer engine over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

const (
	// IdempotencyKeyHeader carries the caller-chosen reference number.
	IdempotencyKeyHeader = "Idempotency-Key"

	maxBodyBytes = 1 << 20
)

// Engine is the subset of the transfer engine served over HTTP.
type Engine interface {
	Execute(ctx context.Context, req domain.TransferRequest) (*domain.TransferOutcome, error)
	Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description, reference string) (*domain.TransferOutcome, error)
	Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description, reference string) (*domain.TransferOutcome, error)
	Reverse(ctx context.Context, originalID uuid.UUID, reference, reason string) (*domain.TransferOutcome, error)
	ResolveAccountNumber(ctx context.Context, number string) (*domain.Account, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.Transaction, error)
}

// TransferRequest is the body of POST /accounts/{accountId}/transfers.
type TransferRequest struct {
	ReceiverAccountNumber string `json:"receiverAccountNumber" validate:"required,max=34"`
	Amount                string `json:"amount" validate:"required"`
	Description           string `json:"description" validate:"max=255"`
}

// MovementRequest is the body of deposits and withdrawals.
type MovementRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description" validate:"max=255"`
}

// ReversalRequest is the body of POST /transactions/{transactionId}/reversal.
type ReversalRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// Handler serves the engine endpoints.
type Handler struct {
	engine   Engine
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(engine Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	validate := validator.New()
	// Report JSON field names in validation details
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		engine:   engine,
		validate: validate,
		logger:   logger,
	}
}

// Transfer moves funds from the path account to the account addressed by number.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	senderID, ok := h.pathID(w, r, "accountId")
	if !ok {
		return
	}

	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	reference, ok := h.reference(w, r)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, reference, req.Amount)
	if !ok {
		return
	}

	// Resolved before the engine takes any lock
	receiver, err := h.engine.ResolveAccountNumber(r.Context(), req.ReceiverAccountNumber)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			writeOutcome(w, &domain.TransferOutcome{
				Status:          domain.OutcomeRejected,
				ReferenceNumber: reference,
				Reason:          domain.ReasonReceiverUnavailable,
				Message:         domain.ReasonReceiverUnavailable.Message(),
			})
			return
		}
		h.logger.Error("failed to resolve receiver account",
			zap.String("reference", reference),
			zap.Error(err),
		)
		writeOutcome(w, &domain.TransferOutcome{
			Status:          domain.OutcomeFailed,
			ReferenceNumber: reference,
			Reason:          domain.ReasonStoreUnavailable,
			Message:         domain.ReasonStoreUnavailable.Message(),
			Retryable:       true,
		})
		return
	}

	outcome, err := h.engine.Execute(r.Context(), domain.TransferRequest{
		SenderAccountID:   senderID,
		ReceiverAccountID: receiver.ID,
		Amount:            amount,
		Description:       req.Description,
		ReferenceNumber:   reference,
	})
	h.respond(w, outcome, err)
}

// Deposit credits the path account.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.engine.Deposit)
}

// Withdraw debits the path account.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.engine.Withdraw)
}

type movementFunc func(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description, reference string) (*domain.TransferOutcome, error)

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, run movementFunc) {
	accountID, ok := h.pathID(w, r, "accountId")
	if !ok {
		return
	}

	var req MovementRequest
	if !h.decode(w, r, &req) {
		return
	}

	reference, ok := h.reference(w, r)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, reference, req.Amount)
	if !ok {
		return
	}

	outcome, err := run(r.Context(), accountID, amount, req.Description, reference)
	h.respond(w, outcome, err)
}

// Reverse compensates a completed transfer.
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := h.pathID(w, r, "transactionId")
	if !ok {
		return
	}

	var req ReversalRequest
	if !h.decode(w, r, &req) {
		return
	}

	reference, ok := h.reference(w, r)
	if !ok {
		return
	}

	outcome, err := h.engine.Reverse(r.Context(), transactionID, reference, req.Reason)
	h.respond(w, outcome, err)
}

// GetAccount returns the current state of an account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.pathID(w, r, "accountId")
	if !ok {
		return
	}

	account, err := h.engine.GetAccount(r.Context(), accountID)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

// ListTransactions returns the most recent transactions of an account.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.pathID(w, r, "accountId")
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	txns, err := h.engine.ListTransactions(r.Context(), accountID, limit)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	resp := make([]TransactionResponse, 0, len(txns))
	for _, txn := range txns {
		resp = append(resp, newTransactionResponse(txn))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": resp})
}

// respond writes the outcome. FAILED outcomes are already logged by the engine.
func (h *Handler) respond(w http.ResponseWriter, outcome *domain.TransferOutcome, err error) {
	if outcome == nil {
		h.logger.Error("engine returned no outcome", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
		return
	}
	writeOutcome(w, outcome)
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "Account not found", nil)
	case errors.Is(err, domain.ErrStoreUnavailable):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, domain.ReasonStoreUnavailable.Message(), nil)
	default:
		h.logger.Error("lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+param, nil)
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a single JSON object into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, http.StatusBadRequest, "Request body must only contain a single JSON object", nil)
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// idempotencyKey holds the header for validation; max matches domain.MaxReferenceLength.
type idempotencyKey struct {
	Key string `json:"Idempotency-Key" validate:"max=64"`
}

// reference returns the Idempotency-Key header, or a fresh reference when absent.
// An unusable header is answered with 400.
func (h *Handler) reference(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		return domain.NewReferenceNumber(), true
	}
	if err := h.validate.Struct(idempotencyKey{Key: key}); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return "", false
	}
	return key, true
}

func parseAmount(w http.ResponseWriter, reference, raw string) (decimal.Decimal, bool) {
	amount, err := domain.ParseAmount(raw)
	if err != nil {
		writeOutcome(w, &domain.TransferOutcome{
			Status:          domain.OutcomeRejected,
			ReferenceNumber: reference,
			Reason:          domain.ReasonInvalidAmount,
			Message:         err.Error(),
		})
		return decimal.Zero, false
	}
	return amount, true
}
