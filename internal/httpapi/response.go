package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

// retryAfterSeconds is advertised on retryable FAILED outcomes.
const retryAfterSeconds = "1"

// OutcomeResponse is the JSON body returned by every movement endpoint.
type OutcomeResponse struct {
	Success         bool          `json:"success"`
	TransactionID   *uuid.UUID    `json:"transactionId,omitempty"`
	ReferenceNumber string        `json:"referenceNumber,omitempty"`
	ErrorCode       domain.Reason `json:"errorCode,omitempty"`
	ErrorMessage    string        `json:"errorMessage,omitempty"`
	Replayed        bool          `json:"replayed,omitempty"`
}

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// AccountResponse is the public view of an account.
type AccountResponse struct {
	ID                 uuid.UUID            `json:"id"`
	UserID             uuid.UUID            `json:"userId"`
	AccountNumber      string               `json:"accountNumber"`
	Balance            string               `json:"balance"`
	AccountType        domain.AccountType   `json:"accountType"`
	Status             domain.AccountStatus `json:"status"`
	DailyTransferLimit string               `json:"dailyTransferLimit"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

// TransactionResponse is the public view of a transaction log entry.
type TransactionResponse struct {
	ID                uuid.UUID                `json:"id"`
	ReferenceNumber   string                   `json:"referenceNumber"`
	SenderAccountID   *uuid.UUID               `json:"senderAccountId,omitempty"`
	ReceiverAccountID *uuid.UUID               `json:"receiverAccountId,omitempty"`
	Amount            string                   `json:"amount"`
	Type              domain.TransactionType   `json:"transactionType"`
	Status            domain.TransactionStatus `json:"status"`
	Description       string                   `json:"description,omitempty"`
	FeeAmount         string                   `json:"feeAmount"`
	ReversalOf        *uuid.UUID               `json:"reversalOf,omitempty"`
	FailureReason     *string                  `json:"failureReason,omitempty"`
	CreatedAt         time.Time                `json:"createdAt"`
	CompletedAt       *time.Time               `json:"completedAt,omitempty"`
}

func newOutcomeResponse(outcome *domain.TransferOutcome) OutcomeResponse {
	resp := OutcomeResponse{
		Success:         outcome.Success(),
		TransactionID:   outcome.TransactionID,
		ReferenceNumber: outcome.ReferenceNumber,
		Replayed:        outcome.Replayed,
	}
	if !resp.Success {
		resp.ErrorCode = outcome.Reason
		resp.ErrorMessage = outcome.Message
	}
	return resp
}

func newAccountResponse(a *domain.Account) AccountResponse {
	return AccountResponse{
		ID:                 a.ID,
		UserID:             a.UserID,
		AccountNumber:      a.AccountNumber,
		Balance:            domain.FormatAmount(a.Balance),
		AccountType:        a.AccountType,
		Status:             a.Status,
		DailyTransferLimit: domain.FormatAmount(a.DailyTransferLimit),
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func newTransactionResponse(t *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:                t.ID,
		ReferenceNumber:   t.ReferenceNumber,
		SenderAccountID:   t.SenderAccountID,
		ReceiverAccountID: t.ReceiverAccountID,
		Amount:            domain.FormatAmount(t.Amount),
		Type:              t.Type,
		Status:            t.Status,
		Description:       t.Description,
		FeeAmount:         domain.FormatAmount(t.FeeAmount),
		ReversalOf:        t.ReversalOf,
		FailureReason:     t.FailureReason,
		CreatedAt:         t.CreatedAt,
		CompletedAt:       t.CompletedAt,
	}
}

// outcomeStatus maps an outcome to its HTTP status code.
func outcomeStatus(outcome *domain.TransferOutcome) int {
	switch outcome.Status {
	case domain.OutcomeCompleted:
		return http.StatusOK
	case domain.OutcomeFailed:
		return http.StatusServiceUnavailable
	}

	switch outcome.Reason {
	case domain.ReasonSenderUnavailable,
		domain.ReasonReceiverUnavailable,
		domain.ReasonTransactionNotFound:
		return http.StatusNotFound
	case domain.ReasonDuplicateReference,
		domain.ReasonAlreadyReversed:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeOutcome(w http.ResponseWriter, outcome *domain.TransferOutcome) {
	if outcome.Status == domain.OutcomeFailed && outcome.Retryable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, outcomeStatus(outcome), newOutcomeResponse(outcome))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError sends a JSON error response
func writeError(w http.ResponseWriter, status int, message string, validationErr error) {
	resp := ErrorResponse{Error: message}

	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		resp.Details = make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			resp.Details[fe.Field()] = fmt.Sprintf("Field validation failed on '%s' tag", fe.Tag())
		}
	}

	writeJSON(w, status, resp)
}
