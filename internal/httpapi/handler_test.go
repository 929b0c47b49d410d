package httpapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/httpapi"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/memstore"
)

type api struct {
	store  *memstore.Store
	router http.Handler
}

func newAPI(t *testing.T) *api {
	t.Helper()

	store := memstore.New()
	engine, err := domain.NewTransferEngine(store.Accounts(), store.Transactions(), store.Outbox(), store)
	require.NoError(t, err)

	return &api{
		store:  store,
		router: httpapi.NewRouter(httpapi.NewHandler(engine, nil), nil),
	}
}

func (a *api) openAccount(t *testing.T, number, balance string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	require.NoError(t, a.store.CreateAccount(&domain.Account{
		ID:                 id,
		UserID:             uuid.New(),
		AccountNumber:      number,
		Balance:            decimal.RequireFromString(balance),
		AccountType:        domain.AccountTypeCurrent,
		Status:             domain.AccountStatusActive,
		DailyTransferLimit: decimal.RequireFromString("50000.00"),
	}))
	return id
}

func (a *api) balance(t *testing.T, id uuid.UUID) string {
	t.Helper()
	b, err := a.store.Balance(id)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func (a *api) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(httpapi.IdempotencyKeyHeader, key)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeOutcome(t *testing.T, w *httptest.ResponseRecorder) httpapi.OutcomeResponse {
	t.Helper()
	var resp httpapi.OutcomeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func transferPath(id uuid.UUID) string {
	return fmt.Sprintf("/api/v1/accounts/%s/transfers", id)
}

func TestTransfer(t *testing.T) {
	a := newAPI(t)
	sender := a.openAccount(t, "40817000000000000001", "1000.00")
	receiver := a.openAccount(t, "40817000000000000002", "0.00")

	t.Run("completes and moves funds", func(t *testing.T) {
		w := a.do(t, http.MethodPost, transferPath(sender), "TXN-HTTP-1",
			`{"receiverAccountNumber":"40817000000000000002","amount":"250.50","description":"rent"}`)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decodeOutcome(t, w)
		assert.True(t, resp.Success)
		assert.NotNil(t, resp.TransactionID)
		assert.Equal(t, "TXN-HTTP-1", resp.ReferenceNumber)
		assert.False(t, resp.Replayed)
		assert.Empty(t, resp.ErrorCode)

		assert.Equal(t, "749.50", a.balance(t, sender))
		assert.Equal(t, "250.50", a.balance(t, receiver))
	})

	t.Run("retry with the same key replays", func(t *testing.T) {
		w := a.do(t, http.MethodPost, transferPath(sender), "TXN-HTTP-1",
			`{"receiverAccountNumber":"40817000000000000002","amount":"250.50","description":"rent"}`)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeOutcome(t, w)
		assert.True(t, resp.Success)
		assert.True(t, resp.Replayed)
		assert.Equal(t, "749.50", a.balance(t, sender))
	})

	t.Run("reused key with other parameters conflicts", func(t *testing.T) {
		w := a.do(t, http.MethodPost, transferPath(sender), "TXN-HTTP-1",
			`{"receiverAccountNumber":"40817000000000000002","amount":"1.00"}`)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, domain.ReasonDuplicateReference, decodeOutcome(t, w).ErrorCode)
	})

	t.Run("generates a reference without a key", func(t *testing.T) {
		w := a.do(t, http.MethodPost, transferPath(sender), "",
			`{"receiverAccountNumber":"40817000000000000002","amount":"1.00"}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.HasPrefix(decodeOutcome(t, w).ReferenceNumber, "TXN"))
	})
}

func TestTransfer_Rejections(t *testing.T) {
	a := newAPI(t)
	sender := a.openAccount(t, "40817000000000000011", "100.00")
	a.openAccount(t, "40817000000000000012", "0.00")

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   domain.Reason
	}{
		{
			name:       "insufficient funds",
			body:       `{"receiverAccountNumber":"40817000000000000012","amount":"100.01"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   domain.ReasonInsufficientFunds,
		},
		{
			name:       "unknown receiver",
			body:       `{"receiverAccountNumber":"40817999999999999999","amount":"1.00"}`,
			wantStatus: http.StatusNotFound,
			wantCode:   domain.ReasonReceiverUnavailable,
		},
		{
			name:       "self transfer",
			body:       `{"receiverAccountNumber":"40817000000000000011","amount":"1.00"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   domain.ReasonSelfTransferNotAllowed,
		},
		{
			name:       "negative amount",
			body:       `{"receiverAccountNumber":"40817000000000000012","amount":"-1.00"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   domain.ReasonInvalidAmount,
		},
		{
			name:       "three decimal places",
			body:       `{"receiverAccountNumber":"40817000000000000012","amount":"1.001"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   domain.ReasonInvalidAmount,
		},
		{
			name:       "zero amount",
			body:       `{"receiverAccountNumber":"40817000000000000012","amount":"0"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   domain.ReasonInvalidAmount,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, http.MethodPost, transferPath(sender), fmt.Sprintf("TXN-REJ-%d", i), tt.body)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			resp := decodeOutcome(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.ErrorCode)
			assert.NotEmpty(t, resp.ErrorMessage)
		})
	}

	assert.Equal(t, "100.00", a.balance(t, sender))
}

func TestTransfer_BadRequests(t *testing.T) {
	a := newAPI(t)
	sender := a.openAccount(t, "40817000000000000021", "100.00")

	tests := []struct {
		name        string
		path        string
		body        string
		wantDetails string
	}{
		{name: "invalid account id", path: "/api/v1/accounts/not-a-uuid/transfers", body: `{"receiverAccountNumber":"1","amount":"1"}`},
		{name: "malformed json", path: transferPath(sender), body: `{"amount":`},
		{name: "unknown field", path: transferPath(sender), body: `{"receiverAccountNumber":"1","amount":"1","currency":"RUB"}`},
		{name: "two objects", path: transferPath(sender), body: `{"receiverAccountNumber":"1","amount":"1"}{}`},
		{name: "missing receiver", path: transferPath(sender), body: `{"amount":"1.00"}`, wantDetails: "receiverAccountNumber"},
		{name: "missing amount", path: transferPath(sender), body: `{"receiverAccountNumber":"1"}`, wantDetails: "amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, http.MethodPost, tt.path, "", tt.body)

			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			var resp httpapi.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			if tt.wantDetails != "" {
				assert.Contains(t, resp.Details, tt.wantDetails)
			}
		})
	}
}

func TestTransfer_InputTheLedgerCannotStore(t *testing.T) {
	a := newAPI(t)
	sender := a.openAccount(t, "40817000000000000041", "100.00")
	a.openAccount(t, "40817000000000000042", "0.00")
	body := `{"receiverAccountNumber":"40817000000000000042","amount":"10.00"}`

	t.Run("idempotency key too long", func(t *testing.T) {
		w := a.do(t, http.MethodPost, transferPath(sender), strings.Repeat("K", domain.MaxReferenceLength+1), body)

		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		assert.Empty(t, w.Header().Get("Retry-After"))
		var resp httpapi.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Details, httpapi.IdempotencyKeyHeader)
	})

	t.Run("idempotency key at the limit", func(t *testing.T) {
		key := strings.Repeat("K", domain.MaxReferenceLength)
		w := a.do(t, http.MethodPost, transferPath(sender), key, body)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, key, decodeOutcome(t, w).ReferenceNumber)
	})

	t.Run("NUL in description", func(t *testing.T) {
		w := a.do(t, http.MethodPost, transferPath(sender), "TXN-NUL-1",
			`{"receiverAccountNumber":"40817000000000000042","amount":"10.00","description":"rent\u0000"}`)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
		assert.Empty(t, w.Header().Get("Retry-After"))
		resp := decodeOutcome(t, w)
		assert.False(t, resp.Success)
		assert.Equal(t, domain.ReasonInvalidInput, resp.ErrorCode)
	})

	assert.Equal(t, "90.00", a.balance(t, sender))
}

func TestTransfer_StoreFailure(t *testing.T) {
	a := newAPI(t)
	sender := a.openAccount(t, "40817000000000000031", "100.00")
	a.openAccount(t, "40817000000000000032", "0.00")

	a.store.FailNext(memstore.OpGetByReference, fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable))

	w := a.do(t, http.MethodPost, transferPath(sender), "TXN-FAIL-1",
		`{"receiverAccountNumber":"40817000000000000032","amount":"10.00"}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	resp := decodeOutcome(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, domain.ReasonStoreUnavailable, resp.ErrorCode)
	assert.Equal(t, "100.00", a.balance(t, sender))
}

func TestDepositAndWithdraw(t *testing.T) {
	a := newAPI(t)
	account := a.openAccount(t, "40817000000000000041", "10.00")

	w := a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%s/deposits", account), "DEP-1",
		`{"amount":"90.00","description":"cash in"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decodeOutcome(t, w).Success)
	assert.Equal(t, "100.00", a.balance(t, account))

	w = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%s/withdrawals", account), "WDR-1",
		`{"amount":"40.00"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "60.00", a.balance(t, account))

	w = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%s/withdrawals", account), "WDR-2",
		`{"amount":"60.01"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, domain.ReasonInsufficientFunds, decodeOutcome(t, w).ErrorCode)

	w = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%s/deposits", uuid.New()), "DEP-2",
		`{"amount":"1.00"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ReasonReceiverUnavailable, decodeOutcome(t, w).ErrorCode)
}

func TestReverse(t *testing.T) {
	a := newAPI(t)
	sender := a.openAccount(t, "40817000000000000051", "500.00")
	receiver := a.openAccount(t, "40817000000000000052", "0.00")

	w := a.do(t, http.MethodPost, transferPath(sender), "TXN-ORIG",
		`{"receiverAccountNumber":"40817000000000000052","amount":"200.00"}`)
	require.Equal(t, http.StatusOK, w.Code)
	original := decodeOutcome(t, w).TransactionID
	require.NotNil(t, original)

	reversalPath := fmt.Sprintf("/api/v1/transactions/%s/reversal", *original)

	w = a.do(t, http.MethodPost, reversalPath, "TXN-REV-1", `{"reason":"customer dispute"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decodeOutcome(t, w).Success)
	assert.Equal(t, "500.00", a.balance(t, sender))
	assert.Equal(t, "0.00", a.balance(t, receiver))

	w = a.do(t, http.MethodPost, reversalPath, "TXN-REV-2", `{"reason":"again"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ReasonAlreadyReversed, decodeOutcome(t, w).ErrorCode)

	w = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/transactions/%s/reversal", uuid.New()), "TXN-REV-3", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ReasonTransactionNotFound, decodeOutcome(t, w).ErrorCode)
}

func TestGetAccountAndHistory(t *testing.T) {
	a := newAPI(t)
	sender := a.openAccount(t, "40817000000000000061", "300.00")
	a.openAccount(t, "40817000000000000062", "0.00")

	for i := 0; i < 3; i++ {
		w := a.do(t, http.MethodPost, transferPath(sender), fmt.Sprintf("TXN-HIST-%d", i),
			`{"receiverAccountNumber":"40817000000000000062","amount":"10.00"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := a.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%s", sender), "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var account httpapi.AccountResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &account))
	assert.Equal(t, sender, account.ID)
	assert.Equal(t, "270.00", account.Balance)
	assert.Equal(t, domain.AccountStatusActive, account.Status)

	w = a.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%s/transactions?limit=2", sender), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Transactions []httpapi.TransactionResponse `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Transactions, 2)
	assert.Equal(t, "10.00", history.Transactions[0].Amount)
	assert.Equal(t, domain.TransactionStatusCompleted, history.Transactions[0].Status)

	w = a.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%s/transactions?limit=abc", sender), "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%s", uuid.New()), "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%s/transactions", uuid.New()), "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
