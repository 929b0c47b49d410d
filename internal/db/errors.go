package db

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

// Constraint names referenced by error classification. Kept in sync with the migrations.
const (
	constraintReferenceUnique = "transactions_reference_unique"
)

// classify maps driver errors onto the ledger store's sentinel errors.
// The original error stays in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505" && pgErr.ConstraintName == constraintReferenceUnique:
			return fmt.Errorf("%w: %w", domain.ErrDuplicateReference, err)
		case pgErr.Code == "23505", pgErr.Code == "23514", pgErr.Code == "23503", pgErr.Code == "23502":
			return fmt.Errorf("%w: %w", domain.ErrConstraintViolation, err)
		case strings.HasPrefix(pgErr.Code, "22"):
			// data_exception: string_data_right_truncation, character_not_in_repertoire, ...
			return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		case pgErr.Code == "55P03", pgErr.Code == "40P01", pgErr.Code == "57014", pgErr.Code == "40001":
			// lock_not_available, deadlock_detected, query_canceled, serialization_failure
			return fmt.Errorf("%w: %w", domain.ErrLockTimeout, err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"),
			pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	return err
}
