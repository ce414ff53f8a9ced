package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrQuoteRejected is returned when a quote costs more than the configured ceiling.
	ErrQuoteRejected = errors.New("quote exceeds maximum allowed cost")
	ErrQuoteFailed   = errors.New("price quote request failed")
	ErrPaymentFailed = errors.New("payment failed")

	// ErrTxNotFound is returned by a Ledger while a transaction is not yet in a block.
	ErrTxNotFound = errors.New("transaction not found")
)

// SequenceMismatchError is returned by a Ledger when a transaction is signed
// with a sequence other than the one the account's next transaction must use.
type SequenceMismatchError struct {
	Expected uint64
	Got      uint64
}

func (e *SequenceMismatchError) Error() string {
	return fmt.Sprintf("account sequence mismatch, expected %d, got %d", e.Expected, e.Got)
}
