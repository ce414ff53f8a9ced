package nillion

import (
	"context"
	"errors"
)

var (
	ErrValueNotFound    = errors.New("secret not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidReceipt   = errors.New("invalid payment receipt")
	ErrQuoteExpired     = errors.New("price quote expired")
)

// Network is the remote secret-storage network. Every call except
// RequestPriceQuote must be paid for with a receipt whose quote covers the call.
type Network interface {
	RequestPriceQuote(ctx context.Context, op Operation) (*PriceQuote, error)
	StoreValues(
		ctx context.Context, user *UserKey, values Values, perms *Permissions, ttlDays int, receipt *PaymentReceipt,
	) (storeID string, err error)
	RetrieveValue(
		ctx context.Context, user *UserKey, storeID, secretName string, receipt *PaymentReceipt,
	) (SecretValue, error)
	UpdateValues(
		ctx context.Context, user *UserKey, storeID string, values Values, ttlDays int, receipt *PaymentReceipt,
	) error
}
