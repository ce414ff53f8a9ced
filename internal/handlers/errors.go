package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/nillion-storage-api/internal/nillion"
	"github.com/serroba/nillion-storage-api/internal/payment"
	"github.com/serroba/nillion-storage-api/internal/secrets"
	"go.uber.org/zap"
)

// httpError maps a service error to a response once, at the edge. Client
// errors carry their message; everything else is logged and reported generically.
func httpError(logger *zap.Logger, op string, err error) error {
	switch {
	case errors.Is(err, nillion.ErrUnsupportedValueType):
		return huma.Error400BadRequest(nillion.ErrUnsupportedValueType.Error())
	case errors.Is(err, payment.ErrQuoteRejected):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, secrets.ErrAppNotFound),
		errors.Is(err, secrets.ErrStoreIDNotFound),
		errors.Is(err, secrets.ErrTopicNotFound):
		return huma.Error404NotFound(err.Error())
	}

	logger.Error(op+" failed", zap.Error(err))

	switch {
	case errors.Is(err, payment.ErrQuoteFailed):
		return huma.Error500InternalServerError("price quote failed")
	case errors.Is(err, payment.ErrPaymentFailed):
		return huma.Error500InternalServerError("payment failed")
	case errors.Is(err, secrets.ErrUpstreamOperationFailed):
		return huma.Error500InternalServerError("secret network operation failed")
	default:
		return huma.Error500InternalServerError("internal server error")
	}
}
