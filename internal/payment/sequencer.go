package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serroba/nillion-storage-api/internal/metrics"
	"github.com/serroba/nillion-storage-api/internal/nillion"
	"go.uber.org/zap"
)

// DefaultMaxCost is the most the service pays for a single operation, in unil.
const DefaultMaxCost int64 = 250_000

type Quoter interface {
	RequestPriceQuote(ctx context.Context, op nillion.Operation) (*nillion.PriceQuote, error)
}

type Payer interface {
	Pay(ctx context.Context, quote *nillion.PriceQuote, memo string) (string, error)
}

// Sequencer turns an operation into a settled payment receipt: quote, check
// the ceiling, pay, wait. It never retries.
type Sequencer struct {
	quoter  Quoter
	payer   Payer
	maxCost int64
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewSequencer creates a sequencer refusing quotes above maxCost.
func NewSequencer(quoter Quoter, payer Payer, maxCost int64, m *metrics.Collector, logger *zap.Logger) *Sequencer {
	return &Sequencer{
		quoter:  quoter,
		payer:   payer,
		maxCost: maxCost,
		metrics: m,
		logger:  logger,
	}
}

// QuoteAndPay returns a receipt only when the payment for exactly op settled.
func (s *Sequencer) QuoteAndPay(ctx context.Context, op nillion.Operation, memo string) (*nillion.PaymentReceipt, error) {
	kind := string(op.Kind)

	quote, err := s.quoter.RequestPriceQuote(ctx, op)
	if err != nil {
		s.metrics.RecordQuote(kind, metrics.QuoteFailed)

		return nil, fmt.Errorf("%w: %w", ErrQuoteFailed, err)
	}

	if quote.Cost.Total > s.maxCost {
		s.metrics.RecordQuote(kind, metrics.QuoteRejected)
		s.logger.Warn("quote rejected",
			zap.String("operation", kind),
			zap.Int64("total", quote.Cost.Total),
			zap.Int64("max", s.maxCost),
		)

		return nil, fmt.Errorf("%w: %d unil > %d unil", ErrQuoteRejected, quote.Cost.Total, s.maxCost)
	}

	s.metrics.RecordQuote(kind, metrics.QuoteAccepted)

	started := time.Now()

	txHash, err := s.payer.Pay(ctx, quote, memo)
	if err != nil {
		s.metrics.RecordPayment(metrics.PaymentFailed, 0, time.Since(started))
		s.logger.Error("payment failed", zap.String("operation", kind), zap.String("quote_id", quote.ID), zap.Error(err))

		if !errors.Is(err, ErrPaymentFailed) {
			err = fmt.Errorf("%w: %w", ErrPaymentFailed, err)
		}

		return nil, err
	}

	s.metrics.RecordPayment(metrics.PaymentSettled, quote.Cost.Total, time.Since(started))

	return &nillion.PaymentReceipt{Quote: quote, TxHash: txHash}, nil
}
