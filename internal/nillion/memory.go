package nillion

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pricing controls the quotes issued by MemoryNetwork.
type Pricing struct {
	Base          int64
	PerByteDay    int64
	RetrieveBase  int64
	QuoteValidFor time.Duration
}

// DefaultPricing keeps a small text secret far below a 250000 unil ceiling.
func DefaultPricing() Pricing {
	return Pricing{
		Base:          1000,
		PerByteDay:    10,
		RetrieveBase:  500,
		QuoteValidFor: 5 * time.Minute,
	}
}

type memoryRecord struct {
	values    Values
	perms     *Permissions
	expiresAt time.Time
}

// MemoryNetwork is an in-process Network used for local development and tests.
// It enforces quotes, single-use receipts and permissions like the real network.
type MemoryNetwork struct {
	mu             sync.Mutex
	paymentAddress string
	pricing        Pricing
	now            func() time.Time
	quotes         map[string]*PriceQuote
	spent          map[string]struct{}
	records        map[string]*memoryRecord
}

// NewMemoryNetwork creates an empty in-process network.
func NewMemoryNetwork(paymentAddress string, pricing Pricing) *MemoryNetwork {
	return &MemoryNetwork{
		paymentAddress: paymentAddress,
		pricing:        pricing,
		now:            time.Now,
		quotes:         make(map[string]*PriceQuote),
		spent:          make(map[string]struct{}),
		records:        make(map[string]*memoryRecord),
	}
}

func (n *MemoryNetwork) RequestPriceQuote(_ context.Context, op Operation) (*PriceQuote, error) {
	cost := n.price(op)

	quote := &PriceQuote{
		ID:             uuid.NewString(),
		Kind:           op.Kind,
		Fingerprint:    op.Fingerprint(),
		Cost:           cost,
		PaymentAddress: n.paymentAddress,
		ExpiresAt:      n.now().Add(n.pricing.QuoteValidFor),
	}

	n.mu.Lock()
	n.quotes[quote.ID] = quote
	n.mu.Unlock()

	return quote, nil
}

func (n *MemoryNetwork) price(op Operation) Cost {
	var cost Cost

	switch op.Kind {
	case OpRetrieveValue:
		cost.Base = n.pricing.RetrieveBase
	default:
		cost.Base = n.pricing.Base
		cost.Storage = int64(op.Values.Size()) * int64(op.TTLDays) * n.pricing.PerByteDay
	}

	cost.Total = cost.Base + cost.Compute + cost.Congestion + cost.Storage

	return cost
}

func (n *MemoryNetwork) StoreValues(
	_ context.Context, user *UserKey, values Values, perms *Permissions, ttlDays int, receipt *PaymentReceipt,
) (string, error) {
	if err := values.Validate(); err != nil {
		return "", err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.redeem(receipt, StoreValues(values, ttlDays)); err != nil {
		return "", err
	}

	if perms == nil {
		perms = DefaultPermissions(user.UserID())
	}

	storeID := uuid.NewString()
	n.records[storeID] = &memoryRecord{
		values:    maps.Clone(values),
		perms:     perms,
		expiresAt: n.now().AddDate(0, 0, ttlDays),
	}

	return storeID, nil
}

func (n *MemoryNetwork) RetrieveValue(
	_ context.Context, user *UserKey, storeID, secretName string, receipt *PaymentReceipt,
) (SecretValue, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.redeem(receipt, RetrieveValue(storeID, secretName)); err != nil {
		return SecretValue{}, err
	}

	rec, err := n.lookup(storeID)
	if err != nil {
		return SecretValue{}, err
	}

	if !rec.perms.CanRetrieve(user.UserID()) {
		return SecretValue{}, ErrPermissionDenied
	}

	value, ok := rec.values[secretName]
	if !ok {
		return SecretValue{}, fmt.Errorf("%w: no secret named %q in %s", ErrValueNotFound, secretName, storeID)
	}

	return value, nil
}

func (n *MemoryNetwork) UpdateValues(
	_ context.Context, user *UserKey, storeID string, values Values, ttlDays int, receipt *PaymentReceipt,
) error {
	if err := values.Validate(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.redeem(receipt, UpdateValues(storeID, values, ttlDays)); err != nil {
		return err
	}

	rec, err := n.lookup(storeID)
	if err != nil {
		return err
	}

	if !rec.perms.CanUpdate(user.UserID()) {
		return ErrPermissionDenied
	}

	rec.values = maps.Clone(values)
	rec.expiresAt = n.now().AddDate(0, 0, ttlDays)

	return nil
}

// redeem checks the receipt against op and marks its quote spent. Callers hold n.mu.
func (n *MemoryNetwork) redeem(receipt *PaymentReceipt, op Operation) error {
	if receipt == nil || receipt.Quote == nil || receipt.TxHash == "" {
		return ErrInvalidReceipt
	}

	quote, ok := n.quotes[receipt.Quote.ID]
	if !ok || !quote.Covers(op) {
		return fmt.Errorf("%w: quote does not cover %s", ErrInvalidReceipt, op.Kind)
	}

	if _, used := n.spent[quote.ID]; used {
		return fmt.Errorf("%w: quote %s already used", ErrInvalidReceipt, quote.ID)
	}

	if n.now().After(quote.ExpiresAt) {
		return ErrQuoteExpired
	}

	n.spent[quote.ID] = struct{}{}

	return nil
}

func (n *MemoryNetwork) lookup(storeID string) (*memoryRecord, error) {
	rec, ok := n.records[storeID]
	if !ok || n.now().After(rec.expiresAt) {
		return nil, fmt.Errorf("%w: store id %s", ErrValueNotFound, storeID)
	}

	return rec, nil
}

// Compile-time check.
var _ Network = (*MemoryNetwork)(nil)
