package nillion

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// OperationKind names a paid network operation.
type OperationKind string

const (
	OpStoreValues   OperationKind = "store_values"
	OpRetrieveValue OperationKind = "retrieve_value"
	OpUpdateValues  OperationKind = "update_values"
)

// Operation describes exactly one paid call against the network. A quote is
// issued for an operation's fingerprint and is only valid for that operation.
type Operation struct {
	Kind       OperationKind
	Values     Values
	TTLDays    int
	StoreID    string
	SecretName string
}

func StoreValues(values Values, ttlDays int) Operation {
	return Operation{Kind: OpStoreValues, Values: values, TTLDays: ttlDays}
}

func RetrieveValue(storeID, secretName string) Operation {
	return Operation{Kind: OpRetrieveValue, StoreID: storeID, SecretName: secretName}
}

func UpdateValues(storeID string, values Values, ttlDays int) Operation {
	return Operation{Kind: OpUpdateValues, StoreID: storeID, Values: values, TTLDays: ttlDays}
}

// Fingerprint is a stable digest of everything the operation will do.
func (o Operation) Fingerprint() string {
	// map keys are marshalled in sorted order
	payload, _ := json.Marshal(struct {
		Kind       OperationKind `json:"kind"`
		Values     Values        `json:"values,omitempty"`
		TTLDays    int           `json:"ttl_days,omitempty"`
		StoreID    string        `json:"store_id,omitempty"`
		SecretName string        `json:"secret_name,omitempty"`
	}{o.Kind, o.Values, o.TTLDays, o.StoreID, o.SecretName})

	sum := sha256.Sum256(payload)

	return hex.EncodeToString(sum[:])
}

// Cost is the breakdown of a quote, in the smallest payment denomination.
type Cost struct {
	Base       int64 `json:"base"`
	Compute    int64 `json:"compute"`
	Congestion int64 `json:"congestion"`
	Storage    int64 `json:"storage"`
	Total      int64 `json:"total"`
}

// PriceQuote is an immutable offer to perform one operation for a price.
type PriceQuote struct {
	ID             string        `json:"id"`
	Kind           OperationKind `json:"kind"`
	Fingerprint    string        `json:"fingerprint"`
	Cost           Cost          `json:"cost"`
	PaymentAddress string        `json:"payment_address"`
	ExpiresAt      time.Time     `json:"expires_at"`
}

// Covers reports whether the quote was issued for op.
func (q *PriceQuote) Covers(op Operation) bool {
	return q.Kind == op.Kind && q.Fingerprint == op.Fingerprint()
}

// PaymentReceipt binds a quote to the settled transaction that paid for it.
type PaymentReceipt struct {
	Quote  *PriceQuote `json:"quote"`
	TxHash string      `json:"tx_hash"`
}
