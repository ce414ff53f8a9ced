package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cosmos/cosmos-sdk/client"
	sdk "github.com/cosmos/cosmos-sdk/types"
	authsigning "github.com/cosmos/cosmos-sdk/x/auth/signing"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
)

// Transfer is a bank send recorded by MemoryLedger.
type Transfer struct {
	TxHash string
	From   string
	To     string
	Amount int64
	Memo   string
}

type memoryTx struct {
	result       TxResult
	signer       string
	pendingPolls int
	settled      bool
}

// MemoryLedger is an in-process chain for local development and tests. It
// decodes broadcast transactions, records their bank sends and settles them
// on the next GetTx. Like a node's mempool it expects each broadcast to carry
// the sequence after the signer's last accepted one, while AccountInfo only
// reflects settled transactions.
type MemoryLedger struct {
	mu        sync.Mutex
	decoder   sdk.TxDecoder
	accounts  map[string]*Account
	pending   map[string]uint64
	txs       map[string]*memoryTx
	transfers []Transfer
	height    int64

	failCode     uint32
	failLog      string
	pendingPolls int
}

// NewMemoryLedger creates an empty ledger decoding transactions with txConfig.
func NewMemoryLedger(txConfig client.TxConfig) *MemoryLedger {
	return &MemoryLedger{
		decoder:  txConfig.TxDecoder(),
		accounts: make(map[string]*Account),
		pending:  make(map[string]uint64),
		txs:      make(map[string]*memoryTx),
	}
}

// FailNext makes the next broadcast transaction land in a block with a
// non-zero result code.
func (l *MemoryLedger) FailNext(code uint32, log string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failCode = code
	l.failLog = log
}

// DelaySettlement keeps subsequent transactions out of a block for n polls.
func (l *MemoryLedger) DelaySettlement(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pendingPolls = n
}

func (l *MemoryLedger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Transfer, len(l.transfers))
	copy(out, l.transfers)

	return out
}

func (l *MemoryLedger) AccountInfo(_ context.Context, address string) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return *l.account(address), nil
}

func (l *MemoryLedger) account(address string) *Account {
	acc, ok := l.accounts[address]
	if !ok {
		acc = &Account{Number: uint64(len(l.accounts) + 1)}
		l.accounts[address] = acc
	}

	return acc
}

func (l *MemoryLedger) BroadcastTx(_ context.Context, txBytes []byte) (string, error) {
	tx, err := l.decoder(txBytes)
	if err != nil {
		return "", fmt.Errorf("%w: decode tx: %w", ErrPaymentFailed, err)
	}

	memo := ""
	if withMemo, ok := tx.(sdk.TxWithMemo); ok {
		memo = withMemo.GetMemo()
	}

	sequence, err := signerSequence(tx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}

	sends := make([]*banktypes.MsgSend, 0, len(tx.GetMsgs()))

	for _, msg := range tx.GetMsgs() {
		send, ok := msg.(*banktypes.MsgSend)
		if !ok {
			return "", fmt.Errorf("%w: unsupported message %s", ErrPaymentFailed, sdk.MsgTypeURL(msg))
		}

		sends = append(sends, send)
	}

	if len(sends) == 0 {
		return "", fmt.Errorf("%w: no messages", ErrPaymentFailed)
	}

	hash := TxHash(txBytes)
	signer := sends[0].FromAddress

	l.mu.Lock()
	defer l.mu.Unlock()

	expected := max(l.pending[signer], l.account(signer).Sequence)
	if sequence != expected {
		return "", fmt.Errorf("%w: %w", ErrPaymentFailed, &SequenceMismatchError{Expected: expected, Got: sequence})
	}

	l.pending[signer] = expected + 1

	for _, send := range sends {
		l.transfers = append(l.transfers, Transfer{
			TxHash: hash,
			From:   send.FromAddress,
			To:     send.ToAddress,
			Amount: send.Amount.AmountOf(Denom).Int64(),
			Memo:   memo,
		})
	}

	l.height++
	l.txs[hash] = &memoryTx{
		result:       TxResult{Hash: hash, Height: l.height, Code: l.failCode, Log: l.failLog},
		signer:       signer,
		pendingPolls: l.pendingPolls,
	}
	l.failCode, l.failLog = 0, ""

	return hash, nil
}

func (l *MemoryLedger) GetTx(_ context.Context, hash string) (*TxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.txs[hash]
	if !ok {
		return nil, ErrTxNotFound
	}

	if tx.pendingPolls > 0 {
		tx.pendingPolls--

		return nil, ErrTxNotFound
	}

	// a failed tx still consumes its sequence
	if !tx.settled {
		tx.settled = true
		l.account(tx.signer).Sequence++
	}

	res := tx.result

	return &res, nil
}

func signerSequence(tx sdk.Tx) (uint64, error) {
	sigTx, ok := tx.(authsigning.SigVerifiableTx)
	if !ok {
		return 0, errors.New("tx is not signed")
	}

	sigs, err := sigTx.GetSignaturesV2()
	if err != nil {
		return 0, fmt.Errorf("signatures: %w", err)
	}

	if len(sigs) != 1 {
		return 0, fmt.Errorf("expected one signature, got %d", len(sigs))
	}

	return sigs[0].Sequence, nil
}

// TxHash is the hash a cosmos node reports for txBytes.
func TxHash(txBytes []byte) string {
	sum := sha256.Sum256(txBytes)

	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Compile-time check.
var _ Ledger = (*MemoryLedger)(nil)
