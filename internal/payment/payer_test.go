package payment_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cosmos/cosmos-sdk/client"
	"github.com/serroba/nillion-storage-api/internal/nillion"
	"github.com/serroba/nillion-storage-api/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	payerKey     = "0101010101010101010101010101010101010101010101010101010101010101"
	recipientKey = "0202020202020202020202020202020202020202020202020202020202020202"
)

type payerFixture struct {
	payer     *payment.TxPayer
	ledger    *payment.MemoryLedger
	wallet    *payment.Wallet
	txConfig  client.TxConfig
	recipient string
}

func newPayerFixture(t *testing.T, cfg payment.PayerConfig) payerFixture {
	t.Helper()

	txConfig, err := payment.NewTxConfig(payment.DefaultAddressPrefix)
	require.NoError(t, err)

	wallet, err := payment.NewWalletFromHex(payerKey, payment.DefaultAddressPrefix)
	require.NoError(t, err)

	recipient, err := payment.NewWalletFromHex(recipientKey, payment.DefaultAddressPrefix)
	require.NoError(t, err)

	ledger := payment.NewMemoryLedger(txConfig)

	return payerFixture{
		payer:     payment.NewTxPayer(wallet, ledger, txConfig, cfg, zap.NewNop()),
		ledger:    ledger,
		wallet:    wallet,
		txConfig:  txConfig,
		recipient: recipient.Address(),
	}
}

func fastConfig() payment.PayerConfig {
	cfg := payment.DefaultPayerConfig("nillion-chain-testnet-1")
	cfg.PollInterval = time.Millisecond
	cfg.SettlementTimeout = time.Second

	return cfg
}

func TestNewWalletFromHex(t *testing.T) {
	t.Run("derives a bech32 address", func(t *testing.T) {
		w, err := payment.NewWalletFromHex("0x"+payerKey, payment.DefaultAddressPrefix)

		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(w.Address(), "nillion1"))
	})

	t.Run("rejects a short key", func(t *testing.T) {
		_, err := payment.NewWalletFromHex("0102", payment.DefaultAddressPrefix)

		assert.ErrorIs(t, err, payment.ErrInvalidPrivateKey)
	})

	t.Run("rejects non hex input", func(t *testing.T) {
		_, err := payment.NewWalletFromHex("not-a-key", payment.DefaultAddressPrefix)

		assert.ErrorIs(t, err, payment.ErrInvalidPrivateKey)
	})

	t.Run("rejects an empty key", func(t *testing.T) {
		_, err := payment.NewWalletFromHex("  ", payment.DefaultAddressPrefix)

		assert.ErrorIs(t, err, payment.ErrInvalidPrivateKey)
	})
}

func TestTxPayer_Pay(t *testing.T) {
	ctx := context.Background()

	t.Run("sends the quoted amount with the memo", func(t *testing.T) {
		f := newPayerFixture(t, fastConfig())
		quote := &nillion.PriceQuote{ID: "q1", Cost: nillion.Cost{Total: 1360}, PaymentAddress: f.recipient}

		hash, err := f.payer.Pay(ctx, quote, "petnet operation: store_values; name: my_secret; user_id: u1")
		require.NoError(t, err)

		transfers := f.ledger.Transfers()
		require.Len(t, transfers, 1)
		assert.Equal(t, hash, transfers[0].TxHash)
		assert.Equal(t, f.wallet.Address(), transfers[0].From)
		assert.Equal(t, f.recipient, transfers[0].To)
		assert.Equal(t, int64(1360), transfers[0].Amount)
		assert.Equal(t, "petnet operation: store_values; name: my_secret; user_id: u1", transfers[0].Memo)
	})

	t.Run("advances the account sequence", func(t *testing.T) {
		f := newPayerFixture(t, fastConfig())
		quote := &nillion.PriceQuote{ID: "q1", Cost: nillion.Cost{Total: 10}, PaymentAddress: f.recipient}

		_, err := f.payer.Pay(ctx, quote, "first")
		require.NoError(t, err)

		_, err = f.payer.Pay(ctx, quote, "second")
		require.NoError(t, err)

		acc, err := f.ledger.AccountInfo(ctx, f.wallet.Address())
		require.NoError(t, err)
		assert.Equal(t, uint64(2), acc.Sequence)
		assert.Len(t, f.ledger.Transfers(), 2)
	})

	t.Run("waits until the transaction is in a block", func(t *testing.T) {
		f := newPayerFixture(t, fastConfig())
		f.ledger.DelaySettlement(3)
		quote := &nillion.PriceQuote{ID: "q1", Cost: nillion.Cost{Total: 10}, PaymentAddress: f.recipient}

		_, err := f.payer.Pay(ctx, quote, "memo")

		assert.NoError(t, err)
	})

	t.Run("non-zero result code is a payment failure", func(t *testing.T) {
		f := newPayerFixture(t, fastConfig())
		f.ledger.FailNext(5, "insufficient funds")
		quote := &nillion.PriceQuote{ID: "q1", Cost: nillion.Cost{Total: 10}, PaymentAddress: f.recipient}

		hash, err := f.payer.Pay(ctx, quote, "memo")

		assert.Empty(t, hash)
		assert.ErrorIs(t, err, payment.ErrPaymentFailed)
		assert.Contains(t, err.Error(), "insufficient funds")
	})

	t.Run("settlement timeout is a payment failure", func(t *testing.T) {
		cfg := fastConfig()
		cfg.SettlementTimeout = 20 * time.Millisecond
		f := newPayerFixture(t, cfg)
		f.ledger.DelaySettlement(1_000_000)
		quote := &nillion.PriceQuote{ID: "q1", Cost: nillion.Cost{Total: 10}, PaymentAddress: f.recipient}

		_, err := f.payer.Pay(ctx, quote, "memo")

		assert.ErrorIs(t, err, payment.ErrPaymentFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("ledger rejections are reported as one payment failure", func(t *testing.T) {
		f := newPayerFixture(t, fastConfig())
		payer := payment.NewTxPayer(f.wallet, rejectingLedger{f.ledger}, f.txConfig, fastConfig(), zap.NewNop())
		quote := &nillion.PriceQuote{ID: "q1", Cost: nillion.Cost{Total: 10}, PaymentAddress: f.recipient}

		_, err := payer.Pay(ctx, quote, "memo")

		require.ErrorIs(t, err, payment.ErrPaymentFailed)
		assert.Equal(t, 1, strings.Count(err.Error(), payment.ErrPaymentFailed.Error()), err.Error())
		assert.Contains(t, err.Error(), "out of gas")
	})
}

// rejectingLedger fails every broadcast the way a node's CheckTx does.
type rejectingLedger struct {
	*payment.MemoryLedger
}

func (rejectingLedger) BroadcastTx(context.Context, []byte) (string, error) {
	return "", fmt.Errorf("%w: check tx code 11: out of gas", payment.ErrPaymentFailed)
}

func TestTxPayer_Sequence(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent payments use consecutive sequences", func(t *testing.T) {
		f := newPayerFixture(t, fastConfig())
		f.ledger.DelaySettlement(5)

		var wg sync.WaitGroup

		errs := make(chan error, 3)

		for i := range 3 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				quote := &nillion.PriceQuote{ID: fmt.Sprintf("q%d", i), Cost: nillion.Cost{Total: 10}, PaymentAddress: f.recipient}
				_, err := f.payer.Pay(ctx, quote, fmt.Sprintf("payment %d", i))
				errs <- err
			}()
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		assert.Len(t, f.ledger.Transfers(), 3)

		acc, err := f.ledger.AccountInfo(ctx, f.wallet.Address())
		require.NoError(t, err)
		assert.Equal(t, uint64(3), acc.Sequence)
	})

	t.Run("resyncs when another payer holds the next sequence", func(t *testing.T) {
		f := newPayerFixture(t, fastConfig())
		f.ledger.DelaySettlement(1_000_000)

		cfg := fastConfig()
		cfg.SettlementTimeout = 20 * time.Millisecond
		stalled := payment.NewTxPayer(f.wallet, f.ledger, f.txConfig, cfg, zap.NewNop())
		quote := &nillion.PriceQuote{ID: "q1", Cost: nillion.Cost{Total: 10}, PaymentAddress: f.recipient}

		_, err := stalled.Pay(ctx, quote, "stuck in the mempool")
		require.ErrorIs(t, err, context.DeadlineExceeded)

		// a second payer for the same wallet still sees sequence 0 committed
		f.ledger.DelaySettlement(0)

		_, err = f.payer.Pay(ctx, quote, "after resync")
		require.NoError(t, err)

		transfers := f.ledger.Transfers()
		require.Len(t, transfers, 2)
		assert.Equal(t, "after resync", transfers[1].Memo)
	})
}
