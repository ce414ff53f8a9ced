package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cosmos/cosmos-sdk/client"
	clienttx "github.com/cosmos/cosmos-sdk/client/tx"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"
	authsigning "github.com/cosmos/cosmos-sdk/x/auth/signing"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"github.com/serroba/nillion-storage-api/internal/nillion"
	"go.uber.org/zap"
)

// PayerConfig controls how transactions are built and how long settlement may take.
type PayerConfig struct {
	ChainID           string
	GasLimit          uint64
	FeeAmount         int64
	PollInterval      time.Duration
	SettlementTimeout time.Duration
}

// DefaultPayerConfig returns the gas, fee and polling settings used against a live chain.
func DefaultPayerConfig(chainID string) PayerConfig {
	return PayerConfig{
		ChainID:           chainID,
		GasLimit:          1_000_000,
		PollInterval:      time.Second,
		SettlementTimeout: 60 * time.Second,
	}
}

// TxPayer pays quotes with bank sends from the service wallet.
type TxPayer struct {
	wallet   *Wallet
	ledger   Ledger
	txConfig client.TxConfig
	cfg      PayerConfig
	logger   *zap.Logger

	// serialises account sequence use; not held while waiting for settlement
	mu sync.Mutex
	// sequence for the next broadcast while earlier ones are still unsettled
	nextSeq uint64
	haveSeq bool
}

// NewTxPayer creates a payer that signs with wallet and broadcasts to ledger.
func NewTxPayer(wallet *Wallet, ledger Ledger, txConfig client.TxConfig, cfg PayerConfig, logger *zap.Logger) *TxPayer {
	return &TxPayer{
		wallet:   wallet,
		ledger:   ledger,
		txConfig: txConfig,
		cfg:      cfg,
		logger:   logger,
	}
}

// Pay sends quote.Cost.Total unil to the quote's payment address and blocks
// until the transaction is in a block. It returns the transaction hash.
func (p *TxPayer) Pay(ctx context.Context, quote *nillion.PriceQuote, memo string) (string, error) {
	hash, err := p.send(ctx, quote, memo)
	if err != nil {
		return "", paymentFailed(err)
	}

	res, err := p.waitForTx(ctx, hash)
	if err != nil {
		return "", paymentFailed(err)
	}

	if res.Code != 0 {
		return "", fmt.Errorf("%w: tx %s failed with code %d: %s", ErrPaymentFailed, hash, res.Code, res.Log)
	}

	p.logger.Info("payment settled",
		zap.String("tx_hash", hash),
		zap.Int64("height", res.Height),
		zap.Int64("amount", quote.Cost.Total),
	)

	return hash, nil
}

// send broadcasts with the account's committed sequence or, while earlier
// payments are unsettled, the one after the last broadcast. A sequence
// mismatch reported by the ledger is retried once with the expected value.
func (p *TxPayer) send(ctx context.Context, quote *nillion.PriceQuote, memo string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	account, err := p.ledger.AccountInfo(ctx, p.wallet.Address())
	if err != nil {
		return "", err
	}

	seq := account.Sequence
	if p.haveSeq && p.nextSeq > seq {
		seq = p.nextSeq
	}

	hash, err := p.broadcast(ctx, quote, memo, account.Number, seq)

	var mismatch *SequenceMismatchError
	if errors.As(err, &mismatch) {
		p.logger.Warn("account sequence out of sync",
			zap.Uint64("expected", mismatch.Expected),
			zap.Uint64("got", mismatch.Got),
		)

		seq = mismatch.Expected
		hash, err = p.broadcast(ctx, quote, memo, account.Number, seq)
	}

	if err != nil {
		p.haveSeq = false

		return "", err
	}

	p.nextSeq, p.haveSeq = seq+1, true

	p.logger.Debug("payment broadcast",
		zap.String("tx_hash", hash),
		zap.Uint64("sequence", seq),
		zap.String("to", quote.PaymentAddress),
	)

	return hash, nil
}

func (p *TxPayer) broadcast(
	ctx context.Context, quote *nillion.PriceQuote, memo string, accountNumber, seq uint64,
) (string, error) {
	builder := p.txConfig.NewTxBuilder()

	msg := &banktypes.MsgSend{
		FromAddress: p.wallet.Address(),
		ToAddress:   quote.PaymentAddress,
		Amount:      sdk.NewCoins(sdk.NewInt64Coin(Denom, quote.Cost.Total)),
	}

	if err := builder.SetMsgs(msg); err != nil {
		return "", fmt.Errorf("set msgs: %w", err)
	}

	builder.SetMemo(memo)
	builder.SetGasLimit(p.cfg.GasLimit)
	builder.SetFeeAmount(sdk.NewCoins(sdk.NewInt64Coin(Denom, p.cfg.FeeAmount)))

	// empty signature first so the signer infos are part of the signed bytes
	empty := signing.SignatureV2{
		PubKey:   p.wallet.PubKey(),
		Data:     &signing.SingleSignatureData{SignMode: signing.SignMode_SIGN_MODE_DIRECT},
		Sequence: seq,
	}
	if err := builder.SetSignatures(empty); err != nil {
		return "", fmt.Errorf("set signatures: %w", err)
	}

	signerData := authsigning.SignerData{
		Address:       p.wallet.Address(),
		ChainID:       p.cfg.ChainID,
		AccountNumber: accountNumber,
		Sequence:      seq,
		PubKey:        p.wallet.PubKey(),
	}

	sig, err := clienttx.SignWithPrivKey(
		ctx, signing.SignMode_SIGN_MODE_DIRECT, signerData, builder, p.wallet.priv, p.txConfig, seq,
	)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	if err := builder.SetSignatures(sig); err != nil {
		return "", fmt.Errorf("set signatures: %w", err)
	}

	txBytes, err := p.txConfig.TxEncoder()(builder.GetTx())
	if err != nil {
		return "", fmt.Errorf("encode tx: %w", err)
	}

	return p.ledger.BroadcastTx(ctx, txBytes)
}

func (p *TxPayer) waitForTx(ctx context.Context, hash string) (*TxResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SettlementTimeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		res, err := p.ledger.GetTx(ctx, hash)
		if err == nil {
			return res, nil
		}

		if !errors.Is(err, ErrTxNotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tx %s not settled: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// paymentFailed marks err as a payment failure unless a ledger already did.
func paymentFailed(err error) error {
	if errors.Is(err, ErrPaymentFailed) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrPaymentFailed, err)
}
