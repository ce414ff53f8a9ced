package payment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	sdkerrors "github.com/cosmos/cosmos-sdk/types/errors"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Account is the on-chain signing state of an address.
type Account struct {
	Number   uint64
	Sequence uint64
}

// TxResult is a transaction that made it into a block.
type TxResult struct {
	Hash   string
	Height int64
	Code   uint32
	Log    string
}

// Ledger is the chain the wallet pays on.
type Ledger interface {
	AccountInfo(ctx context.Context, address string) (Account, error)
	// BroadcastTx submits signed tx bytes and returns the tx hash once the
	// mempool accepted them.
	BroadcastTx(ctx context.Context, txBytes []byte) (string, error)
	// GetTx returns ErrTxNotFound until the transaction is in a block.
	GetTx(ctx context.Context, hash string) (*TxResult, error)
}

// GRPCLedger queries a cosmos node over its gRPC endpoint.
type GRPCLedger struct {
	conn *grpc.ClientConn
	auth authtypes.QueryClient
	txs  txtypes.ServiceClient
}

// DialLedger connects to a node. https:// endpoints use TLS, anything else is
// plaintext; a missing port defaults to 9090.
func DialLedger(endpoint string) (*GRPCLedger, error) {
	if endpoint == "" {
		return nil, errors.New("empty ledger endpoint")
	}

	target := endpoint
	useTLS := false

	switch {
	case strings.HasPrefix(endpoint, "https://"):
		target = strings.TrimPrefix(endpoint, "https://")
		useTLS = true
	case strings.HasPrefix(endpoint, "http://"):
		target = strings.TrimPrefix(endpoint, "http://")
	}

	target = strings.TrimSuffix(target, "/")
	if !strings.Contains(target, ":") {
		target += ":9090"
	}

	creds := insecure.NewCredentials()
	if useTLS {
		creds = credentials.NewTLS(nil)
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial ledger %s: %w", target, err)
	}

	return &GRPCLedger{
		conn: conn,
		auth: authtypes.NewQueryClient(conn),
		txs:  txtypes.NewServiceClient(conn),
	}, nil
}

func (l *GRPCLedger) AccountInfo(ctx context.Context, address string) (Account, error) {
	resp, err := l.auth.AccountInfo(ctx, &authtypes.QueryAccountInfoRequest{Address: address})
	if err != nil {
		return Account{}, fmt.Errorf("query account %s: %w", address, err)
	}

	return Account{Number: resp.Info.GetAccountNumber(), Sequence: resp.Info.GetSequence()}, nil
}

func (l *GRPCLedger) BroadcastTx(ctx context.Context, txBytes []byte) (string, error) {
	resp, err := l.txs.BroadcastTx(ctx, &txtypes.BroadcastTxRequest{
		TxBytes: txBytes,
		Mode:    txtypes.BroadcastMode_BROADCAST_MODE_SYNC,
	})
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}

	res := resp.GetTxResponse()
	if res.Code != 0 {
		if mismatch := parseSequenceMismatch(res.Codespace, res.Code, res.RawLog); mismatch != nil {
			return res.TxHash, fmt.Errorf("%w: %w", ErrPaymentFailed, mismatch)
		}

		return res.TxHash, fmt.Errorf("%w: check tx code %d: %s", ErrPaymentFailed, res.Code, res.RawLog)
	}

	return res.TxHash, nil
}

var sequenceMismatchLog = regexp.MustCompile(`account sequence mismatch, expected (\d+), got (\d+)`)

// parseSequenceMismatch recognises the ante handler's wrong-sequence rejection.
func parseSequenceMismatch(codespace string, code uint32, log string) *SequenceMismatchError {
	if codespace != sdkerrors.RootCodespace || code != sdkerrors.ErrWrongSequence.ABCICode() {
		return nil
	}

	m := sequenceMismatchLog.FindStringSubmatch(log)
	if m == nil {
		return nil
	}

	expected, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return nil
	}

	got, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return nil
	}

	return &SequenceMismatchError{Expected: expected, Got: got}
}

func (l *GRPCLedger) GetTx(ctx context.Context, hash string) (*TxResult, error) {
	resp, err := l.txs.GetTx(ctx, &txtypes.GetTxRequest{Hash: hash})
	if err != nil {
		if status.Code(err) == codes.NotFound || strings.Contains(err.Error(), "not found") {
			return nil, ErrTxNotFound
		}

		return nil, fmt.Errorf("get tx %s: %w", hash, err)
	}

	res := resp.GetTxResponse()

	return &TxResult{Hash: res.TxHash, Height: res.Height, Code: res.Code, Log: res.RawLog}, nil
}

func (l *GRPCLedger) Close() error {
	return l.conn.Close()
}

// Compile-time check.
var _ Ledger = (*GRPCLedger)(nil)
