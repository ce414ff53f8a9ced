package container

import (
	"fmt"
	"time"

	"github.com/cosmos/cosmos-sdk/client"
	sdk "github.com/cosmos/cosmos-sdk/types"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	"github.com/samber/do"
	"github.com/serroba/nillion-storage-api/internal/metrics"
	"github.com/serroba/nillion-storage-api/internal/nillion"
	"github.com/serroba/nillion-storage-api/internal/payment"
	"go.uber.org/zap"
)

const gatewayTimeout = 30 * time.Second

// memoryPayee is the module account that collects fees on the in-process network.
const memoryPayee = "nillion-memory-network"

// PaymentPackage provides the wallet, the ledger, the network and the
// quote-and-pay sequencer. The memory network settles on an in-process ledger
// that decodes the same signed transactions a chain would receive.
func PaymentPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (client.TxConfig, error) {
		return payment.NewTxConfig(do.MustInvoke[*Options](i).AddressPrefix)
	})

	do.Provide(injector, func(i *do.Injector) (*payment.Wallet, error) {
		opts := do.MustInvoke[*Options](i)

		return payment.NewWalletFromHex(opts.PrivateKey, opts.AddressPrefix)
	})

	do.Provide(injector, func(i *do.Injector) (payment.Ledger, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.Network == NetworkMemory {
			return payment.NewMemoryLedger(do.MustInvoke[client.TxConfig](i)), nil
		}

		ledger, err := payment.DialLedger(opts.LedgerGRPC)
		if err != nil {
			return nil, err
		}

		do.MustInvoke[*Closer](i).Add(ledger.Close)

		return ledger, nil
	})

	do.Provide(injector, func(i *do.Injector) (nillion.Network, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.Network == NetworkGateway {
			return nillion.NewClient(opts.GatewayURL, opts.ClusterID, gatewayTimeout), nil
		}

		payee, err := sdk.Bech32ifyAddressBytes(opts.AddressPrefix, authtypes.NewModuleAddress(memoryPayee))
		if err != nil {
			return nil, fmt.Errorf("memory payee: %w", err)
		}

		return nillion.NewMemoryNetwork(payee, nillion.DefaultPricing()), nil
	})

	do.Provide(injector, func(i *do.Injector) (*payment.Sequencer, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		payer := payment.NewTxPayer(
			do.MustInvoke[*payment.Wallet](i),
			do.MustInvoke[payment.Ledger](i),
			do.MustInvoke[client.TxConfig](i),
			payment.DefaultPayerConfig(opts.ChainID),
			logger,
		)

		return payment.NewSequencer(
			do.MustInvoke[nillion.Network](i),
			payer,
			opts.MaxCost,
			do.MustInvoke[*metrics.Collector](i),
			logger,
		), nil
	})
}
