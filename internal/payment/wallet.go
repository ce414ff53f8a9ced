package payment

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

var ErrInvalidPrivateKey = errors.New("invalid wallet private key")

// Wallet is the service's paying account.
type Wallet struct {
	priv    *secp256k1.PrivKey
	address string
}

// NewWalletFromHex loads a raw 32-byte secp256k1 key encoded as hex.
func NewWalletFromHex(hexKey, prefix string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPrivateKey)
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}

	if len(key) != secp256k1.PrivKeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPrivateKey, secp256k1.PrivKeySize, len(key))
	}

	priv := &secp256k1.PrivKey{Key: key}

	address, err := sdk.Bech32ifyAddressBytes(prefix, priv.PubKey().Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}

	return &Wallet{priv: priv, address: address}, nil
}

// Address is the bech32 account address.
func (w *Wallet) Address() string {
	return w.address
}

func (w *Wallet) PubKey() cryptotypes.PubKey {
	return w.priv.PubKey()
}
