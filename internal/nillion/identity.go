package nillion

import (
	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	"github.com/mr-tron/base58"
)

// UserKey is the signing identity derived from a user seed.
type UserKey struct {
	priv *secp256k1.PrivKey
}

// UserKeyFromSeed derives a deterministic key from an arbitrary seed string.
func UserKeyFromSeed(seed string) *UserKey {
	return &UserKey{priv: secp256k1.GenPrivKeyFromSecret([]byte(seed))}
}

// UserID is the base58 encoding of the key's address; the same seed always
// yields the same user id.
func (k *UserKey) UserID() string {
	return base58.Encode(k.priv.PubKey().Address())
}

// PublicKey returns the compressed secp256k1 public key.
func (k *UserKey) PublicKey() []byte {
	return k.priv.PubKey().Bytes()
}

// Sign signs msg with the user key.
func (k *UserKey) Sign(msg []byte) ([]byte, error) {
	return k.priv.Sign(msg)
}
