// Package keys provides secp256k1 validator keys and signature recovery.
package keys

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrSignerMismatch = errors.New("signature does not match signer")

// Key is a validator's secp256k1 signing key
type Key struct {
	priv *ecdsa.PrivateKey
	addr common.Address
}

func Generate() (*Key, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ecdsa key: %w", err)
	}

	return newKey(priv), nil
}

// FromHex parses a hex encoded private key, with or without 0x prefix
func FromHex(s string) (*Key, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}

	priv, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return newKey(priv), nil
}

func newKey(priv *ecdsa.PrivateKey) *Key {
	return &Key{
		priv: priv,
		addr: crypto.PubkeyToAddress(priv.PublicKey),
	}
}

func (k *Key) Address() common.Address {
	return k.addr
}

// Sign computes the recoverable signature of digest. A digest that is not
// 32 bytes long is hashed first
func (k *Key) Sign(digest []byte) []byte {
	if len(digest) != common.HashLength {
		digest = crypto.Keccak256(digest)
	}

	sig, err := crypto.Sign(digest, k.priv)
	if err != nil {
		panic(fmt.Errorf("failed to sign: %w", err).Error())
	}

	return sig
}

// Hex returns the 0x prefixed private key
func (k *Key) Hex() string {
	return hexutil.Encode(crypto.FromECDSA(k.priv))
}

// ECRecover verifies signatures by recovering the signer's address
type ECRecover struct{}

func (ECRecover) Verify(signer common.Address, digest, signature []byte) error {
	if len(digest) != common.HashLength {
		digest = crypto.Keccak256(digest)
	}

	pubKey, err := crypto.SigToPub(digest, signature)
	if err != nil {
		return fmt.Errorf("failed to extract pub key: %w", err)
	}

	if recovered := crypto.PubkeyToAddress(*pubKey); recovered != signer {
		return fmt.Errorf("%w: recovered %s, want %s", ErrSignerMismatch, recovered, signer)
	}

	return nil
}

// MustGenerate returns n fresh keys, panicking on failure. Intended for tests and devnets
func MustGenerate(n int) []*Key {
	out := make([]*Key, 0, n)

	for i := 0; i < n; i++ {
		k, err := Generate()
		if err != nil {
			panic(err)
		}

		out = append(out, k)
	}

	return out
}
