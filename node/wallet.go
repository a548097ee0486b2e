package node

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Wallet holds the matcher's signing key.
type Wallet struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewWallet derives the matcher keypair from a seed of any length,
// hashed to 32 bytes with blake2b.
func NewWallet(seed []byte) (*Wallet, error) {
	sum := blake2b.Sum256(seed)
	priv := ed25519.NewKeyFromSeed(sum[:])
	return &Wallet{
		Public:  priv.Public().(ed25519.PublicKey),
		private: priv,
	}, nil
}

// Address renders the matcher's base58 account address.
func (w *Wallet) Address() string {
	sum := blake2b.Sum256(w.Public)
	return base58.Encode(sum[:20])
}

// Sign produces an ed25519 signature over body.
func (w *Wallet) Sign(body []byte) []byte {
	return ed25519.Sign(w.private, body)
}

// PrivateKey exposes the signing key for transaction emission.
func (w *Wallet) PrivateKey() ed25519.PrivateKey { return w.private }
