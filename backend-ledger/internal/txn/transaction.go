package txn

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

// ErrInvalidKey is returned when a private key cannot be parsed
var ErrInvalidKey = errors.New("invalid private key")

// Signature is one signer's ed25519 signature over the message bytes
type Signature struct {
	PublicKey domain.Address
	Signature []byte
}

// Transaction is a signed message ready for execution
type Transaction struct {
	Message    *Message
	Raw        []byte
	Signatures []Signature
}

// Keypair is an ed25519 identity
type Keypair struct {
	Public  domain.Address
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a new random identity
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return keypairFrom(pub, priv), nil
}

// KeypairFromSeed derives an identity from a 32-byte seed
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes", ErrInvalidKey, ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return keypairFrom(priv.Public().(ed25519.PublicKey), priv), nil
}

// ParseKeypair decodes a base58 64-byte private key
func ParseKeypair(s string) (*Keypair, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	return keypairFrom(priv.Public().(ed25519.PublicKey), priv), nil
}

func keypairFrom(pub ed25519.PublicKey, priv ed25519.PrivateKey) *Keypair {
	var a domain.Address
	copy(a[:], pub)
	return &Keypair{Public: a, Private: priv}
}

// String returns the base58 private key
func (k *Keypair) String() string {
	return base58.Encode(k.Private)
}

// Sign signs message bytes
func (k *Keypair) Sign(msg []byte) Signature {
	return Signature{PublicKey: k.Public, Signature: ed25519.Sign(k.Private, msg)}
}

// Build encodes msg and signs it with every signer. The first signer becomes the fee payer and transaction id.
func Build(msg *Message, signers ...*Keypair) (*Transaction, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("%w: at least one signer required", domain.ErrMissingSignature)
	}
	raw, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	tx := &Transaction{Message: msg, Raw: raw}
	for _, s := range signers {
		tx.Signatures = append(tx.Signatures, s.Sign(raw))
	}
	return tx, nil
}

// Parse reconstructs a transaction from its wire parts
func Parse(raw []byte, sigs []Signature) (*Transaction, error) {
	msg, err := DecodeMessage(raw)
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, fmt.Errorf("%w: transaction carries no signatures", domain.ErrMissingSignature)
	}
	return &Transaction{Message: msg, Raw: raw, Signatures: sigs}, nil
}

// ID returns the base58 form of the first signature
func (tx *Transaction) ID() string {
	if len(tx.Signatures) == 0 {
		return ""
	}
	return base58.Encode(tx.Signatures[0].Signature)
}

// Verify checks every signature and that every required signer signed
func (tx *Transaction) Verify() error {
	if len(tx.Signatures) == 0 {
		return fmt.Errorf("%w: transaction carries no signatures", domain.ErrMissingSignature)
	}
	seen := make(map[domain.Address]struct{}, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		if _, dup := seen[sig.PublicKey]; dup {
			return fmt.Errorf("%w: duplicate signature for %s", domain.ErrInvalidSignature, sig.PublicKey)
		}
		seen[sig.PublicKey] = struct{}{}
		if len(sig.Signature) != ed25519.SignatureSize {
			return fmt.Errorf("%w: malformed signature for %s", domain.ErrInvalidSignature, sig.PublicKey)
		}
		if !ed25519.Verify(ed25519.PublicKey(sig.PublicKey[:]), tx.Raw, sig.Signature) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidSignature, sig.PublicKey)
		}
	}
	for _, required := range tx.Message.RequiredSigners() {
		if _, ok := seen[required]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrMissingSignature, required)
		}
	}
	return nil
}

// Signers returns the public keys that signed, in order
func (tx *Transaction) Signers() []domain.Address {
	out := make([]domain.Address, 0, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		out = append(out, sig.PublicKey)
	}
	return out
}

// IsSigner reports whether addr signed the transaction
func (tx *Transaction) IsSigner(addr domain.Address) bool {
	for _, sig := range tx.Signatures {
		if sig.PublicKey == addr {
			return true
		}
	}
	return false
}
