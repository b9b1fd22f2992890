package types

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/fahertym/coopledger/crypto"
	"github.com/fahertym/coopledger/crypto/hash"
)

// Transaction is a signed transfer of one currency between two addresses.
type Transaction struct {
	From      string   `cbor:"1,keyasint" json:"from"`
	To        string   `cbor:"2,keyasint" json:"to"`
	Amount    float64  `cbor:"3,keyasint" json:"amount"`
	Currency  Currency `cbor:"4,keyasint" json:"currency"`
	Timestamp int64    `cbor:"5,keyasint" json:"timestamp"`
	Signature []byte   `cbor:"6,keyasint,omitempty" json:"signature,omitempty"`
	PublicKey []byte   `cbor:"7,keyasint,omitempty" json:"public_key,omitempty"`
}

// CanonicalBytes is the byte string that is signed and hashed. The framing
// is a wire contract shared with every other implementation: UTF-8 from,
// UTF-8 to, little-endian IEEE-754 amount, currency tag and payload,
// little-endian timestamp.
func (tx *Transaction) CanonicalBytes() []byte {
	b := make([]byte, 0, len(tx.From)+len(tx.To)+len(tx.Currency.Ref)+17)
	b = append(b, []byte(tx.From)...)
	b = append(b, []byte(tx.To)...)
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(tx.Amount))
	b = tx.Currency.Encode(b)
	b = binary.LittleEndian.AppendUint64(b, uint64(tx.Timestamp))
	return b
}

func (tx *Transaction) Hash() hash.Hash {
	return hash.Sum(tx.CanonicalBytes())
}

// Sign signs the canonical bytes and attaches both the signature and the
// signer's public key.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	tx.Signature = priv.Sign(tx.CanonicalBytes())
	tx.PublicKey = priv.Public().Bytes()
}

// VerifySignature checks the attached signature against the attached public
// key. A transaction with no signature or no key is invalid.
func (tx *Transaction) VerifySignature() error {
	if len(tx.PublicKey) == 0 || len(tx.Signature) == 0 {
		return fmt.Errorf("%w: transaction is unsigned", ErrSignatureInvalid)
	}
	pub, err := crypto.PublicKeyFromBytes(tx.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if err := pub.Verify(tx.CanonicalBytes(), tx.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// WellFormed rejects transactions the balance logic cannot process.
func (tx *Transaction) WellFormed() error {
	if tx.Amount <= 0 || math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		return fmt.Errorf("transaction amount must be positive, got %v", tx.Amount)
	}
	if tx.From == "" || tx.To == "" {
		return fmt.Errorf("transaction addresses must be non-empty")
	}
	return nil
}

func (tx *Transaction) Marshal() ([]byte, error) {
	return cborEnc.Marshal(tx)
}

func (tx *Transaction) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, tx)
}
