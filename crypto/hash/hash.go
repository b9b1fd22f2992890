package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const HashSize = 32

// Hash is a SHA-256 digest used for content addressing of blocks and
// transactions and for address routing.
type Hash [HashSize]byte

func Sum(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// NullHash is the all-zero hash; its hex form is the 64-character zero
// string used as the genesis previous hash.
func NullHash() Hash {
	return Hash{}
}

func FromString(str string) (Hash, error) {
	data, err := hex.DecodeString(str)
	if err != nil {
		return Hash{}, err
	}
	return FromBytes(data)
}

func FromBytes(data []byte) (Hash, error) {
	if len(data) != HashSize {
		return Hash{}, fmt.Errorf("hash should be %d bytes, but it is %d bytes", HashSize, len(data))
	}
	var h Hash
	copy(h[:], data)
	return h, nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) Equal(other Hash) bool {
	return bytes.Equal(h[:], other[:])
}

func (h Hash) IsNull() bool {
	return h == Hash{}
}
