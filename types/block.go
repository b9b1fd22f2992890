package types

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"

	"github.com/fahertym/coopledger/crypto/hash"
)

// Block is one link in a shard's hash-linked chain.
type Block struct {
	Index        int64          `cbor:"1,keyasint" json:"index"`
	Timestamp    int64          `cbor:"2,keyasint" json:"timestamp"`
	Transactions []*Transaction `cbor:"3,keyasint" json:"transactions"`
	PrevHash     hash.Hash      `cbor:"4,keyasint" json:"previous_hash"`
	Hash         hash.Hash      `cbor:"5,keyasint" json:"hash"`
}

// ComputeHash returns SHA256(index ‖ timestamp ‖ concat(tx hashes) ‖
// previous hash), with the integers framed little-endian.
func (b *Block) ComputeHash() hash.Hash {
	buf := make([]byte, 0, 16+len(b.Transactions)*hash.HashSize+hash.HashSize)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(b.Index))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(b.Timestamp))
	for _, tx := range b.Transactions {
		h := tx.Hash()
		buf = append(buf, h[:]...)
	}
	buf = append(buf, b.PrevHash[:]...)
	return hash.Sum(buf)
}

func (b *Block) Marshal() ([]byte, error) {
	return cborEnc.Marshal(b)
}

func (b *Block) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, b)
}
