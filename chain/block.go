// Package chain builds and verifies the hash-linked block chain a shard
// keeps over its applied transactions. Transactions inside a block are not
// re-verified here; signature and balance checks are a submission-time
// obligation of the shard engine.
package chain

import (
	"fmt"
	"time"

	"github.com/fahertym/coopledger/crypto/hash"
	"github.com/fahertym/coopledger/types"
)

// genesisTimestamp is fixed so the genesis block, and with it every chain
// prefix, is recomputable across processes.
const genesisTimestamp int64 = 0

// NewBlock assembles the next block and computes its hash.
func NewBlock(index int64, txs []*types.Transaction, prevHash hash.Hash) *types.Block {
	block := &types.Block{
		Index:        index,
		Timestamp:    time.Now().Unix(),
		Transactions: txs,
		PrevHash:     prevHash,
	}
	block.Hash = block.ComputeHash()
	return block
}

// NewGenesisBlock returns the canonical first block: index 0, no
// transactions, previous hash "0"×64.
func NewGenesisBlock() *types.Block {
	block := &types.Block{
		Index:     0,
		Timestamp: genesisTimestamp,
		PrevHash:  hash.NullHash(),
	}
	block.Hash = block.ComputeHash()
	return block
}

// VerifyBlock checks the single-step chain invariants of b against its
// predecessor.
func VerifyBlock(b, prev *types.Block) error {
	if b.Index != prev.Index+1 {
		return fmt.Errorf("block index %d does not follow %d", b.Index, prev.Index)
	}
	if !b.PrevHash.Equal(prev.Hash) {
		return fmt.Errorf("block %d previous hash %s does not match %s", b.Index, b.PrevHash, prev.Hash)
	}
	if computed := b.ComputeHash(); !b.Hash.Equal(computed) {
		return fmt.Errorf("block %d hash %s does not match computed %s", b.Index, b.Hash, computed)
	}
	return nil
}

// VerifyChain checks that blocks starts with the canonical genesis and that
// every successor satisfies the single-step invariants.
func VerifyChain(blocks []*types.Block) error {
	if len(blocks) == 0 {
		return fmt.Errorf("chain is empty")
	}
	genesis := NewGenesisBlock()
	first := blocks[0]
	if first.Index != 0 || len(first.Transactions) != 0 || !first.Hash.Equal(genesis.Hash) {
		return fmt.Errorf("chain does not start with the canonical genesis block")
	}
	for i := 1; i < len(blocks); i++ {
		if err := VerifyBlock(blocks[i], blocks[i-1]); err != nil {
			return fmt.Errorf("chain invalid at height %d: %w", i, err)
		}
	}
	return nil
}
