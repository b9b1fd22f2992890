// Package node assembles the ledger subsystems behind the submission API
// that external collaborators (HTTP gateway, CLI, contract VM) consume. The
// VM holds no privileged path: its hooks are these same methods.
package node

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fahertym/coopledger/chain"
	"github.com/fahertym/coopledger/consensus"
	"github.com/fahertym/coopledger/crossshard"
	"github.com/fahertym/coopledger/state"
	"github.com/fahertym/coopledger/store"
	"github.com/fahertym/coopledger/types"
)

// VoteSource collects validator votes on a proposed block. The default
// source approves locally on behalf of every validator; a networked
// deployment plugs in its own.
type VoteSource interface {
	Votes(blockHash string) []types.Vote
}

// Options configure a Node. Store and Votes may be nil.
type Options struct {
	ShardCount          int
	ConsensusThreshold  float64
	ConsensusQuorum     float64
	QueueCapacity       int
	WaitPollInterval    time.Duration
	UnlockRetryAttempts int
	Store               *store.Store
	Events              crossshard.EventSink
	Votes               VoteSource
}

type Node struct {
	shards      *state.Manager
	consensus   *consensus.Engine
	coordinator *crossshard.Coordinator
	store       *store.Store
	votes       VoteSource
	log         *logrus.Entry
}

func New(opts Options) (*Node, error) {
	if opts.ShardCount <= 0 {
		opts.ShardCount = 4
	}
	if opts.ConsensusThreshold == 0 {
		opts.ConsensusThreshold = consensus.DefaultThreshold
	}
	if opts.ConsensusQuorum == 0 {
		opts.ConsensusQuorum = consensus.DefaultQuorum
	}

	shards, err := state.NewManager(opts.ShardCount)
	if err != nil {
		return nil, err
	}
	engine, err := consensus.NewEngine(opts.ConsensusThreshold, opts.ConsensusQuorum)
	if err != nil {
		return nil, err
	}

	n := &Node{
		shards:    shards,
		consensus: engine,
		store:     opts.Store,
		votes:     opts.Votes,
		log:       logrus.WithField("component", "node"),
	}
	if n.votes == nil {
		n.votes = &localVoteSource{engine: engine}
	}
	if opts.Store != nil {
		shards.SetBalanceWriter(opts.Store)
	}
	n.coordinator = crossshard.NewCoordinator(shards, crossshard.Options{
		QueueCapacity:       opts.QueueCapacity,
		WaitPollInterval:    opts.WaitPollInterval,
		UnlockRetryAttempts: opts.UnlockRetryAttempts,
		Events:              opts.Events,
	})
	return n, nil
}

// Shards exposes the state manager for read-side collaborators.
func (n *Node) Shards() *state.Manager { return n.shards }

// Consensus exposes the consensus engine.
func (n *Node) Consensus() *consensus.Engine { return n.consensus }

// Coordinator exposes the cross-shard coordinator.
func (n *Node) Coordinator() *crossshard.Coordinator { return n.coordinator }

// SubmitTransaction routes a signed transaction. Same-shard transfers are
// applied and sealed into the next block on the owning shard; cross-shard
// transfers are handed to the coordinator. Either way the signature is
// checked at submission and never retried.
func (n *Node) SubmitTransaction(tx *types.Transaction) error {
	fromShard := n.shards.ShardOf(tx.From)
	toShard := n.shards.ShardOf(tx.To)
	if fromShard != toShard {
		if err := tx.WellFormed(); err != nil {
			return err
		}
		if err := tx.VerifySignature(); err != nil {
			return err
		}
		_, err := n.coordinator.Initiate(tx)
		return err
	}
	return n.produceBlock(fromShard, tx)
}

// SubmitCrossShard hands a transfer to the coordinator and returns its
// tracking id.
func (n *Node) SubmitCrossShard(tx *types.Transaction) (string, error) {
	if err := tx.WellFormed(); err != nil {
		return "", err
	}
	if err := tx.VerifySignature(); err != nil {
		return "", err
	}
	return n.coordinator.Initiate(tx)
}

// Status reports a cross-shard transfer's progress.
func (n *Node) Status(txnID string) (types.CrossShardTxn, bool) {
	return n.coordinator.GetStatus(txnID)
}

// WaitFor blocks until a cross-shard transfer reaches a terminal state or
// the timeout elapses.
func (n *Node) WaitFor(txnID string, timeout time.Duration) (types.CrossShardStatus, error) {
	return n.coordinator.WaitFor(txnID, timeout)
}

// Balance reads a balance through the routing table.
func (n *Node) Balance(address string, currency types.Currency) float64 {
	return n.shards.GetBalance(address, currency)
}

// LockedBalance reads the locked amount for an address.
func (n *Node) LockedBalance(address string, currency types.Currency) float64 {
	return n.shards.LockedBalance(address, currency)
}

// Balances lists every balance an address holds.
func (n *Node) Balances(address string) map[types.Currency]float64 {
	return n.shards.Balances(address)
}

// ListBlocks returns a shard's chain, genesis first.
func (n *Node) ListBlocks(shardID int) ([]*types.Block, error) {
	shard, err := n.shards.Shard(shardID)
	if err != nil {
		return nil, err
	}
	return shard.Blocks(), nil
}

// AssignAddress pins an address to a shard and persists the route.
func (n *Node) AssignAddress(address string, shardID int) error {
	if err := n.shards.Assign(address, shardID); err != nil {
		return err
	}
	if n.store != nil {
		return n.store.SaveRoute(address, shardID)
	}
	return nil
}

// Mint funds an address outside the conserved transfer path, for genesis
// and testnet accounts.
func (n *Node) Mint(address string, currency types.Currency, amount float64) error {
	return n.shards.Mint(address, currency, amount)
}

// Burn destroys funds outside the conserved transfer path.
func (n *Node) Burn(address string, currency types.Currency, amount float64) error {
	return n.shards.Burn(address, currency, amount)
}

// produceBlock seals a same-shard transfer into the next block on the
// shard's chain. Consensus ratifies the proposed block before the transfer
// touches any balance, so a rejected block leaves state untouched.
func (n *Node) produceBlock(shardID int, tx *types.Transaction) error {
	shard, err := n.shards.Shard(shardID)
	if err != nil {
		return err
	}
	tip := shard.Tip()
	block := chain.NewBlock(tip.Index+1, []*types.Transaction{tx}, tip.Hash)

	if n.hasValidators() {
		accepted, err := n.consensus.ValidateBlock(block.Hash.String(), n.votes.Votes(block.Hash.String()))
		if err != nil {
			return fmt.Errorf("block %d on shard %d not ratified: %w", block.Index, shardID, err)
		}
		if !accepted {
			return fmt.Errorf("block %d on shard %d rejected by consensus", block.Index, shardID)
		}
	}

	if err := n.shards.Transfer(tx); err != nil {
		return err
	}
	if err := shard.AppendBlock(block); err != nil {
		return err
	}
	if n.store != nil {
		if err := n.store.SaveBlock(shardID, block); err != nil {
			return err
		}
	}
	n.log.WithFields(logrus.Fields{
		"shard": shardID, "index": block.Index, "txs": 1,
	}).Info("block produced")
	return nil
}

func (n *Node) hasValidators() bool {
	for _, m := range n.consensus.Members() {
		if m.IsValidator {
			return true
		}
	}
	return false
}

// Close drains the coordinator to terminal states.
func (n *Node) Close() {
	n.coordinator.Close()
}

// localVoteSource approves every proposal on behalf of every validator.
type localVoteSource struct {
	engine *consensus.Engine
}

func (l *localVoteSource) Votes(string) []types.Vote {
	members := l.engine.Members()
	votes := make([]types.Vote, 0, len(members))
	for _, m := range members {
		if m.IsValidator {
			votes = append(votes, types.Vote{VoterID: m.ID, InFavor: true})
		}
	}
	return votes
}
