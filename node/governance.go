package node

import (
	"github.com/fahertym/coopledger/types"
)

// Governance hooks. The DAO proposal workflow is external; these apply the
// effect of accepted proposals and persist it.

func (n *Node) AddValidator(id string) error {
	if err := n.consensus.AddMember(id, true); err != nil {
		return err
	}
	return n.persistMember(id)
}

// AddMember registers a non-validator member: reputation is tracked but
// carries no consensus weight.
func (n *Node) AddMember(id string) error {
	if err := n.consensus.AddMember(id, false); err != nil {
		return err
	}
	return n.persistMember(id)
}

func (n *Node) RemoveValidator(id string) error {
	if err := n.consensus.RemoveMember(id); err != nil {
		return err
	}
	if n.store != nil {
		return n.store.DeleteValidator(id)
	}
	return nil
}

func (n *Node) UpdateReputation(id string, delta float64) error {
	if err := n.consensus.UpdateReputation(id, delta); err != nil {
		return err
	}
	return n.persistMember(id)
}

func (n *Node) SetConsensusParams(threshold, quorum float64) error {
	return n.consensus.SetParams(threshold, quorum)
}

func (n *Node) persistMember(id string) error {
	if n.store == nil {
		return nil
	}
	member, ok := n.consensus.Member(id)
	if !ok {
		return nil
	}
	return n.store.SaveValidator(&member)
}

// LoadState restores routes, validators and shard chains from the attached
// store. Empty stores leave the genesis state untouched.
func (n *Node) LoadState() error {
	if n.store == nil {
		return nil
	}

	routes, err := n.store.LoadRoutes()
	if err != nil {
		return err
	}
	for address, shardID := range routes {
		if err := n.shards.Assign(address, shardID); err != nil {
			return err
		}
	}

	// Balances load after routes so each address lands on its pinned shard.
	err = n.store.LoadBalances(func(address string, balances, locked map[types.Currency]float64) error {
		shard, err := n.shards.Shard(n.shards.ShardOf(address))
		if err != nil {
			return err
		}
		shard.RestoreBalances(address, balances, locked)
		return nil
	})
	if err != nil {
		return err
	}

	validators, err := n.store.LoadValidators()
	if err != nil {
		return err
	}
	for i := range validators {
		n.consensus.Restore(validators[i])
	}

	for shardID := 0; shardID < n.shards.ShardCount(); shardID++ {
		blocks, err := n.store.LoadChain(shardID)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			continue
		}
		shard, err := n.shards.Shard(shardID)
		if err != nil {
			return err
		}
		full := append([]*types.Block{shard.Blocks()[0]}, blocks...)
		if err := shard.RestoreChain(full); err != nil {
			return err
		}
	}
	return nil
}
