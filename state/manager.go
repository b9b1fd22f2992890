package state

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fahertym/coopledger/types"
)

// Manager owns the fixed shard set and the address routing table. The shard
// count is fixed at genesis.
type Manager struct {
	shards []*Shard

	routingMu sync.RWMutex
	routing   map[string]int
}

func NewManager(shardCount int) (*Manager, error) {
	if shardCount < 1 {
		return nil, fmt.Errorf("shard count must be positive, got %d", shardCount)
	}
	m := &Manager{
		shards:  make([]*Shard, shardCount),
		routing: make(map[string]int),
	}
	for i := range m.shards {
		m.shards[i] = NewShard(i)
	}
	return m, nil
}

func (m *Manager) ShardCount() int {
	return len(m.shards)
}

// Shard returns the shard with the given id.
func (m *Manager) Shard(id int) (*Shard, error) {
	if id < 0 || id >= len(m.shards) {
		return nil, fmt.Errorf("%w: id %d with %d shards", types.ErrShardNotFound, id, len(m.shards))
	}
	return m.shards[id], nil
}

// Shards returns the full shard set in id order.
func (m *Manager) Shards() []*Shard {
	out := make([]*Shard, len(m.shards))
	copy(out, m.shards)
	return out
}

// SetBalanceWriter attaches the write-through persistence hook to every
// shard.
func (m *Manager) SetBalanceWriter(w BalanceWriter) {
	for _, shard := range m.shards {
		shard.SetBalanceWriter(w)
	}
}

// ShardOf routes an address: the routing table entry when one exists,
// otherwise the low 8 bytes of the address's SHA-256 digest read
// little-endian, modulo the shard count.
func (m *Manager) ShardOf(address string) int {
	m.routingMu.RLock()
	id, pinned := m.routing[address]
	m.routingMu.RUnlock()
	if pinned {
		return id
	}
	digest := sha256.Sum256([]byte(address))
	return int(binary.LittleEndian.Uint64(digest[:8]) % uint64(len(m.shards)))
}

// Assign pins an address to a shard. Pinned entries are sticky.
func (m *Manager) Assign(address string, shardID int) error {
	if shardID < 0 || shardID >= len(m.shards) {
		return fmt.Errorf("%w: cannot assign %q to shard %d", types.ErrShardNotFound, address, shardID)
	}
	m.routingMu.Lock()
	defer m.routingMu.Unlock()
	m.routing[address] = shardID
	return nil
}

// Routes returns a copy of the routing table.
func (m *Manager) Routes() map[string]int {
	m.routingMu.RLock()
	defer m.routingMu.RUnlock()
	out := make(map[string]int, len(m.routing))
	for address, id := range m.routing {
		out[address] = id
	}
	return out
}

// Transfer runs the same-shard path end to end: routes the sender, refuses
// cross-shard pairs, and applies the debit and credit on the owning shard.
func (m *Manager) Transfer(tx *types.Transaction) error {
	fromShard := m.ShardOf(tx.From)
	toShard := m.ShardOf(tx.To)
	if fromShard != toShard {
		return fmt.Errorf("%w: %s and %s live on shards %d and %d, use the coordinator",
			types.ErrCrossShard, tx.From, tx.To, fromShard, toShard)
	}
	shard, err := m.Shard(fromShard)
	if err != nil {
		return err
	}
	return shard.ProcessTransaction(tx)
}

// GetBalance reads a balance through the routing table.
func (m *Manager) GetBalance(address string, currency types.Currency) float64 {
	return m.shards[m.ShardOf(address)].GetBalance(address, currency)
}

// LockedBalance reads a locked amount through the routing table.
func (m *Manager) LockedBalance(address string, currency types.Currency) float64 {
	return m.shards[m.ShardOf(address)].LockedBalance(address, currency)
}

// Balances lists every balance the address holds.
func (m *Manager) Balances(address string) map[types.Currency]float64 {
	return m.shards[m.ShardOf(address)].Balances(address)
}

// Mint funds an address on its owning shard. Outside the conserved path.
func (m *Manager) Mint(address string, currency types.Currency, amount float64) error {
	return m.shards[m.ShardOf(address)].Mint(address, currency, amount)
}

// Burn destroys funds on the owning shard. Outside the conserved path.
func (m *Manager) Burn(address string, currency types.Currency, amount float64) error {
	return m.shards[m.ShardOf(address)].Burn(address, currency, amount)
}

// TotalSupply audits the conservation invariant: the sum of balances and
// locked funds across all shards for one currency. Every operation except
// Mint and Burn preserves it.
func (m *Manager) TotalSupply(currency types.Currency) float64 {
	var total float64
	for _, shard := range m.shards {
		balance, locked := shard.totals(currency)
		total += balance + locked
	}
	return total
}
