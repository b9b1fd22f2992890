// Package state holds the partitioned ledger: one Shard per partition with
// its balances, locked funds and local chain, and a Manager that routes
// addresses to shards.
package state

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fahertym/coopledger/chain"
	"github.com/fahertym/coopledger/types"
)

// BalanceWriter persists an address's holdings after a balance mutation.
// The store implements it; a nil writer disables write-through.
type BalanceWriter interface {
	SaveBalances(address string, balances, locked map[types.Currency]float64) error
}

// Shard is one self-contained partition of the ledger. Every operation
// serializes on the shard's guard; no operation takes two shard guards at
// once.
type Shard struct {
	ID int

	mu       sync.RWMutex
	balances map[string]map[types.Currency]float64
	locked   map[string]map[types.Currency]float64
	blocks   []*types.Block
	persist  BalanceWriter

	log *logrus.Entry
}

func NewShard(id int) *Shard {
	return &Shard{
		ID:       id,
		balances: make(map[string]map[types.Currency]float64),
		locked:   make(map[string]map[types.Currency]float64),
		blocks:   []*types.Block{chain.NewGenesisBlock()},
		log:      logrus.WithField("shard", id),
	}
}

// ProcessTransaction verifies the signature, checks the sender's balance and
// moves the amount. The debit and credit happen under one guard
// acquisition.
func (s *Shard) ProcessTransaction(tx *types.Transaction) error {
	if err := tx.WellFormed(); err != nil {
		return err
	}
	if err := tx.VerifySignature(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	available := s.balances[tx.From][tx.Currency]
	if available < tx.Amount {
		return fmt.Errorf("%w: %s holds %v %s, needs %v",
			types.ErrInsufficientBalance, tx.From, available, tx.Currency, tx.Amount)
	}
	s.debit(tx.From, tx.Currency, tx.Amount)
	s.credit(tx.To, tx.Currency, tx.Amount)
	s.flush(tx.From, tx.To)
	return nil
}

// SetBalanceWriter attaches the write-through persistence hook. Mutations
// after this call flush the affected addresses.
func (s *Shard) SetBalanceWriter(w BalanceWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = w
}

// LockFunds debits the balance and parks the amount in the locked table.
// Phase 1 of a cross-shard transfer.
func (s *Shard) LockFunds(address string, currency types.Currency, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("lock amount must be positive, got %v", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	available := s.balances[address][currency]
	if available < amount {
		return fmt.Errorf("%w: %s holds %v %s, cannot lock %v",
			types.ErrInsufficientBalance, address, available, currency, amount)
	}
	s.debit(address, currency, amount)
	entry := s.locked[address]
	if entry == nil {
		entry = make(map[types.Currency]float64)
		s.locked[address] = entry
	}
	entry[currency] += amount
	s.flush(address)
	s.log.WithFields(logrus.Fields{"address": address, "amount": amount, "currency": currency.String()}).Debug("funds locked")
	return nil
}

// RemoveFundLock releases a lock without restoring the balance, finalizing
// a cross-shard debit. Zeroed entries are pruned.
func (s *Shard) RemoveFundLock(address string, currency types.Currency, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.removeLock(address, currency, amount); err != nil {
		return err
	}
	s.flush(address)
	return nil
}

// UnlockToBalance is the rollback inverse of LockFunds: the locked amount
// returns to the balance.
func (s *Shard) UnlockToBalance(address string, currency types.Currency, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.removeLock(address, currency, amount); err != nil {
		return err
	}
	s.credit(address, currency, amount)
	s.flush(address)
	s.log.WithFields(logrus.Fields{"address": address, "amount": amount}).Info("lock rolled back to balance")
	return nil
}

// Credit adds to a balance unconditionally. The coordinator uses it to
// apply the recipient side of a transfer; Mint is the funding-path variant.
func (s *Shard) Credit(address string, currency types.Currency, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("credit amount must be non-negative, got %v", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credit(address, currency, amount)
	s.flush(address)
	return nil
}

// Mint creates supply. Outside the conserved transfer path.
func (s *Shard) Mint(address string, currency types.Currency, amount float64) error {
	return s.Credit(address, currency, amount)
}

// Burn destroys supply. Outside the conserved transfer path.
func (s *Shard) Burn(address string, currency types.Currency, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("burn amount must be positive, got %v", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	available := s.balances[address][currency]
	if available < amount {
		return fmt.Errorf("%w: %s holds %v %s, cannot burn %v",
			types.ErrInsufficientBalance, address, available, currency, amount)
	}
	s.debit(address, currency, amount)
	s.flush(address)
	return nil
}

// GetBalance returns the spendable balance, zero for absent entries.
func (s *Shard) GetBalance(address string, currency types.Currency) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[address][currency]
}

// LockedBalance returns the locked amount, zero for absent entries.
func (s *Shard) LockedBalance(address string, currency types.Currency) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locked[address][currency]
}

// Balances returns every balance the address holds.
func (s *Shard) Balances(address string) map[types.Currency]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.Currency]float64, len(s.balances[address]))
	for currency, amount := range s.balances[address] {
		out[currency] = amount
	}
	return out
}

// Addresses lists every address holding a balance on the shard.
func (s *Shard) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.balances))
	for address := range s.balances {
		out = append(out, address)
	}
	return out
}

// Currencies lists every currency held on the shard.
func (s *Shard) Currencies() []types.Currency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[types.Currency]bool)
	for _, entry := range s.balances {
		for currency := range entry {
			seen[currency] = true
		}
	}
	out := make([]types.Currency, 0, len(seen))
	for currency := range seen {
		out = append(out, currency)
	}
	return out
}

// HasLockedFunds reports whether any lock is outstanding on the shard.
func (s *Shard) HasLockedFunds() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locked) > 0
}

// AppendBlock verifies the block against the current tip and appends it.
// Accepted blocks are final.
func (s *Shard) AppendBlock(b *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tip := s.blocks[len(s.blocks)-1]
	if err := chain.VerifyBlock(b, tip); err != nil {
		return err
	}
	s.blocks = append(s.blocks, b)
	return nil
}

// Blocks returns the local chain, genesis first.
func (s *Shard) Blocks() []*types.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Block, len(s.blocks))
	copy(out, s.blocks)
	return out
}

// Tip returns the newest block.
func (s *Shard) Tip() *types.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[len(s.blocks)-1]
}

// RestoreChain replaces the local chain wholesale, used when loading
// persisted state at startup.
func (s *Shard) RestoreChain(blocks []*types.Block) error {
	if err := chain.VerifyChain(blocks); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = make([]*types.Block, len(blocks))
	copy(s.blocks, blocks)
	return nil
}

// sums of balances and locked funds for the conservation audit.
func (s *Shard) totals(currency types.Currency) (balance, locked float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.balances {
		balance += entry[currency]
	}
	for _, entry := range s.locked {
		locked += entry[currency]
	}
	return balance, locked
}

// RestoreBalances injects persisted holdings at startup. It does not flush
// back to the writer.
func (s *Shard) RestoreBalances(address string, balances, locked map[types.Currency]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(balances) > 0 {
		s.balances[address] = copyHoldings(balances)
	}
	if len(locked) > 0 {
		s.locked[address] = copyHoldings(locked)
	}
}

// flush writes the affected addresses through to the balance writer. It
// assumes the guard is held. A write failure leaves the in-memory state
// authoritative and is surfaced to the operator through the log.
func (s *Shard) flush(addresses ...string) {
	if s.persist == nil {
		return
	}
	for _, address := range addresses {
		err := s.persist.SaveBalances(address, copyHoldings(s.balances[address]), copyHoldings(s.locked[address]))
		if err != nil {
			s.log.WithFields(logrus.Fields{"address": address, "error": err}).Error("balance write-through failed")
		}
	}
}

func copyHoldings(entry map[types.Currency]float64) map[types.Currency]float64 {
	if len(entry) == 0 {
		return nil
	}
	out := make(map[types.Currency]float64, len(entry))
	for currency, amount := range entry {
		out[currency] = amount
	}
	return out
}

// debit and credit assume the guard is held.
func (s *Shard) debit(address string, currency types.Currency, amount float64) {
	entry := s.balances[address]
	entry[currency] -= amount
	if entry[currency] == 0 {
		delete(entry, currency)
		if len(entry) == 0 {
			delete(s.balances, address)
		}
	}
}

func (s *Shard) credit(address string, currency types.Currency, amount float64) {
	entry := s.balances[address]
	if entry == nil {
		entry = make(map[types.Currency]float64)
		s.balances[address] = entry
	}
	entry[currency] += amount
}

func (s *Shard) removeLock(address string, currency types.Currency, amount float64) error {
	entry := s.locked[address]
	held := entry[currency]
	if held < amount {
		return fmt.Errorf("%w: %s has %v %s locked, cannot release %v",
			types.ErrInsufficientBalance, address, held, currency, amount)
	}
	entry[currency] -= amount
	if entry[currency] == 0 {
		delete(entry, currency)
		if len(entry) == 0 {
			delete(s.locked, address)
		}
	}
	return nil
}
