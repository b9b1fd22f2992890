package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/fahertym/coopledger/types"
)

const (
	blockCacheSize    = 1024
	bloomExpected     = 10000
	bloomFalsePosRate = 0.01
)

// Store is the ledger's persistence layer.
type Store struct {
	db    *Database
	cache *blockCache
}

func NewStore(db *Database) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	cache, err := newBlockCache(blockCacheSize, bloomExpected, bloomFalsePosRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cache: %w", err)
	}
	return &Store{db: db, cache: cache}, nil
}

func blockKey(shardID int, index int64) string {
	// Fixed-width index keeps badger's key order equal to chain order.
	return fmt.Sprintf("%s%d-%012d", BlockPrefix, shardID, index)
}

// SaveBlock persists one block of a shard's chain.
func (s *Store) SaveBlock(shardID int, block *types.Block) error {
	data, err := block.Marshal()
	if err != nil {
		return fmt.Errorf("marshalling block %d: %w", block.Index, err)
	}
	key := blockKey(shardID, block.Index)
	if err := s.db.Set([]byte(key), data); err != nil {
		return fmt.Errorf("storing block %d of shard %d: %w", block.Index, shardID, err)
	}
	s.cache.add(key, block)
	return nil
}

// GetBlock reads one block, serving from the cache when possible.
func (s *Store) GetBlock(shardID int, index int64) (*types.Block, error) {
	key := blockKey(shardID, index)
	if block, ok := s.cache.get(key); ok {
		return block, nil
	}
	data, err := s.db.Get([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("loading block %d of shard %d: %w", index, shardID, err)
	}
	block := new(types.Block)
	if err := block.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("decoding block %d of shard %d: %w", index, shardID, err)
	}
	s.cache.add(key, block)
	return block, nil
}

// LoadChain reads a shard's full chain in height order.
func (s *Store) LoadChain(shardID int) ([]*types.Block, error) {
	prefix := fmt.Sprintf("%s%d-", BlockPrefix, shardID)
	var blocks []*types.Block
	err := s.db.Scan([]byte(prefix), func(_, value []byte) error {
		block := new(types.Block)
		if err := block.Unmarshal(value); err != nil {
			return err
		}
		blocks = append(blocks, block)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading chain of shard %d: %w", shardID, err)
	}
	return blocks, nil
}

func (s *Store) SaveValidator(v *types.Validator) error {
	data, err := v.Marshal()
	if err != nil {
		return fmt.Errorf("marshalling validator %s: %w", v.ID, err)
	}
	return s.db.Set([]byte(ValidatorPrefix+v.ID), data)
}

func (s *Store) DeleteValidator(id string) error {
	return s.db.Delete([]byte(ValidatorPrefix + id))
}

func (s *Store) LoadValidators() ([]types.Validator, error) {
	var validators []types.Validator
	err := s.db.Scan([]byte(ValidatorPrefix), func(_, value []byte) error {
		var v types.Validator
		if err := v.Unmarshal(value); err != nil {
			return err
		}
		validators = append(validators, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading validators: %w", err)
	}
	return validators, nil
}

func (s *Store) SaveRoute(address string, shardID int) error {
	return s.db.Set([]byte(RoutePrefix+address), []byte(strconv.Itoa(shardID)))
}

func (s *Store) LoadRoutes() (map[string]int, error) {
	routes := make(map[string]int)
	err := s.db.Scan([]byte(RoutePrefix), func(key, value []byte) error {
		address := strings.TrimPrefix(string(key), RoutePrefix)
		shardID, err := strconv.Atoi(string(value))
		if err != nil {
			return fmt.Errorf("route for %s: %w", address, err)
		}
		routes[address] = shardID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading routes: %w", err)
	}
	return routes, nil
}

// balanceRecord is the persisted form of one currency an address holds.
// Currencies travel as their string form so the record survives new kinds.
type balanceRecord struct {
	Currency string  `cbor:"1,keyasint"`
	Balance  float64 `cbor:"2,keyasint,omitempty"`
	Locked   float64 `cbor:"3,keyasint,omitempty"`
}

// SaveBalances persists everything an address holds, locked funds included.
// An address holding nothing is removed. Implements state.BalanceWriter.
func (s *Store) SaveBalances(address string, balances, locked map[types.Currency]float64) error {
	key := []byte(BalancePrefix + address)
	if len(balances) == 0 && len(locked) == 0 {
		return s.db.Delete(key)
	}

	byCurrency := make(map[string]*balanceRecord, len(balances)+len(locked))
	record := func(c types.Currency) *balanceRecord {
		name := c.String()
		r, ok := byCurrency[name]
		if !ok {
			r = &balanceRecord{Currency: name}
			byCurrency[name] = r
		}
		return r
	}
	for currency, amount := range balances {
		record(currency).Balance = amount
	}
	for currency, amount := range locked {
		record(currency).Locked = amount
	}

	records := make([]balanceRecord, 0, len(byCurrency))
	for _, r := range byCurrency {
		records = append(records, *r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Currency < records[j].Currency })

	data, err := cbor.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshalling balances of %s: %w", address, err)
	}
	return s.db.Set(key, data)
}

// LoadBalances replays every persisted holding through visit.
func (s *Store) LoadBalances(visit func(address string, balances, locked map[types.Currency]float64) error) error {
	err := s.db.Scan([]byte(BalancePrefix), func(key, value []byte) error {
		address := strings.TrimPrefix(string(key), BalancePrefix)
		var records []balanceRecord
		if err := cbor.Unmarshal(value, &records); err != nil {
			return fmt.Errorf("balances of %s: %w", address, err)
		}
		balances := make(map[types.Currency]float64)
		locked := make(map[types.Currency]float64)
		for _, r := range records {
			currency, err := types.ParseCurrency(r.Currency)
			if err != nil {
				return fmt.Errorf("balances of %s: %w", address, err)
			}
			if r.Balance != 0 {
				balances[currency] = r.Balance
			}
			if r.Locked != 0 {
				locked[currency] = r.Locked
			}
		}
		return visit(address, balances, locked)
	})
	if err != nil {
		return fmt.Errorf("loading balances: %w", err)
	}
	return nil
}

// sortedValidators returns the persisted validator set ordered by id, the
// order the snapshot writer requires.
func (s *Store) sortedValidators() ([]types.Validator, error) {
	validators, err := s.LoadValidators()
	if err != nil {
		return nil, err
	}
	sort.Slice(validators, func(i, j int) bool { return validators[i].ID < validators[j].ID })
	return validators, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
