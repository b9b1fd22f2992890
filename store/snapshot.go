package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fahertym/coopledger/types"
)

// WriteSnapshot dumps the persisted state into dir using a deterministic
// layout: one shard-<id>.chain file per shard holding length-prefixed CBOR
// block frames, validators.dat with one length-prefixed record per member
// sorted by id, and routing.dat with sorted address/shard lines. Equal
// state produces byte-identical files, so snapshots compare directly.
func (s *Store) WriteSnapshot(dir string, shardCount int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	for shardID := 0; shardID < shardCount; shardID++ {
		blocks, err := s.LoadChain(shardID)
		if err != nil {
			return err
		}
		var buf []byte
		for _, block := range blocks {
			frame, err := block.Marshal()
			if err != nil {
				return fmt.Errorf("marshalling block %d of shard %d: %w", block.Index, shardID, err)
			}
			buf = appendFrame(buf, frame)
		}
		name := filepath.Join(dir, fmt.Sprintf("shard-%d.chain", shardID))
		if err := os.WriteFile(name, buf, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	validators, err := s.sortedValidators()
	if err != nil {
		return err
	}
	var vbuf []byte
	for i := range validators {
		record, err := validators[i].Marshal()
		if err != nil {
			return fmt.Errorf("marshalling validator %s: %w", validators[i].ID, err)
		}
		vbuf = appendFrame(vbuf, record)
	}
	if err := os.WriteFile(filepath.Join(dir, "validators.dat"), vbuf, 0o644); err != nil {
		return fmt.Errorf("writing validators.dat: %w", err)
	}

	routes, err := s.LoadRoutes()
	if err != nil {
		return err
	}
	addresses := make([]string, 0, len(routes))
	for address := range routes {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	var rbuf []byte
	for _, address := range addresses {
		rbuf = append(rbuf, fmt.Sprintf("%s %d\n", address, routes[address])...)
	}
	if err := os.WriteFile(filepath.Join(dir, "routing.dat"), rbuf, 0o644); err != nil {
		return fmt.Errorf("writing routing.dat: %w", err)
	}
	return nil
}

// ReadChainSnapshot parses one shard-<id>.chain file back into blocks.
func ReadChainSnapshot(path string) ([]*types.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var blocks []*types.Block
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("truncated frame header in %s", path)
		}
		frameLen := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < frameLen {
			return nil, fmt.Errorf("truncated frame in %s", path)
		}
		block := new(types.Block)
		if err := block.Unmarshal(data[:frameLen]); err != nil {
			return nil, fmt.Errorf("decoding frame in %s: %w", path, err)
		}
		blocks = append(blocks, block)
		data = data[frameLen:]
	}
	return blocks, nil
}

func appendFrame(buf, frame []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(frame)))
	return append(buf, frame...)
}
