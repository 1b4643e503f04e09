// Package storage persists settlement state in pebble: order status records,
// maker counters, and escrow locks, all as JSON values under prefixed keys.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/morrowlabs/royaltylock/pkg/assets"
	"github.com/morrowlabs/royaltylock/pkg/engine"
	"github.com/morrowlabs/royaltylock/pkg/escrow"
)

type Store struct {
	db *pebble.DB
}

func NewStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveOrderStatus persists a status record after a committed cancel or fill.
func (s *Store) SaveOrderStatus(hash common.Hash, status engine.OrderStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := s.db.Set(statusKey(hash), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

// ForEachOrderStatus iterates every persisted status record.
func (s *Store) ForEachOrderStatus(fn func(hash common.Hash, status engine.OrderStatus) error) error {
	return s.forEach(prefixStatus, func(k, v []byte) error {
		var st engine.OrderStatus
		if err := json.Unmarshal(v, &st); err != nil {
			return fmt.Errorf("failed to unmarshal status: %w", err)
		}
		hash := common.HexToHash(string(k[len(prefixStatus):]))
		return fn(hash, st)
	})
}

// SaveCounter persists a maker's counter as big-endian uint64.
func (s *Store) SaveCounter(maker common.Address, counter uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)
	if err := s.db.Set(counterKey(maker), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to save counter: %w", err)
	}
	return nil
}

func (s *Store) ForEachCounter(fn func(maker common.Address, counter uint64) error) error {
	return s.forEach(prefixCounter, func(k, v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("malformed counter value for key %q", k)
		}
		maker := common.HexToAddress(string(k[len(prefixCounter):]))
		return fn(maker, binary.BigEndian.Uint64(v))
	})
}

// SaveLock persists an escrow lock record.
func (s *Store) SaveLock(owner common.Address, key assets.ItemKey, lock escrow.Lock) error {
	data, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("failed to marshal lock: %w", err)
	}
	if err := s.db.Set(lockKey(owner, key), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save lock: %w", err)
	}
	return nil
}

// DeleteLock removes a fully resolved lock.
func (s *Store) DeleteLock(owner common.Address, key assets.ItemKey) error {
	if err := s.db.Delete(lockKey(owner, key), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	return nil
}

func (s *Store) ForEachLock(fn func(owner common.Address, key assets.ItemKey, lock escrow.Lock) error) error {
	return s.forEach(prefixLock, func(k, v []byte) error {
		owner, key, err := parseLockKey(k)
		if err != nil {
			return err
		}
		var lock escrow.Lock
		if err := json.Unmarshal(v, &lock); err != nil {
			return fmt.Errorf("failed to unmarshal lock: %w", err)
		}
		return fn(owner, key, lock)
	})
}

func (s *Store) forEach(prefix string, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keyUpperBound([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// interface checks
var (
	_ engine.StatusStore = (*Store)(nil)
	_ escrow.LockStore   = (*Store)(nil)
)
