package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// FillLedger holds per-order cancellation flags and cumulative filled
// amounts, keyed by canonical order hash. The check-then-commit pair is
// atomic per order under the engine's operation lock: CheckAvailable returns
// the pre-update status and the caller commits only after every side effect
// of the fill has succeeded.
type FillLedger struct {
	mu     sync.Mutex
	status map[common.Hash]*OrderStatus
}

func NewFillLedger() *FillLedger {
	return &FillLedger{status: make(map[common.Hash]*OrderStatus)}
}

// Status returns a copy of the order's status record.
func (l *FillLedger) Status(hash common.Hash) OrderStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.status[hash]; ok {
		return *st
	}
	return OrderStatus{}
}

// Restore reinstates a persisted status record at startup.
func (l *FillLedger) Restore(hash common.Hash, st OrderStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status[hash] = &st
}

// Cancel sets the cancelled flag. Idempotent: re-cancelling is not an error.
func (l *FillLedger) Cancel(hash common.Hash) OrderStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.ensure(hash)
	st.Cancelled = true
	return *st
}

// CheckAvailable validates that a fill of the given amount can proceed and
// returns the pre-update status.
func (l *FillLedger) CheckAvailable(hash common.Hash, expiration, now int64, total, fill uint64) (OrderStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.ensure(hash)
	if st.Cancelled {
		return *st, ErrOrderCancelled
	}
	if now >= expiration {
		return *st, ErrOrderExpired
	}
	if total-st.FilledAmount < fill {
		return *st, ErrInsufficientAmountAvailable
	}
	return *st, nil
}

// Commit records a fill after all side effects succeeded.
func (l *FillLedger) Commit(hash common.Hash, fill uint64) OrderStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.ensure(hash)
	st.FilledAmount += fill
	return *st
}

func (l *FillLedger) ensure(hash common.Hash) *OrderStatus {
	if st, ok := l.status[hash]; ok {
		return st
	}
	st := &OrderStatus{}
	l.status[hash] = st
	return st
}
