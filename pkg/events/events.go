package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type tags each audit event.
type Type string

const (
	TypeOrderFilled        Type = "order_filled"
	TypeOrderCancelled     Type = "order_cancelled"
	TypeCounterIncremented Type = "counter_incremented"
	TypeRoyaltyLocked      Type = "royalty_locked"
	TypeRoyaltyUnlocked    Type = "royalty_unlocked"
	TypeResaleAuthorized   Type = "resale_authorized"
)

// Event is an append-only audit record, one per committed operation. Address
// and amount fields are strings (EIP-55 / decimal) so the payload is stable
// across JSON round-trips.
type Event struct {
	Type      Type   `json:"type"`
	Timestamp int64  `json:"ts"` // unix seconds
	OrderHash string `json:"order_hash,omitempty"`

	Maker      string `json:"maker,omitempty"`
	Taker      string `json:"taker,omitempty"`
	Owner      string `json:"owner,omitempty"`
	Asset      string `json:"asset,omitempty"`
	Identifier string `json:"identifier,omitempty"`

	Price      string `json:"price,omitempty"`
	Royalty    string `json:"royalty,omitempty"`
	Amount     uint64 `json:"amount,omitempty"`
	NewCounter uint64 `json:"new_counter,omitempty"`

	// Unlock resolution: "payout" (owner-authorized) or "refund" (post-resale).
	Resolution string `json:"resolution,omitempty"`
}

// Sink receives committed audit events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Broadcaster fans committed events out to attached sinks. Emission is
// best-effort: a failing sink is logged and skipped, never blocks settlement.
type Broadcaster struct {
	mu    sync.RWMutex
	sinks []Sink
	log   *zap.SugaredLogger
}

func NewBroadcaster(log *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{log: log}
}

func (b *Broadcaster) Attach(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

func (b *Broadcaster) Emit(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Publish(context.Background(), ev); err != nil && b.log != nil {
			b.log.Warnw("event_sink_failed", "type", ev.Type, "err", err)
		}
	}
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }
