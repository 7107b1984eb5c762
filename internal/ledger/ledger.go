// Package ledger supplies a reference implementation of the external
// trade-execution callback spec.md §6 specifies only as an interface:
// a sink that accepts (underlying_id, signed_quantity) and never fails.
// Every accepted trade is assigned a UUID, mirroring the teacher's
// model.LedgerEntry/uuid.New().String() convention for trade records.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is an immutable record of one underlying trade accepted by Ledger.
type Entry struct {
	ID           string    `json:"id"`
	UnderlyingID int       `json:"underlying_id"`
	Quantity     float64   `json:"quantity"` // positive buy, negative sell
	Timestamp    time.Time `json:"timestamp"`
}

// Ledger is an append-only, in-memory record of every trade the engine's
// hedge controller and direct buy/sell calls have placed. It never
// rejects a trade — registering Ledger.Trade as the engine's trade
// callback means BuyUnderlying/SellUnderlying and both hedge paths
// always succeed.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{}
}

// Trade records the trade and returns nil. Matches hedge.TradeFunc.
func (l *Ledger) Trade(underlyingID int, signedQuantity float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{
		ID:           uuid.New().String(),
		UnderlyingID: underlyingID,
		Quantity:     signedQuantity,
		Timestamp:    time.Now(),
	})
	return nil
}

// Entries returns a copy of every trade recorded so far.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
