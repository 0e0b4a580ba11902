// Package ledgermemory is an in-process transaction ledger for development
// and tests.
package ledgermemory

import (
	"context"
	"sync"

	"fraudengine/internal/reversal/ports"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
)

type Ledger struct {
	mu         sync.RWMutex
	txs        map[id.TransactionID]ports.Transaction
	reversed   map[id.TransactionID]int
	reverseErr error
	lookupErr  error
}

func New() *Ledger {
	return &Ledger{
		txs:      make(map[id.TransactionID]ports.Transaction),
		reversed: make(map[id.TransactionID]int),
	}
}

// Add records a settled transaction.
func (l *Ledger) Add(tx ports.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[tx.ID] = tx
}

func (l *Ledger) Lookup(ctx context.Context, txID id.TransactionID) (*ports.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.lookupErr != nil {
		return nil, l.lookupErr
	}
	tx, ok := l.txs[txID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &tx, nil
}

// ReverseBalance is idempotent: reversing twice counts both calls but moves
// money once.
func (l *Ledger) ReverseBalance(ctx context.Context, txID id.TransactionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reverseErr != nil {
		return l.reverseErr
	}
	if _, ok := l.txs[txID]; !ok {
		return sentinel.ErrNotFound
	}
	l.reversed[txID]++
	return nil
}

// FailReversals makes ReverseBalance return err until called with nil.
func (l *Ledger) FailReversals(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reverseErr = err
}

// FailLookups makes Lookup return err until called with nil.
func (l *Ledger) FailLookups(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lookupErr = err
}

// ReversalCalls reports how many successful reversals the transaction received.
func (l *Ledger) ReversalCalls(txID id.TransactionID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reversed[txID]
}

var _ ports.TransactionLedger = (*Ledger)(nil)
