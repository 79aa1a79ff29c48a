package main

import (
	"sync"

	"github.com/exchangenetwork/xnet/src/xnet"
)

// ExchangeLedger is the append-only list of finalized exchanges, newest first.
// Each pair of users forms its own chain through proposal predecessors.
type ExchangeLedger struct {
	mu     sync.RWMutex
	items  []xnet.Exchange
	hashes map[xnet.Hash]struct{}
	events *EventHub
}

// NewExchangeLedger creates an empty ledger.
func NewExchangeLedger(events *EventHub) *ExchangeLedger {
	return &ExchangeLedger{
		hashes: make(map[xnet.Hash]struct{}),
		events: events,
	}
}

// Append inserts e at the head of the ledger. It returns false, leaving the
// ledger unchanged, if an exchange with the same hash is already present.
func (l *ExchangeLedger) Append(e xnet.Exchange) bool {
	l.mu.Lock()
	if _, exists := l.hashes[e.Hash]; exists {
		l.mu.Unlock()
		return false
	}
	l.hashes[e.Hash] = struct{}{}
	l.items = append([]xnet.Exchange{e}, l.items...)
	size := len(l.items)
	l.mu.Unlock()

	ledgerSizeGauge.Set(float64(size))
	l.events.Publish(Event{Collection: "exchanges", Action: ActionInsert, Item: e})
	return true
}

// PredecessorFor returns the most recent exchange between users a and b, in
// either role.
func (l *ExchangeLedger) PredecessorFor(a, b xnet.ID) (xnet.Exchange, bool) {
	if a == b {
		return xnet.Exchange{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, e := range l.items {
		x := e.Acceptance.Proposal.Proposer
		y := e.Acceptance.Acceptor
		if (x == a && y == b) || (x == b && y == a) {
			return e, true
		}
	}
	return xnet.Exchange{}, false
}

// ByTokenID returns the exchanges whose proposal mentions the qualified token id.
func (l *ExchangeLedger) ByTokenID(id xnet.ID) []xnet.Exchange {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []xnet.Exchange
	for _, e := range l.items {
		p := e.Acceptance.Proposal
		if xnet.ContainsTokenID(p.Wants, id) || xnet.ContainsTokenID(p.Gives, id) {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the exchange with the given hash digest.
func (l *ExchangeLedger) Get(digest xnet.ID) (xnet.Exchange, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, e := range l.items {
		if e.Hash.Digest == digest {
			return e, true
		}
	}
	return xnet.Exchange{}, false
}

// List returns the exchanges, newest first.
func (l *ExchangeLedger) List() []xnet.Exchange {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]xnet.Exchange, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of exchanges.
func (l *ExchangeLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}
