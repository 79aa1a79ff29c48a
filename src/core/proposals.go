package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/exchangenetwork/xnet/src/xnet"
)

var (
	ErrUnknownProposal = errors.New("proposal not found")
	ErrNotPending      = errors.New("proposal already decided")
)

// ProposalStore keeps every proposal this node has seen, newest first.
// Proposals are never removed, only moved to a terminal status.
type ProposalStore struct {
	mu     sync.RWMutex
	items  []*Proposal
	events *EventHub
}

// NewProposalStore creates an empty store.
func NewProposalStore(events *EventHub) *ProposalStore {
	return &ProposalStore{events: events}
}

// Update stores p with the given status and returns the stored copy. A
// proposal without an id is inserted with a fresh one, otherwise the proposal
// with the same id is replaced.
//
// When p becomes pending or sent, every other live proposal between the same
// two users is discarded, so each pair has at most one live proposal.
func (s *ProposalStore) Update(p Proposal, status ProposalStatus) Proposal {
	p.Status = status
	isNew := p.ID == ""
	if isNew {
		p.ID = uuid.New().String()
	}

	var events []Event

	s.mu.Lock()
	if status.IsLive() {
		for _, item := range s.items {
			if item.Status.IsLive() && item.ID != p.ID && item.involves(p.Proposer, p.Receiver) {
				item.Status = StatusDiscarded
				events = append(events, Event{Collection: "proposals", Action: ActionUpdate, Item: *item})
				logger.Info("Superseded proposal", "proposalId", item.ID, "by", p.ID)
			}
		}
	}

	stored := p
	replaced := false
	if !isNew {
		for i, item := range s.items {
			if item.ID == p.ID {
				s.items[i] = &stored
				replaced = true
				break
			}
		}
	}
	if !replaced {
		s.items = append([]*Proposal{&stored}, s.items...)
		events = append(events, Event{Collection: "proposals", Action: ActionInsert, Item: stored})
	} else {
		events = append(events, Event{Collection: "proposals", Action: ActionUpdate, Item: stored})
	}
	live := s.countLiveLocked()
	s.mu.Unlock()

	liveProposalsGauge.Set(float64(live))
	for _, e := range events {
		s.events.Publish(e)
	}
	return stored
}

// SetStatus moves the live proposal with id to the terminal status. A
// proposal that already has a terminal status is returned unchanged with
// ErrNotPending.
func (s *ProposalStore) SetStatus(id string, status ProposalStatus) (Proposal, error) {
	s.mu.Lock()
	var item *Proposal
	for _, it := range s.items {
		if it.ID == id {
			item = it
			break
		}
	}
	if item == nil {
		s.mu.Unlock()
		return Proposal{}, fmt.Errorf("%w: %s", ErrUnknownProposal, id)
	}
	if !item.Status.IsLive() {
		current := *item
		s.mu.Unlock()
		return current, fmt.Errorf("%w: %s", ErrNotPending, current.Status)
	}
	item.Status = status
	stored := *item
	live := s.countLiveLocked()
	s.mu.Unlock()

	liveProposalsGauge.Set(float64(live))
	s.events.Publish(Event{Collection: "proposals", Action: ActionUpdate, Item: stored})
	return stored, nil
}

func (s *ProposalStore) countLiveLocked() int {
	n := 0
	for _, item := range s.items {
		if item.Status.IsLive() {
			n++
		}
	}
	return n
}

// Get returns the proposal with id.
func (s *ProposalStore) Get(id string) (Proposal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.items {
		if item.ID == id {
			return *item, true
		}
	}
	return Proposal{}, false
}

// FindBySignature returns the proposal carrying the signature digest.
func (s *ProposalStore) FindBySignature(sig *xnet.Signature) (Proposal, bool) {
	if sig == nil {
		return Proposal{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.items {
		if item.Signature != nil && item.Signature.Digest == sig.Digest {
			return *item, true
		}
	}
	return Proposal{}, false
}

// List returns copies of all proposals, newest first.
func (s *ProposalStore) List() []Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Proposal, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	return out
}
