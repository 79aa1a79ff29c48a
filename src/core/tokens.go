package main

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/exchangenetwork/xnet/src/xnet"
)

// Ownership pairs a qualified token with its current owner.
type Ownership struct {
	Owner User       `json:"owner"`
	Token xnet.Token `json:"token"`
}

// TokenRegistry tracks the current owner of every qualified token.
type TokenRegistry struct {
	mu     sync.RWMutex
	items  []Ownership
	index  map[xnet.ID]int
	events *EventHub
}

// NewTokenRegistry creates an empty registry.
func NewTokenRegistry(events *EventHub) *TokenRegistry {
	return &TokenRegistry{
		index:  make(map[xnet.ID]int),
		events: events,
	}
}

// Register records owner as the current owner of token, replacing any earlier
// owner. Unqualified tokens denote no entity and cannot be owned; passing one
// is a programming error.
func (r *TokenRegistry) Register(owner User, token xnet.Token) {
	if !token.IsQualified() {
		data, _ := json.Marshal(token)
		panic(fmt.Sprintf("unqualified tokens cannot be owned: %s", data))
	}

	entry := Ownership{Owner: owner, Token: token}
	action := ActionInsert

	r.mu.Lock()
	if i, ok := r.index[token.ID]; ok {
		r.items[i] = entry
		action = ActionUpdate
	} else {
		r.index[token.ID] = len(r.items)
		r.items = append(r.items, entry)
	}
	r.mu.Unlock()

	r.events.Publish(Event{Collection: "tokens", Action: action, Item: entry})
	logger.Debug("Registered token owner", "tokenId", token.ID, "type", token.Type, "owner", owner.Key)
}

// OwnerOf returns the current owner of the token id.
func (r *TokenRegistry) OwnerOf(id xnet.ID) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i, ok := r.index[id]; ok {
		return r.items[i].Owner, true
	}
	return User{}, false
}

// TokensOf returns the tokens currently owned by key.
func (r *TokenRegistry) TokensOf(key xnet.ID) []xnet.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []xnet.Token
	for _, item := range r.items {
		if item.Owner.Key == key {
			out = append(out, item.Token)
		}
	}
	return out
}

// List returns all ownership records in registration order.
func (r *TokenRegistry) List() []Ownership {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Ownership, len(r.items))
	copy(out, r.items)
	return out
}
