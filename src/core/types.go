package main

import (
	"encoding/json"
	"fmt"

	"github.com/exchangenetwork/xnet/src/xnet"
)

// User is a participant of the network, identified by its public key id.
type User struct {
	Key          xnet.ID           `json:"key" yaml:"key"`
	KeyAlgorithm string            `json:"keyAlgorithm" yaml:"keyAlgorithm"`
	Name         string            `json:"name" yaml:"name"`
	Attributes   map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ProposalStatus is empty while a proposal is pending.
type ProposalStatus string

const (
	StatusPending   ProposalStatus = ""
	StatusSent      ProposalStatus = "sent"
	StatusAccepted  ProposalStatus = "accepted"
	StatusDiscarded ProposalStatus = "discarded"
	StatusFailed    ProposalStatus = "failed"
	StatusHandled   ProposalStatus = "handled"
)

// IsLive reports whether the proposal still awaits a decision.
func (s ProposalStatus) IsLive() bool {
	return s == StatusPending || s == StatusSent
}

// Proposal is the local record of a negotiation step between two users.
type Proposal struct {
	ID          string          `json:"id,omitempty"`
	Proposer    *User           `json:"proposer,omitempty"`
	Receiver    *User           `json:"receiver,omitempty"`
	Wants       xnet.Expression `json:"wants"`
	Gives       xnet.Expression `json:"gives"`
	Definition  *xnet.Hash      `json:"definition,omitempty"`
	Predecessor *xnet.Hash      `json:"predecessor,omitempty"`
	Signature   *xnet.Signature `json:"signature,omitempty"`
	Status      ProposalStatus  `json:"status,omitempty"`
	Appendages  []xnet.Exchange `json:"appendages,omitempty"`
}

// UnmarshalJSON decodes the wants and gives expressions into their concrete node types.
func (p *Proposal) UnmarshalJSON(data []byte) error {
	type plain Proposal
	var raw struct {
		plain
		Wants json.RawMessage `json:"wants"`
		Gives json.RawMessage `json:"gives"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	wants, err := xnet.DecodeExpression(raw.Wants)
	if err != nil {
		return fmt.Errorf("invalid wants: %w", err)
	}
	gives, err := xnet.DecodeExpression(raw.Gives)
	if err != nil {
		return fmt.Errorf("invalid gives: %w", err)
	}
	*p = Proposal(raw.plain)
	p.Wants = wants
	p.Gives = gives
	return nil
}

// involves reports whether p is between exactly the users a and b, in either role.
func (p *Proposal) involves(a, b *User) bool {
	return (sameUser(p.Proposer, a) && sameUser(p.Receiver, b)) ||
		(sameUser(p.Proposer, b) && sameUser(p.Receiver, a))
}

func sameUser(a, b *User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Key == b.Key
}

// wire returns the signable form of p as sent to a peer.
func (p *Proposal) wire() xnet.Proposal {
	w := xnet.Proposal{
		Wants:       p.Wants,
		Gives:       p.Gives,
		Definition:  p.Definition,
		Predecessor: p.Predecessor,
		Signature:   p.Signature,
	}
	if p.Proposer != nil {
		w.Proposer = p.Proposer.Key
	}
	return w
}

// LogEntry is one diagnostic record of the node log.
type LogEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Title     string `json:"title"`
	Data      any    `json:"data"`
}

// TokenTemplateField describes one data field of a token template.
type TokenTemplateField struct {
	Default         *string  `json:"default,omitempty" yaml:"default,omitempty"`
	Options         []string `json:"options,omitempty" yaml:"options,omitempty"`
	ReferenceToType string   `json:"referenceToType,omitempty" yaml:"referenceToType,omitempty"`
}

// TokenTemplate describes a kind of token this node can create.
type TokenTemplate struct {
	IDPrefix      string                        `json:"idPrefix,omitempty" yaml:"idPrefix,omitempty"`
	IsQualifiable bool                          `json:"isQualifiable" yaml:"isQualifiable"`
	Type          string                        `json:"type" yaml:"type"`
	Data          map[string]TokenTemplateField `json:"data" yaml:"data"`
}

// NewToken creates an unqualified token carrying the template's default values.
func (tt TokenTemplate) NewToken() xnet.Token {
	data := make(map[string]any, len(tt.Data))
	for name, field := range tt.Data {
		if field.Default != nil {
			data[name] = *field.Default
		} else {
			data[name] = nil
		}
	}
	return xnet.Token{Type: tt.Type, Data: data}
}

// Validate checks the template before it is offered to clients.
func (tt TokenTemplate) Validate() error {
	if tt.Type == "" {
		return fmt.Errorf("token template requires a type")
	}
	for name, field := range tt.Data {
		if field.Default == nil || len(field.Options) == 0 {
			continue
		}
		found := false
		for _, option := range field.Options {
			if option == *field.Default {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("token template %s: default of field %s is not one of its options", tt.Type, name)
		}
	}
	return nil
}

// Event is a change notification published by the node's collections.
type Event struct {
	Collection string `json:"collection"`
	Action     string `json:"action"`
	Item       any    `json:"item"`
}

const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionRemove = "remove"
)
