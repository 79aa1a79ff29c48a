// Package xnet holds the Exchange Network wire model: token expressions, signed
// proposals, acceptances and exchanges, plus the predicates and the
// satisfiability engine that decide whether a proposal is coherent.
package xnet

import (
	"encoding/json"
	"fmt"
)

// ID identifies a user key, a token or a digest.
type ID = string

// HashAlgorithm is the digest algorithm used for signatures and exchange hashes.
const HashAlgorithm = "SHA1"

// Hash is a digest produced by feeding a canonical string into Algorithm.
type Hash struct {
	Algorithm string `json:"algorithm"`
	Digest    ID     `json:"digest"`
}

// Signature is a base64 signature over a canonical string, hashed with HashAlgorithm.
type Signature struct {
	HashAlgorithm string `json:"hashAlgorithm"`
	Digest        ID     `json:"digest"`
}

// Proposal is the signed form of a proposal as it travels between peers.
// Proposer is the key of the sending user.
type Proposal struct {
	Proposer    ID         `json:"proposer"`
	Wants       Expression `json:"wants"`
	Gives       Expression `json:"gives"`
	Definition  *Hash      `json:"definition,omitempty"`
	Predecessor *Hash      `json:"predecessor,omitempty"`
	Signature   *Signature `json:"signature,omitempty"`
}

// Unsigned returns a copy of p without its signature.
func (p Proposal) Unsigned() Proposal {
	p.Signature = nil
	return p
}

// UnmarshalJSON decodes the wants and gives expressions into their concrete node types.
func (p *Proposal) UnmarshalJSON(data []byte) error {
	var raw struct {
		Proposer    ID              `json:"proposer"`
		Wants       json.RawMessage `json:"wants"`
		Gives       json.RawMessage `json:"gives"`
		Definition  *Hash           `json:"definition"`
		Predecessor *Hash           `json:"predecessor"`
		Signature   *Signature      `json:"signature"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Wants == nil || raw.Gives == nil {
		return fmt.Errorf("proposal requires both wants and gives")
	}
	wants, err := DecodeExpression(raw.Wants)
	if err != nil {
		return fmt.Errorf("invalid wants: %w", err)
	}
	gives, err := DecodeExpression(raw.Gives)
	if err != nil {
		return fmt.Errorf("invalid gives: %w", err)
	}
	*p = Proposal{
		Proposer:    raw.Proposer,
		Wants:       wants,
		Gives:       gives,
		Definition:  raw.Definition,
		Predecessor: raw.Predecessor,
		Signature:   raw.Signature,
	}
	return nil
}

// Acceptance is a receiver's signed commitment to a signed proposal. The acceptor
// gives up the tokens in Proposal.Wants and receives those in Proposal.Gives.
type Acceptance struct {
	Proposal  Proposal   `json:"proposal"`
	Acceptor  ID         `json:"acceptor"`
	Signature *Signature `json:"signature,omitempty"`
}

// Unsigned returns a copy of a without its own signature. The embedded proposal
// keeps its signature.
func (a Acceptance) Unsigned() Acceptance {
	a.Signature = nil
	return a
}

// Exchange is the finalized, ledger-resident record of an accepted proposal.
type Exchange struct {
	Acceptance Acceptance `json:"acceptance"`
	Hash       Hash       `json:"hash"`
}

// HashInput is the value whose canonical string is digested into Exchange.Hash.
func (e Exchange) HashInput() any {
	return struct {
		Acceptance Acceptance `json:"acceptance"`
	}{Acceptance: e.Acceptance}
}
