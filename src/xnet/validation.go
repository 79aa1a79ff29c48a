package xnet

import (
	"errors"
	"fmt"
)

var (
	ErrNotProposal   = errors.New("not a proposal")
	ErrNotAcceptance = errors.New("not an acceptance")
	ErrNotExchange   = errors.New("not an exchange")
)

func validHash(h *Hash) bool {
	return h == nil || h.Algorithm != ""
}

func validSignature(s *Signature) bool {
	return s != nil && s.HashAlgorithm != "" && s.Digest != ""
}

// Validate checks the structure of a signed proposal received from a peer.
// Expression structure is checked while decoding.
func (p Proposal) Validate() error {
	switch {
	case p.Proposer == "":
		return fmt.Errorf("%w: missing proposer", ErrNotProposal)
	case !validHash(p.Definition):
		return fmt.Errorf("%w: bad definition hash", ErrNotProposal)
	case !validHash(p.Predecessor):
		return fmt.Errorf("%w: bad predecessor hash", ErrNotProposal)
	case !validSignature(p.Signature):
		return fmt.Errorf("%w: missing signature", ErrNotProposal)
	}
	return nil
}

// Validate checks the structure of an acceptance and its embedded proposal.
func (a Acceptance) Validate() error {
	if err := a.Proposal.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAcceptance, err)
	}
	if a.Acceptor == "" {
		return fmt.Errorf("%w: missing acceptor", ErrNotAcceptance)
	}
	if !validSignature(a.Signature) {
		return fmt.Errorf("%w: missing signature", ErrNotAcceptance)
	}
	return nil
}

// Validate checks the structure of an exchange.
func (e Exchange) Validate() error {
	if err := e.Acceptance.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotExchange, err)
	}
	if e.Hash.Algorithm == "" || e.Hash.Digest == "" {
		return fmt.Errorf("%w: missing hash", ErrNotExchange)
	}
	return nil
}
