package xnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func signedProposal() Proposal {
	return Proposal{
		Proposer:  "alice",
		Wants:     Token{ID: "x1", Type: "coin"},
		Gives:     Token{ID: "y1", Type: "book"},
		Signature: &Signature{HashAlgorithm: HashAlgorithm, Digest: "c2ln"},
	}
}

func TestAcceptanceValidate(t *testing.T) {
	valid := Acceptance{
		Proposal:  signedProposal(),
		Acceptor:  "bob",
		Signature: &Signature{HashAlgorithm: HashAlgorithm, Digest: "c2ln"},
	}
	assert.NoError(t, valid.Validate())

	unsignedProposal := valid
	unsignedProposal.Proposal = valid.Proposal.Unsigned()
	assert.ErrorIs(t, unsignedProposal.Validate(), ErrNotAcceptance)

	noAcceptor := valid
	noAcceptor.Acceptor = ""
	assert.ErrorIs(t, noAcceptor.Validate(), ErrNotAcceptance)

	assert.ErrorIs(t, valid.Unsigned().Validate(), ErrNotAcceptance)

	badPredecessor := valid
	badPredecessor.Proposal.Predecessor = &Hash{Digest: "abc"}
	assert.ErrorIs(t, badPredecessor.Validate(), ErrNotAcceptance)
}

func TestExchangeValidate(t *testing.T) {
	acceptance := Acceptance{
		Proposal:  signedProposal(),
		Acceptor:  "bob",
		Signature: &Signature{HashAlgorithm: HashAlgorithm, Digest: "c2ln"},
	}

	valid := Exchange{Acceptance: acceptance, Hash: Hash{Algorithm: HashAlgorithm, Digest: "aGFzaA=="}}
	assert.NoError(t, valid.Validate())

	assert.ErrorIs(t, Exchange{Acceptance: acceptance}.Validate(), ErrNotExchange)

	broken := valid
	broken.Acceptance.Acceptor = ""
	assert.ErrorIs(t, broken.Validate(), ErrNotExchange)
}
