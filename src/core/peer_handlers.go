package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/exchangenetwork/xnet/src/xnet"
)

// peerRouter serves the node-to-node protocol.
func (node *ExchangeNode) peerRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestIDMiddleware)
	router.Use(MetricsMiddleware)
	router.Use(RateLimitMiddleware(NewIPRateLimiter(node.Config.RateLimitPerMinute), remoteIP))
	router.Use(BodySizeLimitMiddleware(node.Config.MaxBodySizeBytes))

	router.HandleFunc(PathProposals, node.ProposalsHandler).Methods("POST")
	router.HandleFunc(PathAcceptances, node.AcceptancesHandler).Methods("POST")
	router.HandleFunc(PathExchanges, node.ExchangesHandler).Methods("POST")
	return router
}

// rejectPeer answers a peer request with 400 and the reason as body text.
func rejectPeer(w http.ResponseWriter, reason string) {
	http.Error(w, reason, http.StatusBadRequest)
}

// decodePeerMessage decodes a peer message. It reports false after having
// answered the request when the body is unreadable or malformed.
func (node *ExchangeNode) decodePeerMessage(w http.ResponseWriter, r *http.Request, dst interface{ Validate() error }, title, notMessage, readError string) bool {
	if err := decodeBody(r, dst); err != nil {
		var syntaxErr *json.SyntaxError
		switch {
		case errors.Is(err, ErrPayloadTooLarge):
			http.Error(w, "Payload Too Large", http.StatusRequestEntityTooLarge)
		case errors.As(err, &syntaxErr):
			node.Log.Push(title, err)
			rejectPeer(w, readError)
		default:
			rejectPeer(w, notMessage)
		}
		return false
	}
	if err := dst.Validate(); err != nil {
		rejectPeer(w, notMessage)
		return false
	}
	return true
}

// ProposalsHandler stores a signed proposal from a known peer as pending.
func (node *ExchangeNode) ProposalsHandler(w http.ResponseWriter, r *http.Request) {
	var proposal xnet.Proposal
	if !node.decodePeerMessage(w, r, &proposal, "Incoming Proposal Error", "Not Proposal", "Proposal Error") {
		RecordProposal(DirectionInbound, false)
		return
	}

	proposer, ok := node.Users.GetByKey(proposal.Proposer)
	if !ok {
		RecordProposal(DirectionInbound, false)
		rejectPeer(w, "Sender Unknown")
		return
	}
	if !node.verifyProposal(proposal) {
		RecordProposal(DirectionInbound, false)
		logger.Warn("Rejected proposal with bad signature", "proposer", proposal.Proposer, "requestId", GetRequestID(r.Context()))
		rejectPeer(w, "Bad Signature")
		return
	}

	if known, ok := node.Proposals.FindBySignature(proposal.Signature); ok {
		RecordProposal(DirectionInbound, true)
		logger.Debug("Proposal already received", "proposalId", known.ID, "proposer", proposer.Key)
		writePeerJSON(w, proposal)
		return
	}

	me := node.Identity.User()
	stored := node.Proposals.Update(Proposal{
		Proposer:    &proposer,
		Receiver:    &me,
		Wants:       proposal.Wants,
		Gives:       proposal.Gives,
		Definition:  proposal.Definition,
		Predecessor: proposal.Predecessor,
		Signature:   proposal.Signature,
	}, StatusPending)

	RecordProposal(DirectionInbound, true)
	logger.Info("Received proposal", "proposalId", stored.ID, "proposer", proposer.Key)
	writePeerJSON(w, proposal)
}

func writePeerJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// AcceptancesHandler ratifies an acceptance of one of this node's proposals.
func (node *ExchangeNode) AcceptancesHandler(w http.ResponseWriter, r *http.Request) {
	var acceptance xnet.Acceptance
	if !node.decodePeerMessage(w, r, &acceptance, "Incoming Acceptance Error", "Not Acceptance", "Acceptance Error") {
		RecordAcceptance(DirectionInbound, false)
		return
	}

	acceptor, ok := node.Users.GetByKey(acceptance.Acceptor)
	if !ok {
		RecordAcceptance(DirectionInbound, false)
		rejectPeer(w, "Sender Unknown")
		return
	}
	me := node.Identity.User()
	if acceptance.Proposal.Proposer != me.Key {
		RecordAcceptance(DirectionInbound, false)
		rejectPeer(w, "Wrong Proposer")
		return
	}
	if !node.verifyAcceptance(acceptance) {
		RecordAcceptance(DirectionInbound, false)
		node.failAcceptedProposal(acceptance, me, acceptor)
		rejectPeer(w, "Bad Signatures")
		return
	}
	if !xnet.IsProposalQualified(acceptance.Proposal.Wants, acceptance.Proposal.Gives) {
		RecordAcceptance(DirectionInbound, false)
		rejectPeer(w, "Not Qualified")
		return
	}

	exchange, err := node.exchangeOf(acceptance)
	if err != nil {
		node.Log.Push("Incoming Acceptance Error", err)
		http.Error(w, "Acceptance Error", http.StatusInternalServerError)
		return
	}
	node.record(exchange, me, acceptor, "acceptance")
	if local, ok := node.Proposals.FindBySignature(acceptance.Proposal.Signature); ok {
		node.Proposals.Update(local, StatusAccepted)
	}

	RecordAcceptance(DirectionInbound, true)
	logger.Info("Proposal accepted by peer", "acceptor", acceptor.Key, "exchange", exchange.Hash.Digest)
	w.WriteHeader(http.StatusNoContent)
}

// failAcceptedProposal marks the local proposal an unverifiable acceptance
// refers to as failed, recording it when this node has no such proposal.
func (node *ExchangeNode) failAcceptedProposal(acceptance xnet.Acceptance, me, acceptor User) {
	if local, ok := node.Proposals.FindBySignature(acceptance.Proposal.Signature); ok {
		node.Proposals.Update(local, StatusFailed)
		return
	}
	proposal := acceptance.Proposal
	node.Proposals.Update(Proposal{
		Proposer:    &me,
		Receiver:    &acceptor,
		Wants:       proposal.Wants,
		Gives:       proposal.Gives,
		Definition:  proposal.Definition,
		Predecessor: proposal.Predecessor,
		Signature:   proposal.Signature,
	}, StatusFailed)
}

// ExchangesHandler records a finalized exchange replayed by a peer.
func (node *ExchangeNode) ExchangesHandler(w http.ResponseWriter, r *http.Request) {
	var exchange xnet.Exchange
	if !node.decodePeerMessage(w, r, &exchange, "Incoming Exchange Error", "Not Exchange", "Exchange Error") {
		return
	}

	acceptance := exchange.Acceptance
	acceptor, ok := node.Users.GetByKey(acceptance.Acceptor)
	if !ok {
		rejectPeer(w, "Sender Unknown")
		return
	}
	proposer, ok := node.Users.GetByKey(acceptance.Proposal.Proposer)
	if !ok {
		rejectPeer(w, "Proposer Unknown")
		return
	}
	if !node.verifyAcceptance(acceptance) {
		rejectPeer(w, "Bad Signatures")
		return
	}
	if !xnet.IsProposalQualified(acceptance.Proposal.Wants, acceptance.Proposal.Gives) {
		rejectPeer(w, "Not Qualified")
		return
	}
	hash, err := HashOf(exchange.HashInput(), exchange.Hash.Algorithm)
	if err != nil || hash.Digest != exchange.Hash.Digest {
		rejectPeer(w, "Bad Hash")
		return
	}

	node.record(exchange, proposer, acceptor, "replay")
	if local, ok := node.Proposals.FindBySignature(acceptance.Proposal.Signature); ok && local.Status.IsLive() {
		node.Proposals.Update(local, StatusHandled)
	}
	logger.Info("Recorded replayed exchange", "exchange", exchange.Hash.Digest, "proposer", proposer.Key, "acceptor", acceptor.Key)
	w.WriteHeader(http.StatusOK)
}
