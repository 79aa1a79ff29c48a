package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/exchangenetwork/xnet/src/xnet"
)

var (
	ErrNoReceiver     = errors.New("proposal receiver not set")
	ErrNoProposer     = errors.New("proposal sender not set")
	ErrNotProposer    = errors.New("cannot propose on behalf of another user")
	ErrNotReceiver    = errors.New("cannot accept proposal to another user")
	ErrNotSigned      = errors.New("proposal not signed")
	ErrNotSatisfiable = errors.New("proposal not satisfiable")
	ErrNotQualified   = errors.New("proposal not qualified")
	ErrPeerRejected   = errors.New("peer rejected request")
)

// Peer protocol paths
const (
	PathProposals   = "/proposals"
	PathAcceptances = "/acceptances"
	PathExchanges   = "/exchanges"
)

// URL returns the peer protocol URL of path at a.
func (a PeerAddress) URL(path string) string {
	return "http://" + net.JoinHostPort(a.Host, strconv.Itoa(a.Port)) + path
}

func (a PeerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Propose sends p to its receiver. Appended exchanges are replayed to the
// receiver first. The stored proposal is returned with its final status:
// Sent on success, Failed when p is rejected locally or the peer cannot be
// reached or refuses it.
func (node *ExchangeNode) Propose(ctx context.Context, p Proposal) (Proposal, error) {
	ctx, span := tracer.Start(ctx, "ExchangeNode.Propose")
	defer span.End()

	fail := func(err error) (Proposal, error) {
		node.Log.Push("Proposal Error", map[string]any{
			"description": err.Error(),
			"proposal":    p,
			"traceId":     traceIDOf(span),
		})
		RecordProposal(DirectionOutbound, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return node.Proposals.Update(p, StatusFailed), err
	}

	if p.Receiver == nil {
		return fail(ErrNoReceiver)
	}
	if p.Proposer == nil {
		return fail(ErrNoProposer)
	}
	me := node.Identity.User()
	if p.Proposer.Key != me.Key {
		return fail(ErrNotProposer)
	}
	span.SetAttributes(attribute.String("xnet.receiver", p.Receiver.Key))

	if !node.satisfiable(p.Wants, p.Gives) {
		return fail(ErrNotSatisfiable)
	}

	addr, err := node.Users.AddressOf(p.Receiver.Key)
	if err != nil {
		return fail(err)
	}

	if len(p.Appendages) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for _, e := range p.Appendages {
			e := e
			g.Go(func() error {
				return node.sendExchangeTo(gctx, e, addr)
			})
		}
		if err := g.Wait(); err != nil {
			return fail(err)
		}
	}

	signed := xnet.Proposal{
		Proposer: p.Proposer.Key,
		Wants:    p.Wants,
		Gives:    p.Gives,
	}
	if prev, ok := node.Ledger.PredecessorFor(p.Proposer.Key, p.Receiver.Key); ok {
		hash := prev.Hash
		signed.Predecessor = &hash
	}
	sig, err := node.Identity.Sign(signed, node.Config.HashAlgorithm)
	if err != nil {
		return fail(err)
	}
	signed.Signature = sig

	p.Definition = nil
	p.Predecessor = signed.Predecessor
	p.Signature = sig
	p = node.Proposals.Update(p, StatusSent)

	if err := node.post(ctx, addr, PathProposals, signed); err != nil {
		return fail(err)
	}

	RecordProposal(DirectionOutbound, true)
	logger.Info("Sent proposal", "proposalId", p.ID, "receiver", p.Receiver.Key, "peer", addr.String())
	return p, nil
}

// Accept commits to a proposal received from a peer. The acceptance is sent
// to the proposer, and only once the proposer confirms it is the exchange
// appended to the ledger. A proposal that this node may not accept is left
// untouched; a failed delivery marks it Failed.
func (node *ExchangeNode) Accept(ctx context.Context, p Proposal) (Proposal, error) {
	ctx, span := tracer.Start(ctx, "ExchangeNode.Accept")
	defer span.End()

	reject := func(err error) (Proposal, error) {
		node.Log.Push("Acceptance Error", map[string]any{
			"description": err.Error(),
			"proposal":    p,
			"traceId":     traceIDOf(span),
		})
		RecordAcceptance(DirectionOutbound, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return p, err
	}
	fail := func(err error) (Proposal, error) {
		_, err = reject(err)
		return node.Proposals.Update(p, StatusFailed), err
	}

	me := node.Identity.User()
	if p.Receiver == nil {
		return reject(ErrNoReceiver)
	}
	if p.Receiver.Key != me.Key {
		return reject(ErrNotReceiver)
	}
	if p.Proposer == nil {
		return reject(ErrNoProposer)
	}
	if p.ID != "" {
		if current, ok := node.Proposals.Get(p.ID); ok {
			p.Status = current.Status
		}
	}
	if p.Status != StatusPending {
		return reject(fmt.Errorf("%w: %s", ErrNotPending, p.Status))
	}
	if p.Signature == nil {
		return reject(ErrNotSigned)
	}
	if !xnet.IsProposalQualified(p.Wants, p.Gives) {
		return reject(ErrNotQualified)
	}
	span.SetAttributes(attribute.String("xnet.proposer", p.Proposer.Key))

	acceptance := xnet.Acceptance{
		Proposal: p.wire(),
		Acceptor: me.Key,
	}
	sig, err := node.Identity.Sign(acceptance.Unsigned(), node.Config.HashAlgorithm)
	if err != nil {
		return reject(err)
	}
	acceptance.Signature = sig

	addr, err := node.Users.AddressOf(p.Proposer.Key)
	if err != nil {
		return fail(err)
	}
	if err := node.post(ctx, addr, PathAcceptances, acceptance); err != nil {
		return fail(err)
	}

	exchange, err := node.exchangeOf(acceptance)
	if err != nil {
		return fail(err)
	}
	node.record(exchange, *p.Proposer, me, "acceptance")

	RecordAcceptance(DirectionOutbound, true)
	logger.Info("Accepted proposal", "proposalId", p.ID, "proposer", p.Proposer.Key, "exchange", exchange.Hash.Digest)
	return node.Proposals.Update(p, StatusAccepted), nil
}

// Discard marks a live proposal as discarded. Nothing is sent to the peer.
func (node *ExchangeNode) Discard(id string) (Proposal, error) {
	p, err := node.Proposals.SetStatus(id, StatusDiscarded)
	if err != nil {
		return p, err
	}
	logger.Info("Discarded proposal", "proposalId", id)
	return p, nil
}

func (node *ExchangeNode) satisfiable(wants, gives xnet.Expression) bool {
	start := time.Now()
	defer func() {
		satisfiabilityDuration.Observe(time.Since(start).Seconds())
	}()
	return xnet.IsProposalSatisfiable(wants, gives)
}

// exchangeOf finalizes an acceptance into a ledger exchange.
func (node *ExchangeNode) exchangeOf(acceptance xnet.Acceptance) (xnet.Exchange, error) {
	exchange := xnet.Exchange{Acceptance: acceptance}
	hash, err := HashOf(exchange.HashInput(), node.Config.HashAlgorithm)
	if err != nil {
		return xnet.Exchange{}, fmt.Errorf("failed to hash exchange: %w", err)
	}
	exchange.Hash = hash
	return exchange, nil
}

// record appends exchange to the ledger and moves ownership: the proposer
// receives what it wanted and the acceptor what it was given. An exchange
// already in the ledger changes nothing.
func (node *ExchangeNode) record(exchange xnet.Exchange, proposer, acceptor User, source string) bool {
	node.ratifyMu.Lock()
	defer node.ratifyMu.Unlock()

	appended := node.Ledger.Append(exchange)
	RecordExchange(source, appended)
	if !appended {
		logger.Debug("Exchange already recorded", "exchange", exchange.Hash.Digest)
		return false
	}

	proposal := exchange.Acceptance.Proposal
	for _, token := range xnet.GetTokensFrom(proposal.Wants) {
		node.Tokens.Register(proposer, token)
	}
	for _, token := range xnet.GetTokensFrom(proposal.Gives) {
		node.Tokens.Register(acceptor, token)
	}
	return true
}

func (node *ExchangeNode) sendExchangeTo(ctx context.Context, exchange xnet.Exchange, addr PeerAddress) error {
	if err := node.post(ctx, addr, PathExchanges, exchange); err != nil {
		node.Log.Push("Exchange Inform Error", map[string]any{
			"description": err.Error(),
			"exchange":    exchange.Hash,
			"peer":        addr.String(),
		})
		return err
	}
	return nil
}

// post sends body as JSON to path at addr. Any status outside 2xx is an error.
func (node *ExchangeNode) post(ctx context.Context, addr PeerAddress, path string, body any) error {
	resp, err := node.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(addr.URL(path))
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", addr, err)
	}
	if !resp.IsSuccess() {
		reason := strings.TrimSpace(resp.String())
		return fmt.Errorf("%w: %s %s: %s", ErrPeerRejected, path, resp.Status(), reason)
	}
	return nil
}

// verifyProposal checks the proposal signature against the proposer's known key.
func (node *ExchangeNode) verifyProposal(p xnet.Proposal) bool {
	pub, ok := node.Users.PublicKeyOf(p.Proposer)
	if !ok {
		return false
	}
	return VerifyCanonical(pub, p.Unsigned(), p.Signature)
}

// verifyAcceptance checks both the embedded proposal's and the acceptor's signature.
func (node *ExchangeNode) verifyAcceptance(a xnet.Acceptance) bool {
	if !node.verifyProposal(a.Proposal) {
		return false
	}
	pub, ok := node.Users.PublicKeyOf(a.Acceptor)
	if !ok {
		return false
	}
	return VerifyCanonical(pub, a.Unsigned(), a.Signature)
}

func traceIDOf(span trace.Span) string {
	sc := span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
