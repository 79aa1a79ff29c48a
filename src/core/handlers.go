package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/exchangenetwork/xnet/src/xnet"
)

// APIVersion is sent with every client API response
const APIVersion = "1.0"

// Error codes of the client API
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeNotFound        = "NOT_FOUND"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeInvalidProposal = "INVALID_PROPOSAL"
	CodePeerError       = "PEER_ERROR"
	CodeConflict        = "CONFLICT"
)

// apiRouter serves the client API of the node's own user.
func (node *ExchangeNode) apiRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestIDMiddleware)
	router.Use(MetricsMiddleware)
	router.Use(RateLimitMiddleware(NewIPRateLimiter(node.Config.RateLimitPerMinute), forwardedIP))
	router.Use(BodySizeLimitMiddleware(node.Config.MaxBodySizeBytes))

	router.HandleFunc("/api/health", node.HealthCheckHandler).Methods("GET")
	router.HandleFunc("/api/me", node.GetMeHandler).Methods("GET")
	router.HandleFunc("/api/users", node.GetUsersHandler).Methods("GET")

	// Negotiation endpoints
	router.HandleFunc("/api/proposals", node.GetProposalsHandler).Methods("GET")
	router.HandleFunc("/api/proposals", node.CreateProposalHandler).Methods("POST")
	router.HandleFunc("/api/proposals/{id}/accept", node.AcceptProposalHandler).Methods("POST")
	router.HandleFunc("/api/proposals/{id}/discard", node.DiscardProposalHandler).Methods("POST")

	// Ledger and registry endpoints
	router.HandleFunc("/api/exchanges", node.GetExchangesHandler).Methods("GET")
	router.HandleFunc("/api/tokens", node.GetTokensHandler).Methods("GET")
	router.HandleFunc("/api/templates", node.GetTemplatesHandler).Methods("GET")
	router.HandleFunc("/api/templates/{type}/token", node.GetTemplateTokenHandler).Methods("GET")

	router.HandleFunc("/api/log", node.GetLogHandler).Methods("GET")
	router.HandleFunc("/api/events", node.EventsHandler).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

// WriteSuccess writes a successful API response
func WriteSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-API-Version", APIVersion)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// WriteError writes a failed API response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-API-Version", APIVersion)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// HealthCheckHandler handles health check requests
func (node *ExchangeNode) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"user":    node.Identity.User().Key,
		"uptime":  int64(time.Since(node.startedAt).Seconds()),
		"version": "1.0.0",
	})
}

// GetMeHandler returns the user this node acts for
func (node *ExchangeNode) GetMeHandler(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, http.StatusOK, node.Identity.User())
}

// GetUsersHandler returns the known users
func (node *ExchangeNode) GetUsersHandler(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, http.StatusOK, node.Users.List())
}

// GetProposalsHandler returns proposals, newest first, optionally filtered by status
func (node *ExchangeNode) GetProposalsHandler(w http.ResponseWriter, r *http.Request) {
	proposals := node.Proposals.List()
	if status, ok := r.URL.Query()["status"]; ok && len(status) > 0 {
		filtered := make([]Proposal, 0, len(proposals))
		for _, p := range proposals {
			if string(p.Status) == status[0] {
				filtered = append(filtered, p)
			}
		}
		proposals = filtered
	}
	WriteSuccess(w, http.StatusOK, proposals)
}

// CreateProposalRequest is the body of a new proposal. Appendages name ledger
// exchanges by hash digest.
type CreateProposalRequest struct {
	Receiver   xnet.ID         `json:"receiver"`
	Wants      json.RawMessage `json:"wants"`
	Gives      json.RawMessage `json:"gives"`
	Appendages []xnet.ID       `json:"appendages,omitempty"`
}

// CreateProposalHandler proposes an exchange to another user
func (node *ExchangeNode) CreateProposalHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateProposalRequest
	if err := decodeBody(r, &req); err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Request body too large")
			return
		}
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "Invalid proposal data")
		return
	}

	receiver, ok := node.Users.GetByKey(req.Receiver)
	if !ok {
		WriteError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("Unknown receiver %q", req.Receiver))
		return
	}
	wants, err := decodeOptionalExpression(req.Wants)
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "Invalid wants: "+err.Error())
		return
	}
	gives, err := decodeOptionalExpression(req.Gives)
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "Invalid gives: "+err.Error())
		return
	}

	me := node.Identity.User()
	proposal := Proposal{
		Proposer: &me,
		Receiver: &receiver,
		Wants:    wants,
		Gives:    gives,
	}
	for _, digest := range req.Appendages {
		exchange, ok := node.Ledger.Get(digest)
		if !ok {
			WriteError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("Unknown exchange %q", digest))
			return
		}
		proposal.Appendages = append(proposal.Appendages, exchange)
	}

	stored, err := node.Propose(context.WithoutCancel(r.Context()), proposal)
	if err != nil {
		writeNegotiationError(w, err, stored)
		return
	}
	WriteSuccess(w, http.StatusCreated, stored)
}

func decodeOptionalExpression(raw json.RawMessage) (xnet.Expression, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return xnet.DecodeExpression(raw)
}

// AcceptProposalHandler accepts a pending proposal addressed to this node's user
func (node *ExchangeNode) AcceptProposalHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	proposal, ok := node.Proposals.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, CodeNotFound, "Proposal not found")
		return
	}

	stored, err := node.Accept(context.WithoutCancel(r.Context()), proposal)
	if err != nil {
		writeNegotiationError(w, err, stored)
		return
	}
	WriteSuccess(w, http.StatusOK, stored)
}

// DiscardProposalHandler discards a proposal without notifying the peer
func (node *ExchangeNode) DiscardProposalHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	proposal, err := node.Discard(id)
	if err != nil {
		writeNegotiationError(w, err, proposal)
		return
	}
	WriteSuccess(w, http.StatusOK, proposal)
}

// writeNegotiationError maps a failed propose, accept or discard to an API error.
// Delivery failures are reported as a bad gateway, everything else was
// refused before anything was sent.
func writeNegotiationError(w http.ResponseWriter, err error, proposal Proposal) {
	logger.Debug("Negotiation failed", "proposalId", proposal.ID, "status", proposal.Status, "error", err)
	switch {
	case errors.Is(err, ErrUnknownUser), errors.Is(err, ErrUnknownAddress), errors.Is(err, ErrUnknownProposal):
		WriteError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, ErrNotPending):
		WriteError(w, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, ErrNoReceiver), errors.Is(err, ErrNoProposer), errors.Is(err, ErrNotProposer),
		errors.Is(err, ErrNotReceiver), errors.Is(err, ErrNotSigned),
		errors.Is(err, ErrNotSatisfiable), errors.Is(err, ErrNotQualified):
		WriteError(w, http.StatusUnprocessableEntity, CodeInvalidProposal, err.Error())
	default:
		WriteError(w, http.StatusBadGateway, CodePeerError, err.Error())
	}
}

// GetExchangesHandler returns the ledger, optionally only exchanges involving a token id
func (node *ExchangeNode) GetExchangesHandler(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("token"); token != "" {
		exchanges := node.Ledger.ByTokenID(token)
		if exchanges == nil {
			exchanges = []xnet.Exchange{}
		}
		WriteSuccess(w, http.StatusOK, exchanges)
		return
	}
	WriteSuccess(w, http.StatusOK, node.Ledger.List())
}

// GetTokensHandler returns token ownership, optionally only the tokens of one owner
func (node *ExchangeNode) GetTokensHandler(w http.ResponseWriter, r *http.Request) {
	if owner := r.URL.Query().Get("owner"); owner != "" {
		tokens := node.Tokens.TokensOf(owner)
		if tokens == nil {
			tokens = []xnet.Token{}
		}
		WriteSuccess(w, http.StatusOK, tokens)
		return
	}
	WriteSuccess(w, http.StatusOK, node.Tokens.List())
}

// GetTemplatesHandler returns the configured token templates
func (node *ExchangeNode) GetTemplatesHandler(w http.ResponseWriter, r *http.Request) {
	templates := node.Templates
	if templates == nil {
		templates = []TokenTemplate{}
	}
	WriteSuccess(w, http.StatusOK, templates)
}

// GetTemplateTokenHandler returns a new unqualified token of a template type
func (node *ExchangeNode) GetTemplateTokenHandler(w http.ResponseWriter, r *http.Request) {
	tokenType := mux.Vars(r)["type"]
	for _, tt := range node.Templates {
		if tt.Type == tokenType {
			WriteSuccess(w, http.StatusOK, tt.NewToken())
			return
		}
	}
	WriteError(w, http.StatusNotFound, CodeNotFound, "Token template not found")
}

// GetLogHandler returns the node log, oldest first
func (node *ExchangeNode) GetLogHandler(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, http.StatusOK, node.Log.Entries())
}
