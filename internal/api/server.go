package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"Tally/internal/actor"
	"Tally/internal/ballot"
	"Tally/internal/logger"
)

// Announcer notifies network peers about an accepted vote.
type Announcer interface {
	Announce(proposal, voter actor.Identity, value bool)
}

// StatusProvider exposes node state for monitoring.
type StatusProvider interface {
	ProposalCount() int
	PeerCount() int
	Variant() string
}

// Server is the HTTP API server.
type Server struct {
	addr      string          // addr is the HTTP listen address
	svc       *ballot.Service // svc hosts the proposals
	announcer Announcer       // announcer forwards accepted votes to peers, may be nil
	status    StatusProvider  // status provides node state for monitoring, may be nil
	server    *http.Server
}

// New creates a new HTTP API server.
func New(addr string, svc *ballot.Service, announcer Announcer, status StatusProvider) *Server {
	return &Server{
		addr:      addr,
		svc:       svc,
		announcer: announcer,
		status:    status,
	}
}

// Handler returns the server's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /proposal", s.handleDeploy)
	mux.HandleFunc("POST /vote", s.handleVote)
	mux.HandleFunc("GET /proposal/{address}", s.handleQuery)
	mux.HandleFunc("GET /receipt/{proposal}/{voter}", s.handleReceipt)
	mux.HandleFunc("GET /refunds/{identity}", s.handleRefunds)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// deployRequest is the body of POST /proposal.
type deployRequest struct {
	VotingEndingAt uint32 `json:"votingEndingAt"`
}

// voteRequest is the body of POST /vote.
type voteRequest struct {
	Proposal string `json:"proposal"`
	Voter    string `json:"voter"`
	Value    bool   `json:"value"`
	Budget   uint64 `json:"budget"`
}

// viewResponse is the JSON form of a proposal's state.
type viewResponse struct {
	Address        string `json:"address"`
	YesCount       uint32 `json:"yesCount"`
	NoCount        uint32 `json:"noCount"`
	VotingEndingAt uint32 `json:"votingEndingAt"`
	ProposalID     uint32 `json:"proposalId"`
	OwnerMaster    string `json:"ownerMaster"`
}

// handleDeploy handles POST /proposal requests.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}

	addr, err := s.svc.Deploy(req.VotingEndingAt)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	logger.Info("proposal deployed", "address", addr, "deadline", req.VotingEndingAt)

	writeJSON(w, http.StatusCreated, map[string]string{
		"address": hex.EncodeToString(addr[:]),
	})
}

// handleVote handles POST /vote requests. The vote is cast, the actor
// system settled, and the proposal's resulting state returned, so the
// caller observes the vote's effect in the response.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}

	proposal, err := parseIdentity(req.Proposal)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid proposal: %v", err))
		return
	}

	voter, err := parseIdentity(req.Voter)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid voter: %v", err))
		return
	}

	if err := s.svc.Cast(proposal, voter, req.Value, req.Budget); err != nil {
		writeError(w, voteStatus(err), err.Error())
		return
	}

	s.svc.Settle()

	if rej, ok := s.svc.TakeRejection(voter); ok {
		writeError(w, voteStatus(rej), rej.Error())
		return
	}

	if s.announcer != nil {
		s.announcer.Announce(proposal, voter, req.Value)
	}

	v, err := s.svc.Query(proposal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Debug("vote accepted over http", "proposal", proposal, "voter", voter)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"state":   viewJSON(proposal, v),
		"refunds": s.svc.Refunds(voter),
	})
}

// handleQuery handles GET /proposal/{address} requests.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	proposal, err := parseIdentity(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address: %v", err))
		return
	}

	v, err := s.svc.Query(proposal)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, viewJSON(proposal, v))
}

// handleReceipt handles GET /receipt/{proposal}/{voter} requests.
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	proposal, err := parseIdentity(r.PathValue("proposal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid proposal: %v", err))
		return
	}

	voter, err := parseIdentity(r.PathValue("voter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid voter: %v", err))
		return
	}

	sig, err := s.svc.Receipt(proposal, voter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sig == nil {
		writeError(w, http.StatusNotFound, "no receipt")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"receipt": hex.EncodeToString(sig),
	})
}

// handleRefunds handles GET /refunds/{identity} requests.
func (s *Server) handleRefunds(w http.ResponseWriter, r *http.Request) {
	id, err := parseIdentity(r.PathValue("identity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid identity: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{
		"refunds": s.svc.Refunds(id),
	})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"proposals": s.status.ProposalCount(),
		"peers":     s.status.PeerCount(),
		"variant":   s.status.Variant(),
	})
}

// voteStatus maps a vote rejection to its HTTP status.
func voteStatus(err error) int {
	switch {
	case errors.Is(err, ballot.ErrVotingEnded),
		errors.Is(err, ballot.ErrAlreadyVoted),
		errors.Is(err, ballot.ErrTooManyVotes):
		return http.StatusConflict
	case errors.Is(err, ballot.ErrInsufficientBudget):
		return http.StatusPaymentRequired
	case errors.Is(err, ballot.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}

// parseIdentity decodes a 32-byte hex identity.
func parseIdentity(s string) (actor.Identity, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return actor.Identity{}, err
	}
	if len(raw) != 32 {
		return actor.Identity{}, fmt.Errorf("length %d, want 32 bytes", len(raw))
	}

	var id actor.Identity
	copy(id[:], raw)

	return id, nil
}

func viewJSON(addr actor.Identity, v ballot.View) viewResponse {
	return viewResponse{
		Address:        hex.EncodeToString(addr[:]),
		YesCount:       v.YesCount,
		NoCount:        v.NoCount,
		VotingEndingAt: v.VotingEndingAt,
		ProposalID:     v.ProposalID,
		OwnerMaster:    hex.EncodeToString(v.OwnerMaster[:]),
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
