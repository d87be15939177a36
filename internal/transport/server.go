package transport

import (
	"fmt"

	"Tally/internal/actor"
	"Tally/internal/ballot"
	"Tally/internal/logger"
)

// Server serves the voting protocol to remote peers over a Node.
// Peers submit votes and query proposal state through bidirectional
// requests; accepted votes are announced to all peers on
// unidirectional streams.
type Server struct {
	node *Node
	svc  *ballot.Service
}

// NewServer wires a ballot service onto a node's request and message
// handlers.
func NewServer(node *Node, svc *ballot.Service) *Server {
	s := &Server{node: node, svc: svc}

	node.OnRequest(s.serveRequest)
	node.OnMessage(s.handleAnnouncement)

	return s
}

// serveRequest dispatches one remote request by its tag byte.
func (s *Server) serveRequest(p *Peer, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty request")
	}

	switch data[0] {
	case OpSubmit:
		return s.serveSubmit(p, data[1:]), nil
	case OpQuery:
		return s.serveQuery(data[1:]), nil
	case OpReceipt:
		return s.serveReceipt(data[1:]), nil
	case OpSnapshot:
		return s.serveSnapshot(), nil
	default:
		return nil, fmt.Errorf("unknown operation 0x%02x", data[0])
	}
}

// serveSubmit casts a remote vote, settles the actor system, and
// replies with the proposal's resulting state. Settling before the
// reply makes the submission's effect observable to the caller.
func (s *Server) serveSubmit(p *Peer, payload []byte) []byte {
	req, err := DecodeSubmit(payload)
	if err != nil {
		return errorReply(err)
	}

	if err := s.svc.Cast(req.Proposal, req.Voter, req.Value, req.Budget); err != nil {
		return errorReply(err)
	}

	s.svc.Settle()

	if rej, ok := s.svc.TakeRejection(req.Voter); ok {
		return errorReply(rej)
	}

	logger.Debug("remote vote submitted",
		"peer", p.Address(), "proposal", req.Proposal, "voter", req.Voter)

	s.Announce(req.Proposal, req.Voter, req.Value)

	return okReply(s.stateReply(req.Proposal, req.Voter))
}

func (s *Server) serveQuery(payload []byte) []byte {
	if len(payload) != 32 {
		return errorReply(fmt.Errorf("query payload size %d, want 32", len(payload)))
	}

	var proposal actor.Identity
	copy(proposal[:], payload)

	if _, err := s.svc.Query(proposal); err != nil {
		return errorReply(err)
	}

	return okReply(s.stateReply(proposal, actor.Identity{}))
}

func (s *Server) serveReceipt(payload []byte) []byte {
	if len(payload) != 64 {
		return errorReply(fmt.Errorf("receipt payload size %d, want 64", len(payload)))
	}

	var proposal, voter actor.Identity
	copy(proposal[:], payload[:32])
	copy(voter[:], payload[32:])

	sig, err := s.svc.Receipt(proposal, voter)
	if err != nil {
		return errorReply(err)
	}
	if sig == nil {
		return errorReply(fmt.Errorf("no receipt for voter %s", voter))
	}

	return okReply(sig)
}

// serveSnapshot exports the ledger so a joining peer can bootstrap
// its proposal set.
func (s *Server) serveSnapshot() []byte {
	blob, err := s.svc.Snapshot()
	if err != nil {
		return errorReply(err)
	}

	logger.Debug("snapshot served", "bytes", len(blob))

	return okReply(blob)
}

// stateReply snapshots a proposal's state plus the voter's cashback
// balance into wire form.
func (s *Server) stateReply(proposal, voter actor.Identity) []byte {
	v, err := s.svc.Query(proposal)
	if err != nil {
		// The proposal existed moments ago; an empty view is the best
		// the reply can carry.
		logger.Warn("state snapshot failed", "proposal", proposal, "error", err)
		return EncodeStateReply(StateReply{})
	}

	return EncodeStateReply(StateReply{
		YesCount:       v.YesCount,
		NoCount:        v.NoCount,
		VotingEndingAt: v.VotingEndingAt,
		ProposalID:     v.ProposalID,
		OwnerMaster:    v.OwnerMaster,
		Refunds:        s.svc.Refunds(voter),
	})
}

// Announce broadcasts a vote notice to all peers.
func (s *Server) Announce(proposal, voter actor.Identity, value bool) {
	a := Announcement{Proposal: proposal, Voter: voter, Value: value}

	if err := s.node.Broadcast(EncodeAnnouncement(a)); err != nil {
		logger.Warn("announcement broadcast failed", "error", err)
	}
}

// handleAnnouncement surfaces a peer's vote notice. The dedup filter
// has already discarded replays.
func (s *Server) handleAnnouncement(p *Peer, data []byte) {
	a, err := DecodeAnnouncement(data)
	if err != nil {
		logger.Debug("malformed announcement", "peer", p.Address(), "error", err)
		return
	}

	logger.Info("peer vote announced",
		"peer", p.Address(), "proposal", a.Proposal, "voter", a.Voter, "value", a.Value)
}
