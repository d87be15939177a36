package ballot

import (
	"fmt"
	"sync"

	"Tally/internal/actor"
	"Tally/internal/ledger"
	"Tally/internal/logger"
)

// Service hosts every proposal aggregator on a node and routes vote
// casts to the right entry point for the configured variant. It plays
// the thin factory role: it numbers proposals and deploys aggregator
// instances, nothing more.
type Service struct {
	sys   *actor.System
	led   *ledger.Ledger
	cfg   Config
	owner actor.Identity

	mu        sync.RWMutex
	proposals map[actor.Identity]*Aggregator
	nextID    uint32

	rejectMu   sync.Mutex
	rejections map[actor.Identity]error // last explicit rejection per voter
}

// NewService creates a service deploying proposals under the given
// owner identity.
func NewService(sys *actor.System, led *ledger.Ledger, cfg Config, owner actor.Identity) *Service {
	s := &Service{
		sys:        sys,
		led:        led,
		cfg:        cfg,
		owner:      owner,
		proposals:  make(map[actor.Identity]*Aggregator),
		rejections: make(map[actor.Identity]error),
	}

	// Aggregator-side rejections flow into the same per-voter record
	// as the voter actors' signals.
	s.cfg.OnReject = s.recordRejection

	return s
}

// Restore reloads every persisted proposal and re-registers its
// aggregator with the actor system.
func (s *Service) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.led.IterateProposals(func(addr [32]byte, rec ledger.ProposalRecord) error {
		agg, err := LoadAggregator(addr, s.led, s.cfg)
		if err != nil {
			return fmt.Errorf("restore proposal %x:\n%w", addr[:8], err)
		}

		if err := s.sys.Register(addr, agg); err != nil {
			return fmt.Errorf("register proposal %x:\n%w", addr[:8], err)
		}

		s.proposals[addr] = agg

		if rec.ProposalID >= s.nextID {
			s.nextID = rec.ProposalID + 1
		}

		return nil
	})
}

// Deploy creates a new proposal with the next sequence number and
// returns its address.
func (s *Service) Deploy(votingEndingAt uint32) (actor.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	addr := ProposalAddress(s.owner, id)

	agg, err := NewAggregator(addr, s.owner, s.owner, id, votingEndingAt, s.led, s.cfg)
	if err != nil {
		return actor.Identity{}, err
	}

	if err := s.sys.Register(addr, agg); err != nil {
		return actor.Identity{}, fmt.Errorf("register aggregator:\n%w", err)
	}

	s.proposals[addr] = agg
	s.nextID = id + 1

	return addr, nil
}

// Cast submits one vote. In the membership variant the envelope goes
// straight to the aggregator; in the derivation variant it goes to the
// voter actor at the derived address, spawned on first contact.
func (s *Service) Cast(proposal, voter actor.Identity, value bool, budget uint64) error {
	s.mu.RLock()
	_, known := s.proposals[proposal]
	s.mu.RUnlock()

	if !known {
		return fmt.Errorf("unknown proposal %s", proposal)
	}

	env := actor.Envelope{
		From:   voter,
		To:     proposal,
		Budget: budget,
		Body:   EncodeVote(value),
	}

	if s.cfg.Variant == Membership {
		return s.sys.Send(env)
	}

	v, err := NewVoter(proposal, voter, s.led, s.cfg.Costs, s.recordRejection)
	if err != nil {
		return fmt.Errorf("construct voter actor:\n%w", err)
	}

	env.To = Derive(proposal, voter)

	return s.sys.SendOrSpawn(env, func() actor.Handler { return v })
}

// Query returns the read-only state of a proposal.
func (s *Service) Query(proposal actor.Identity) (View, error) {
	s.mu.RLock()
	agg, known := s.proposals[proposal]
	s.mu.RUnlock()

	if !known {
		return View{}, fmt.Errorf("unknown proposal %s", proposal)
	}

	return agg.QueryState(), nil
}

// Receipt returns the signed acknowledgement for an accepted vote, or
// nil if there is none.
func (s *Service) Receipt(proposal, voter actor.Identity) ([]byte, error) {
	return s.led.GetReceipt(proposal, voter)
}

// Refunds returns the total budget cashed back to an identity.
func (s *Service) Refunds(id actor.Identity) uint64 {
	return s.sys.Refunds(id)
}

// LastRejection returns the most recent explicit rejection signalled
// for a voter, if any.
func (s *Service) LastRejection(voter actor.Identity) (error, bool) {
	s.rejectMu.Lock()
	defer s.rejectMu.Unlock()

	err, ok := s.rejections[voter]
	return err, ok
}

// TakeRejection returns and clears a voter's most recent rejection, so
// a request handler can attribute it to the cast it just settled.
func (s *Service) TakeRejection(voter actor.Identity) (error, bool) {
	s.rejectMu.Lock()
	defer s.rejectMu.Unlock()

	err, ok := s.rejections[voter]
	if ok {
		delete(s.rejections, voter)
	}

	return err, ok
}

// Snapshot exports the full ledger for peer synchronization.
func (s *Service) Snapshot() ([]byte, error) {
	return s.led.ExportSnapshot()
}

// ImportSnapshot replaces the ledger contents from a peer's snapshot.
// Call Restore afterwards to re-register the imported proposals.
func (s *Service) ImportSnapshot(blob []byte) error {
	return s.led.ImportSnapshot(blob)
}

// ProposalCount returns the number of hosted proposals.
func (s *Service) ProposalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.proposals)
}

// Settle blocks until every in-flight envelope has been handled.
func (s *Service) Settle() {
	s.sys.Settle()
}

// recordRejection is the voter actors' explicit rejection signal.
func (s *Service) recordRejection(voter actor.Identity, err error) {
	s.rejectMu.Lock()
	s.rejections[voter] = err
	s.rejectMu.Unlock()

	logger.Debug("vote attempt rejected", "voter", voter, "error", err)
}
