package ballot

import (
	"fmt"
	"sync"
	"time"

	"Tally/internal/actor"
	"Tally/internal/gas"
	"Tally/internal/ledger"
	"Tally/internal/logger"
	"Tally/internal/packed"
	"Tally/internal/receipt"
)

// Variant selects how the deduplication index is realized.
type Variant int

const (
	// Membership keeps an explicit member set owned by the aggregator.
	// Duplicate votes are hard rejections: no state change, no refund.
	Membership Variant = iota

	// Derived indexes voters through deterministic child-actor
	// addresses. Duplicates are detected on the voter actor, which
	// refunds the attached budget before surfacing the rejection.
	Derived
)

// Config carries the voting parameters shared by every proposal on a node.
type Config struct {
	Codec    packed.Codec     // Codec packs the counter state
	VoteCap  uint32           // VoteCap is the maximum accepted vote total
	Costs    gas.Params       // Costs is the injectable per-hop cost model
	Variant  Variant          // Variant selects the dedup index realization
	Now      func() uint32    // Now returns the current unix time; nil uses the wall clock
	Receipts *receipt.KeyPair // Receipts signs acknowledgements when set
	OnReject RejectFunc       // OnReject is notified of explicit vote rejections when set
}

// reject surfaces a rejection to the configured callback.
func (c Config) reject(voter actor.Identity, err error) {
	if c.OnReject != nil {
		c.OnReject(voter, err)
	}
}

// now returns the configured clock's current time.
func (c Config) now() uint32 {
	if c.Now != nil {
		return c.Now()
	}

	return uint32(time.Now().Unix())
}

// View is the read-only query result for a proposal.
type View struct {
	YesCount       uint32         // YesCount is the accepted yes total
	NoCount        uint32         // NoCount is the accepted no total
	OwnerMaster    actor.Identity // OwnerMaster is the deploying factory
	ProposalID     uint32         // ProposalID is the factory-assigned number
	VotingEndingAt uint32         // VotingEndingAt is the deadline timestamp
}

// Aggregator owns one proposal's packed counter state and its dedup
// index. It is the only writer of both; construction parameters are
// immutable after creation. Open/Closed is derived purely from
// comparing time against the deadline embedded in the packed word.
type Aggregator struct {
	addr actor.Identity
	led  *ledger.Ledger
	cfg  Config

	mu  sync.RWMutex
	rec ledger.ProposalRecord
}

// directChain is the causal chain of a direct (membership) vote:
// the aggregator's own processing, persisting a new marker.
func directChain() []gas.Hop {
	return []gas.Hop{{NewRecord: true}}
}

// NewAggregator deploys a proposal at the given address.
// Fails ErrUnauthorized unless the declared owning factory identity
// matches the actual deployer.
func NewAggregator(
	addr, deployer, ownerMaster actor.Identity,
	proposalID, votingEndingAt uint32,
	led *ledger.Ledger,
	cfg Config,
) (*Aggregator, error) {
	if deployer != ownerMaster {
		return nil, fmt.Errorf("deployer %s is not the declared owner %s: %w",
			deployer, ownerMaster, ErrUnauthorized)
	}

	if cfg.VoteCap > cfg.Codec.MaxCount() {
		return nil, fmt.Errorf("vote cap %d exceeds %d-bit counter field",
			cfg.VoteCap, cfg.Codec.CounterBits())
	}

	word, err := cfg.Codec.Encode(votingEndingAt, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("encode initial state:\n%w", err)
	}

	a := &Aggregator{
		addr: addr,
		led:  led,
		cfg:  cfg,
		rec: ledger.ProposalRecord{
			Word:        word,
			OwnerMaster: ownerMaster,
			ProposalID:  proposalID,
			CounterBits: uint8(cfg.Codec.CounterBits()),
			VoteCap:     cfg.VoteCap,
		},
	}

	if err := led.PutProposal(addr, a.rec); err != nil {
		return nil, fmt.Errorf("persist proposal:\n%w", err)
	}

	logger.Info("proposal deployed",
		"addr", addr,
		"owner", ownerMaster,
		"id", proposalID,
		"deadline", votingEndingAt,
	)

	return a, nil
}

// LoadAggregator restores a proposal from the ledger.
// The codec is rebuilt from the record's persisted counter width so a
// node restart cannot silently reinterpret the packed layout.
func LoadAggregator(addr actor.Identity, led *ledger.Ledger, cfg Config) (*Aggregator, error) {
	rec, found, err := led.GetProposal(addr)
	if err != nil {
		return nil, fmt.Errorf("load proposal:\n%w", err)
	}
	if !found {
		return nil, fmt.Errorf("proposal %s not found", addr)
	}

	codec, err := packed.NewCodec(uint(rec.CounterBits))
	if err != nil {
		return nil, fmt.Errorf("rebuild codec:\n%w", err)
	}

	cfg.Codec = codec
	cfg.VoteCap = rec.VoteCap

	return &Aggregator{addr: addr, led: led, cfg: cfg, rec: rec}, nil
}

// Address returns the aggregator's actor address.
func (a *Aggregator) Address() actor.Identity {
	return a.addr
}

// AcceptVote validates and applies a direct vote (membership variant).
// Returns the excess budget to cash back to the voter. Every failure
// leaves the counters and the index untouched.
func (a *Aggregator) AcceptVote(voter actor.Identity, value bool, budget uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chain := directChain()
	if !a.cfg.Costs.CanAfford(budget, chain) {
		return 0, ErrInsufficientBudget
	}

	if err := a.validate(voter); err != nil {
		return 0, err
	}

	if err := a.apply(voter, value); err != nil {
		return 0, err
	}

	return a.cfg.Costs.Surplus(budget, chain), nil
}

// AcceptConfirmation applies a voter actor's confirmation (derivation
// variant). The remaining budget arrives with the confirmation; the
// surplus after this hop's processing is cashed back to the voter.
func (a *Aggregator) AcceptConfirmation(voter actor.Identity, value bool, remaining uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.validate(voter); err != nil {
		return 0, err
	}

	if err := a.apply(voter, value); err != nil {
		return 0, err
	}

	if remaining < a.cfg.Costs.ComputeFee {
		return 0, nil
	}

	return remaining - a.cfg.Costs.ComputeFee, nil
}

// validate runs the acceptance checks in order: deadline, dedup
// index, vote cap. None of them mutates state.
func (a *Aggregator) validate(voter actor.Identity) error {
	if a.cfg.Codec.IsExpired(a.rec.Word, a.cfg.now()) {
		return ErrVotingEnded
	}

	voted, err := a.led.HasVoted(a.addr, voter)
	if err != nil {
		return fmt.Errorf("read dedup index:\n%w", err)
	}
	if voted {
		return ErrAlreadyVoted
	}

	s := a.cfg.Codec.Decode(a.rec.Word)
	if uint64(s.Yes)+uint64(s.No) >= uint64(a.rec.VoteCap) {
		return ErrTooManyVotes
	}

	return nil
}

// apply increments the packed word and persists word and marker in one
// atomic batch, then signs a receipt when a signer is configured.
func (a *Aggregator) apply(voter actor.Identity, value bool) error {
	word, err := a.cfg.Codec.AddVote(a.rec.Word, value)
	if err != nil {
		return fmt.Errorf("increment counter:\n%w", err)
	}

	rec := a.rec
	rec.Word = word

	if err := a.led.ApplyVote(a.addr, rec, voter); err != nil {
		return fmt.Errorf("persist vote:\n%w", err)
	}

	a.rec = rec

	if a.cfg.Receipts != nil {
		sig := a.cfg.Receipts.Sign(a.addr, voter, value)
		if err := a.led.PutReceipt(a.addr, voter, sig); err != nil {
			logger.Warn("store receipt failed", "proposal", a.addr, "voter", voter, "error", err)
		}
	}

	return nil
}

// QueryState returns the proposal's current state. Pure, callable any
// number of times, including after the deadline.
func (a *Aggregator) QueryState() View {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.cfg.Codec.Decode(a.rec.Word)

	return View{
		YesCount:       s.Yes,
		NoCount:        s.No,
		OwnerMaster:    a.rec.OwnerMaster,
		ProposalID:     a.rec.ProposalID,
		VotingEndingAt: s.Deadline,
	}
}

// Receive handles envelopes addressed to the aggregator.
func (a *Aggregator) Receive(ctx *actor.Context, env actor.Envelope) {
	switch Classify(env.Body) {
	case KindVote:
		a.receiveVote(ctx, env)
	case KindConfirmation:
		a.receiveConfirmation(ctx, env)
	default:
		logger.Warn("aggregator got unexpected message",
			"proposal", a.addr, "from", env.From, "size", len(env.Body))
	}
}

// receiveVote handles a direct vote in the membership variant.
// Duplicates and other validation failures are hard rejections: the
// detection and the rejection happen atomically on this actor, so no
// refund is owed. Only an admission failure returns the budget, since
// nothing was metered yet.
func (a *Aggregator) receiveVote(ctx *actor.Context, env actor.Envelope) {
	if a.cfg.Variant != Membership {
		// Derivation-variant votes enter through the voter actor.
		logger.Warn("direct vote on derivation-indexed proposal",
			"proposal", a.addr, "from", env.From)
		ctx.Refund(env.From, env.Budget)
		return
	}

	value, err := DecodeVote(env.Body)
	if err != nil {
		logger.Warn("malformed vote", "proposal", a.addr, "from", env.From, "error", err)
		return
	}

	cashback, err := a.AcceptVote(env.From, value, env.Budget)
	if err != nil {
		if err == ErrInsufficientBudget {
			ctx.Refund(env.From, env.Budget)
		}

		a.cfg.reject(env.From, err)

		logger.Warn("vote rejected",
			"proposal", a.addr, "voter", env.From, "error", err)
		return
	}

	ctx.Refund(env.From, cashback)

	logger.Debug("vote accepted", "proposal", a.addr, "voter", env.From, "value", value)
}

// receiveConfirmation handles a voter actor's confirmation in the
// derivation variant. The sender is authenticated structurally: the
// envelope must originate from the address derived for the claimed
// voter. Rejections refund the remaining budget to the voter.
func (a *Aggregator) receiveConfirmation(ctx *actor.Context, env actor.Envelope) {
	if a.cfg.Variant != Derived {
		logger.Warn("confirmation on membership-indexed proposal",
			"proposal", a.addr, "from", env.From)
		return
	}

	value, voter, err := DecodeConfirmation(env.Body)
	if err != nil {
		logger.Warn("malformed confirmation", "proposal", a.addr, "from", env.From, "error", err)
		return
	}

	if env.From != Derive(a.addr, voter) {
		logger.Warn("confirmation from underived address",
			"proposal", a.addr, "from", env.From, "claimed_voter", voter)
		return
	}

	cashback, err := a.AcceptConfirmation(voter, value, env.Budget)
	if err != nil {
		// Refund-then-reject: the duplicate detector ran on a separate
		// actor, so any budget still attached goes back to the voter.
		ctx.Refund(voter, env.Budget)

		a.cfg.reject(voter, err)

		logger.Warn("confirmation rejected",
			"proposal", a.addr, "voter", voter, "error", err)
		return
	}

	ctx.Refund(voter, cashback)

	logger.Debug("confirmation accepted", "proposal", a.addr, "voter", voter, "value", value)
}
