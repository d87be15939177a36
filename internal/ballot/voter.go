package ballot

import (
	"fmt"

	"Tally/internal/actor"
	"Tally/internal/gas"
	"Tally/internal/ledger"
	"Tally/internal/logger"
)

// RejectFunc is invoked when a voter actor rejects a vote attempt, so
// the originator gets an explicit signal instead of a silent drop.
type RejectFunc func(voter actor.Identity, err error)

// Voter is the per-(proposal, voter) one-shot actor of the derivation
// variant. Its address is Derive(proposal, voter), so deploying and
// addressing it is the set-insertion/membership test. It transitions
// once from fresh to voted; afterwards every message is refunded and
// rejected. Sender authentication is delegated to address derivation:
// only the holder of the voter identity gains anything by messaging
// this address, and the confirmation it forwards names that identity.
type Voter struct {
	forward  actor.Identity // forward is the aggregator; zeroed once voted
	voterID  actor.Identity
	voted    bool
	led      *ledger.Ledger
	costs    gas.Params
	onReject RejectFunc
}

// relayChain is the full causal chain a relayed vote must fund before
// any state changes: this actor's processing plus its persisted
// one-shot record plus the forwarded confirmation, then the
// aggregator's processing.
func relayChain() []gas.Hop {
	return []gas.Hop{
		{Forwards: 1, NewRecord: true},
		{},
	}
}

// RelayChainCost returns the minimum budget a relayed vote needs.
func RelayChainCost(costs gas.Params) uint64 {
	return costs.ChainCost(relayChain())
}

// NewVoter creates the one-shot voter actor for a (proposal, voter)
// pair. The voted flag is restored from the ledger, so a node restart
// cannot resurrect a spent actor.
func NewVoter(
	proposal, voterID actor.Identity,
	led *ledger.Ledger,
	costs gas.Params,
	onReject RejectFunc,
) (*Voter, error) {
	voted, err := led.HasDerived(Derive(proposal, voterID))
	if err != nil {
		return nil, err
	}

	v := &Voter{
		forward:  proposal,
		voterID:  voterID,
		voted:    voted,
		led:      led,
		costs:    costs,
		onReject: onReject,
	}

	if voted {
		// Spent before this process started: the forwarding target is
		// invalidated up front so a replay cannot reforward.
		v.forward = actor.Identity{}
	}

	return v, nil
}

// reject surfaces a rejection to the configured callback.
func (v *Voter) reject(err error) {
	if v.onReject != nil {
		v.onReject(v.voterID, err)
	}
}

// Receive handles one vote attempt.
func (v *Voter) Receive(ctx *actor.Context, env actor.Envelope) {
	value, err := DecodeVote(env.Body)
	if err != nil {
		logger.Warn("malformed vote at voter actor",
			"voter", v.voterID, "from", env.From, "error", err)
		ctx.Refund(v.voterID, env.Budget)
		return
	}

	// Duplicate: refund the attached budget and surface the rejection.
	// Never a silent drop; the originator must learn the vote's fate.
	if v.voted {
		ctx.Refund(v.voterID, env.Budget)
		v.reject(ErrAlreadyVoted)

		logger.Warn("duplicate vote attempt", "voter", v.voterID)
		return
	}

	// Admission: the budget must fund the entire two-hop chain before
	// anything mutates, so a shortfall can never strand a half-applied
	// cross-actor transition.
	chain := relayChain()
	if !v.costs.CanAfford(env.Budget, chain) {
		ctx.Refund(v.voterID, env.Budget)
		v.reject(ErrInsufficientBudget)

		logger.Warn("underfunded vote attempt",
			"voter", v.voterID, "budget", env.Budget, "need", v.costs.ChainCost(chain))
		return
	}

	// Flip to voted, persist the one-shot record, and invalidate the
	// forwarding target before sending, so a replay of the original
	// request becomes a no-op.
	target := v.forward
	v.voted = true
	v.forward = actor.Identity{}

	if err := v.led.MarkDerived(ctx.Self()); err != nil {
		// Roll the in-memory flip back; nothing was sent yet.
		v.voted = false
		v.forward = target

		ctx.Refund(v.voterID, env.Budget)
		v.reject(err)

		logger.Error("persist voter record failed", "voter", v.voterID, "error", err)
		return
	}

	remaining := env.Budget - v.costs.HopCost(gas.Hop{Forwards: 1, NewRecord: true})

	if err := ctx.Send(target, EncodeConfirmation(value, v.voterID), remaining); err != nil {
		// The confirmation never left, so the persisted marker would
		// burn the identity for a vote that is not counted. Release the
		// one-shot slot, refund everything and surface the failure.
		if uerr := v.led.UnmarkDerived(ctx.Self()); uerr != nil {
			logger.Error("release voter record failed", "voter", v.voterID, "error", uerr)
		} else {
			v.voted = false
			v.forward = target
		}

		ctx.Refund(v.voterID, env.Budget)
		v.reject(fmt.Errorf("forward confirmation:\n%w", err))

		logger.Error("forward confirmation failed",
			"voter", v.voterID, "proposal", target, "error", err)
		return
	}

	logger.Debug("vote relayed", "voter", v.voterID, "proposal", target, "value", value)
}

// Voted reports whether the one-shot transition has happened.
func (v *Voter) Voted() bool {
	return v.voted
}
