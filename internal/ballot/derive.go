package ballot

import (
	"github.com/zeebo/blake3"

	"Tally/internal/actor"
)

// Domain separation tags for address derivation.
var (
	deriveTag   = []byte("tally-voter-addr")
	proposalTag = []byte("tally-proposal-addr")
)

// Derive computes the voter actor's address for a (proposal, voter)
// pair: BLAKE3(tag || proposal || voter). Pure and deterministic, so
// any party holding the two identities can compute it off-line, and
// addressing the child actor doubles as the set-membership test.
func Derive(proposal, voter actor.Identity) actor.Identity {
	h := blake3.New()
	h.Write(deriveTag)
	h.Write(proposal[:])
	h.Write(voter[:])

	var addr actor.Identity
	h.Sum(addr[:0])

	return addr
}

// ProposalAddress computes a proposal aggregator's address from its
// owning factory identity and factory-assigned number:
// BLAKE3(tag || owner || proposalID).
func ProposalAddress(ownerMaster actor.Identity, proposalID uint32) actor.Identity {
	h := blake3.New()
	h.Write(proposalTag)
	h.Write(ownerMaster[:])
	h.Write([]byte{
		byte(proposalID >> 24),
		byte(proposalID >> 16),
		byte(proposalID >> 8),
		byte(proposalID),
	})

	var addr actor.Identity
	h.Sum(addr[:0])

	return addr
}
