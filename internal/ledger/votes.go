package ledger

import "Tally/internal/storage"

// votedMarker is the unit value stored for a vote marker.
// Presence of the key is the membership test; the value carries nothing.
var votedMarker = []byte{1}

// HasVoted reports whether the identity already voted on the proposal.
func (l *Ledger) HasVoted(proposal, voter [32]byte) (bool, error) {
	return l.db.Has(voteKey(proposal, voter))
}

// MarkVoted records that the identity voted on the proposal.
// Idempotent at the storage layer; callers must check HasVoted first
// and treat a second vote as a duplicate, never as a silent success.
func (l *Ledger) MarkVoted(proposal, voter [32]byte) error {
	return l.db.Set(voteKey(proposal, voter), votedMarker)
}

// HasDerived reports whether a derived-address record exists.
// In the address-derivation variant the content-addressed key stands in
// for the membership set: existence of the key is the oracle.
func (l *Ledger) HasDerived(addr [32]byte) (bool, error) {
	return l.db.Has(derivedKey(addr))
}

// MarkDerived records a derived-address one-shot marker.
func (l *Ledger) MarkDerived(addr [32]byte) error {
	return l.db.Set(derivedKey(addr), votedMarker)
}

// UnmarkDerived removes a derived-address marker, releasing the
// one-shot slot when the recorded vote could not be forwarded.
func (l *Ledger) UnmarkDerived(addr [32]byte) error {
	return l.db.Delete(derivedKey(addr))
}

// ApplyVote persists an accepted vote in one atomic batch: the updated
// proposal record and the voter's dedup marker. Either both land or
// neither, so a crash cannot leave a counted vote without its marker.
func (l *Ledger) ApplyVote(addr [32]byte, rec ProposalRecord, voter [32]byte) error {
	return l.db.SetBatch([]storage.KeyValue{
		{Key: proposalKey(addr), Value: encodeProposalRecord(rec)},
		{Key: voteKey(addr, voter), Value: votedMarker},
	})
}

// voteKey builds the dedup index key: "w:" + proposal + voter.
func voteKey(proposal, voter [32]byte) []byte {
	key := make([]byte, len(prefixVoted)+len(proposal)+len(voter))
	n := copy(key, prefixVoted)
	n += copy(key[n:], proposal[:])
	copy(key[n:], voter[:])

	return key
}

// derivedKey builds the derived-address marker key: "w:" + address.
func derivedKey(addr [32]byte) []byte {
	key := make([]byte, len(prefixVoted)+len(addr))
	copy(key, prefixVoted)
	copy(key[len(prefixVoted):], addr[:])

	return key
}
