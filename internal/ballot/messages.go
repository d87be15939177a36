package ballot

import (
	"fmt"

	"Tally/internal/actor"
)

// Wire messages are distinguished by structural shape (their encoded
// length) rather than an explicit tag byte, keeping per-message
// overhead at the minimum. Sizes must therefore stay pairwise distinct.
//
// Vote and confirmation flow between local actors. Deploy and init are
// the deployment schema of the external proposal factory: nodes take
// deployment requests through the HTTP API instead, so for those two
// shapes only the codec is defined here.
const (
	voteSize         = 1  // 1B value
	deploySize       = 4  // 4B votingEndingAt
	confirmationSize = 33 // 1B value + 32B voter identity
	initSize         = 36 // 32B ownerMaster + 4B proposalID
)

// Kind identifies the structural shape of an encoded message.
type Kind int

// Message kinds.
const (
	KindUnknown Kind = iota
	KindVote
	KindDeploy
	KindConfirmation
	KindInit
)

// Classify determines a message's kind from its encoded length.
func Classify(data []byte) Kind {
	switch len(data) {
	case voteSize:
		return KindVote
	case deploySize:
		return KindDeploy
	case confirmationSize:
		return KindConfirmation
	case initSize:
		return KindInit
	default:
		return KindUnknown
	}
}

// EncodeVote encodes a vote: one byte carrying the 1-bit value.
func EncodeVote(value bool) []byte {
	if value {
		return []byte{1}
	}

	return []byte{0}
}

// DecodeVote decodes a vote message.
func DecodeVote(data []byte) (bool, error) {
	if len(data) != voteSize {
		return false, fmt.Errorf("vote message size %d, want %d", len(data), voteSize)
	}

	if data[0] > 1 {
		return false, fmt.Errorf("vote value 0x%02x not a bit", data[0])
	}

	return data[0] == 1, nil
}

// EncodeDeploy encodes a proposal deployment request:
// a 32-bit unsigned voting deadline.
func EncodeDeploy(votingEndingAt uint32) []byte {
	return []byte{
		byte(votingEndingAt >> 24),
		byte(votingEndingAt >> 16),
		byte(votingEndingAt >> 8),
		byte(votingEndingAt),
	}
}

// DecodeDeploy decodes a proposal deployment request.
func DecodeDeploy(data []byte) (uint32, error) {
	if len(data) != deploySize {
		return 0, fmt.Errorf("deploy message size %d, want %d", len(data), deploySize)
	}

	return uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]), nil
}

// EncodeConfirmation encodes a voter actor's confirmation:
// the vote value followed by the voter's identity.
func EncodeConfirmation(value bool, voter actor.Identity) []byte {
	buf := make([]byte, confirmationSize)

	if value {
		buf[0] = 1
	}
	copy(buf[1:], voter[:])

	return buf
}

// DecodeConfirmation decodes a confirmation message.
func DecodeConfirmation(data []byte) (bool, actor.Identity, error) {
	if len(data) != confirmationSize {
		return false, actor.Identity{}, fmt.Errorf("confirmation size %d, want %d", len(data), confirmationSize)
	}

	if data[0] > 1 {
		return false, actor.Identity{}, fmt.Errorf("confirmation value 0x%02x not a bit", data[0])
	}

	var voter actor.Identity
	copy(voter[:], data[1:])

	return data[0] == 1, voter, nil
}

// EncodeInit encodes construction parameters: the owning factory
// identity and the factory-assigned proposal number.
func EncodeInit(ownerMaster actor.Identity, proposalID uint32) []byte {
	buf := make([]byte, initSize)
	copy(buf[:32], ownerMaster[:])
	buf[32] = byte(proposalID >> 24)
	buf[33] = byte(proposalID >> 16)
	buf[34] = byte(proposalID >> 8)
	buf[35] = byte(proposalID)

	return buf
}

// DecodeInit decodes construction parameters.
func DecodeInit(data []byte) (actor.Identity, uint32, error) {
	if len(data) != initSize {
		return actor.Identity{}, 0, fmt.Errorf("init message size %d, want %d", len(data), initSize)
	}

	var owner actor.Identity
	copy(owner[:], data[:32])

	id := uint32(data[32])<<24 | uint32(data[33])<<16 | uint32(data[34])<<8 | uint32(data[35])

	return owner, id, nil
}
