package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"Tally/internal/actor"
)

const (
	// maxFrameSize is the maximum allowed frame size (16 MB).
	maxFrameSize = 16 << 20

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4
)

// Remote operation tags. Every request starts with one tag byte.
const (
	OpSubmit   byte = 0x01 // submit a vote on behalf of an identity
	OpQuery    byte = 0x02 // read a proposal's current state
	OpReceipt  byte = 0x03 // fetch the signed acknowledgement for a vote
	OpSnapshot byte = 0x04 // export the serving node's full ledger
)

// Response status bytes.
const (
	statusOK    byte = 0x00
	statusError byte = 0x01
)

// SubmitRequest carries one remote vote submission.
type SubmitRequest struct {
	Proposal actor.Identity // Proposal is the target proposal address
	Voter    actor.Identity // Voter is the voting identity
	Value    bool           // Value is the yes/no choice
	Budget   uint64         // Budget is the attached computation budget
}

const submitRequestSize = 1 + 32 + 32 + 1 + 8

// EncodeSubmit encodes a vote submission request.
func EncodeSubmit(req SubmitRequest) []byte {
	buf := make([]byte, submitRequestSize)
	buf[0] = OpSubmit
	copy(buf[1:33], req.Proposal[:])
	copy(buf[33:65], req.Voter[:])
	if req.Value {
		buf[65] = 1
	}
	binary.BigEndian.PutUint64(buf[66:], req.Budget)

	return buf
}

// DecodeSubmit decodes a vote submission request. The tag byte must
// already have been consumed by the dispatcher.
func DecodeSubmit(payload []byte) (SubmitRequest, error) {
	if len(payload) != submitRequestSize-1 {
		return SubmitRequest{}, fmt.Errorf("submit payload size %d, want %d", len(payload), submitRequestSize-1)
	}

	var req SubmitRequest
	copy(req.Proposal[:], payload[:32])
	copy(req.Voter[:], payload[32:64])
	req.Value = payload[64] == 1
	req.Budget = binary.BigEndian.Uint64(payload[65:])

	return req, nil
}

// EncodeQuery encodes a proposal state query.
func EncodeQuery(proposal actor.Identity) []byte {
	buf := make([]byte, 1+32)
	buf[0] = OpQuery
	copy(buf[1:], proposal[:])

	return buf
}

// EncodeSnapshotRequest encodes a ledger snapshot request.
func EncodeSnapshotRequest() []byte {
	return []byte{OpSnapshot}
}

// EncodeReceipt encodes a receipt fetch request.
func EncodeReceipt(proposal, voter actor.Identity) []byte {
	buf := make([]byte, 1+32+32)
	buf[0] = OpReceipt
	copy(buf[1:33], proposal[:])
	copy(buf[33:], voter[:])

	return buf
}

// StateReply is the wire form of a proposal's state.
type StateReply struct {
	YesCount       uint32
	NoCount        uint32
	VotingEndingAt uint32
	ProposalID     uint32
	OwnerMaster    actor.Identity
	Refunds        uint64 // Refunds is the caller's cashback balance on the serving node
}

const stateReplySize = 4 + 4 + 4 + 4 + 32 + 8

// EncodeStateReply encodes a state reply payload.
func EncodeStateReply(r StateReply) []byte {
	buf := make([]byte, stateReplySize)
	binary.BigEndian.PutUint32(buf[0:], r.YesCount)
	binary.BigEndian.PutUint32(buf[4:], r.NoCount)
	binary.BigEndian.PutUint32(buf[8:], r.VotingEndingAt)
	binary.BigEndian.PutUint32(buf[12:], r.ProposalID)
	copy(buf[16:48], r.OwnerMaster[:])
	binary.BigEndian.PutUint64(buf[48:], r.Refunds)

	return buf
}

// DecodeStateReply decodes a state reply payload.
func DecodeStateReply(payload []byte) (StateReply, error) {
	if len(payload) != stateReplySize {
		return StateReply{}, fmt.Errorf("state reply size %d, want %d", len(payload), stateReplySize)
	}

	var r StateReply
	r.YesCount = binary.BigEndian.Uint32(payload[0:])
	r.NoCount = binary.BigEndian.Uint32(payload[4:])
	r.VotingEndingAt = binary.BigEndian.Uint32(payload[8:])
	r.ProposalID = binary.BigEndian.Uint32(payload[12:])
	copy(r.OwnerMaster[:], payload[16:48])
	r.Refunds = binary.BigEndian.Uint64(payload[48:])

	return r, nil
}

// okReply builds a success response around a payload.
func okReply(payload []byte) []byte {
	return append([]byte{statusOK}, payload...)
}

// errorReply builds a failure response carrying the error text.
func errorReply(err error) []byte {
	return append([]byte{statusError}, []byte(err.Error())...)
}

// ParseReply splits a response into its payload, or returns the remote
// error.
func ParseReply(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty reply")
	}

	switch data[0] {
	case statusOK:
		return data[1:], nil
	case statusError:
		return nil, fmt.Errorf("remote: %s", data[1:])
	default:
		return nil, fmt.Errorf("unknown reply status 0x%02x", data[0])
	}
}

// Announcement is the gossip notice a node sends after accepting a
// vote, so peers can surface activity without polling.
type Announcement struct {
	Proposal actor.Identity
	Voter    actor.Identity
	Value    bool
}

const announcementSize = 32 + 32 + 1

// EncodeAnnouncement encodes a vote announcement.
func EncodeAnnouncement(a Announcement) []byte {
	buf := make([]byte, announcementSize)
	copy(buf[:32], a.Proposal[:])
	copy(buf[32:64], a.Voter[:])
	if a.Value {
		buf[64] = 1
	}

	return buf
}

// DecodeAnnouncement decodes a vote announcement.
func DecodeAnnouncement(data []byte) (Announcement, error) {
	if len(data) != announcementSize {
		return Announcement{}, fmt.Errorf("announcement size %d, want %d", len(data), announcementSize)
	}

	var a Announcement
	copy(a.Proposal[:], data[:32])
	copy(a.Voter[:], data[32:64])
	a.Value = data[64] == 1

	return a, nil
}

// writeFrame writes a length-prefixed frame to the writer.
// Format: [4 bytes big-endian length] [payload]
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(data), maxFrameSize)
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// readFrame reads a length-prefixed frame from the reader.
func readFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if length > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d > %d", length, maxFrameSize)
	}

	data := make([]byte, length)

	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return data, nil
}
