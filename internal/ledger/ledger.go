package ledger

import (
	"encoding/binary"
	"fmt"

	"Tally/internal/packed"
	"Tally/internal/storage"
)

// Storage key prefixes.
var (
	prefixProposal = []byte("p:") // proposal records
	prefixVoted    = []byte("w:") // vote markers (the dedup index)
)

// proposalRecordSize is the encoded size of a ProposalRecord.
// 16B packed word + 32B owner + 4B proposal id + 1B counter width + 4B cap.
const proposalRecordSize = 16 + 32 + 4 + 1 + 4

// ProposalRecord is the persisted state of one proposal aggregator.
// The packed word carries deadline and both counters; the rest is
// assigned once at construction and immutable thereafter.
type ProposalRecord struct {
	Word        packed.Word // Word is the packed {deadline, yes, no} state
	OwnerMaster [32]byte    // OwnerMaster is the deploying factory identity
	ProposalID  uint32      // ProposalID is the factory-assigned sequence number
	CounterBits uint8       // CounterBits is the counter field width (7 or 32)
	VoteCap     uint32      // VoteCap is the maximum accepted vote total
}

// Ledger persists proposal state and the vote dedup index.
type Ledger struct {
	db *storage.Storage
}

// New creates a ledger backed by the given storage.
func New(db *storage.Storage) *Ledger {
	return &Ledger{db: db}
}

// PutProposal stores or overwrites a proposal record.
func (l *Ledger) PutProposal(addr [32]byte, rec ProposalRecord) error {
	return l.db.Set(proposalKey(addr), encodeProposalRecord(rec))
}

// GetProposal retrieves a proposal record. The second return value is
// false if the proposal does not exist.
func (l *Ledger) GetProposal(addr [32]byte) (ProposalRecord, bool, error) {
	data, err := l.db.Get(proposalKey(addr))
	if err != nil {
		return ProposalRecord{}, false, err
	}
	if data == nil {
		return ProposalRecord{}, false, nil
	}

	rec, err := decodeProposalRecord(data)
	if err != nil {
		return ProposalRecord{}, false, err
	}

	return rec, true, nil
}

// IterateProposals calls fn for every stored proposal record.
func (l *Ledger) IterateProposals(fn func(addr [32]byte, rec ProposalRecord) error) error {
	return l.db.IteratePrefix(prefixProposal, func(key, value []byte) error {
		if len(key) != len(prefixProposal)+32 {
			return nil
		}

		rec, err := decodeProposalRecord(value)
		if err != nil {
			return err
		}

		var addr [32]byte
		copy(addr[:], key[len(prefixProposal):])

		return fn(addr, rec)
	})
}

// proposalKey builds the storage key for a proposal: "p:" + address.
func proposalKey(addr [32]byte) []byte {
	key := make([]byte, len(prefixProposal)+len(addr))
	copy(key, prefixProposal)
	copy(key[len(prefixProposal):], addr[:])

	return key
}

// encodeProposalRecord serializes a record to its fixed binary layout.
func encodeProposalRecord(rec ProposalRecord) []byte {
	buf := make([]byte, proposalRecordSize)

	binary.BigEndian.PutUint64(buf[0:8], rec.Word.Hi)
	binary.BigEndian.PutUint64(buf[8:16], rec.Word.Lo)
	copy(buf[16:48], rec.OwnerMaster[:])
	binary.BigEndian.PutUint32(buf[48:52], rec.ProposalID)
	buf[52] = rec.CounterBits
	binary.BigEndian.PutUint32(buf[53:57], rec.VoteCap)

	return buf
}

// decodeProposalRecord parses a record from its fixed binary layout.
func decodeProposalRecord(data []byte) (ProposalRecord, error) {
	if len(data) != proposalRecordSize {
		return ProposalRecord{}, fmt.Errorf("proposal record size %d, want %d", len(data), proposalRecordSize)
	}

	var rec ProposalRecord
	rec.Word.Hi = binary.BigEndian.Uint64(data[0:8])
	rec.Word.Lo = binary.BigEndian.Uint64(data[8:16])
	copy(rec.OwnerMaster[:], data[16:48])
	rec.ProposalID = binary.BigEndian.Uint32(data[48:52])
	rec.CounterBits = data[52]
	rec.VoteCap = binary.BigEndian.Uint32(data[53:57])

	return rec, nil
}
