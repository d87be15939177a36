package ledger

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"Tally/internal/packed"
	"Tally/internal/storage"
)

// newTestLedger creates a ledger over temporary storage.
func newTestLedger(t *testing.T) (*Ledger, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "ledger-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	db, err := storage.New(filepath.Join(dir, "db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to create storage: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(dir)
	}

	return New(db), cleanup
}

func testAddr(b byte) [32]byte {
	var a [32]byte
	a[0] = b
	return a
}

func TestProposalRecord_RoundTrip(t *testing.T) {
	l, cleanup := newTestLedger(t)
	defer cleanup()

	rec := ProposalRecord{
		Word:        packed.Word{Hi: 0xDEAD, Lo: 0xBEEF},
		OwnerMaster: testAddr(0xAA),
		ProposalID:  7,
		CounterBits: 7,
		VoteCap:     100,
	}

	if err := l.PutProposal(testAddr(1), rec); err != nil {
		t.Fatalf("PutProposal: %v", err)
	}

	got, found, err := l.GetProposal(testAddr(1))
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if !found {
		t.Fatal("proposal not found after put")
	}
	if got != rec {
		t.Errorf("record mismatch: got %+v, want %+v", got, rec)
	}
}

func TestGetProposal_Missing(t *testing.T) {
	l, cleanup := newTestLedger(t)
	defer cleanup()

	_, found, err := l.GetProposal(testAddr(9))
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if found {
		t.Error("missing proposal reported as found")
	}
}

func TestVoteMarkers(t *testing.T) {
	l, cleanup := newTestLedger(t)
	defer cleanup()

	proposal := testAddr(1)
	voter := testAddr(2)

	voted, err := l.HasVoted(proposal, voter)
	if err != nil {
		t.Fatalf("HasVoted: %v", err)
	}
	if voted {
		t.Error("fresh voter reported as voted")
	}

	if err := l.MarkVoted(proposal, voter); err != nil {
		t.Fatalf("MarkVoted: %v", err)
	}

	voted, err = l.HasVoted(proposal, voter)
	if err != nil {
		t.Fatalf("HasVoted: %v", err)
	}
	if !voted {
		t.Error("marked voter reported as fresh")
	}

	// Same voter on a different proposal is independent.
	voted, err = l.HasVoted(testAddr(3), voter)
	if err != nil {
		t.Fatalf("HasVoted: %v", err)
	}
	if voted {
		t.Error("marker leaked across proposals")
	}
}

func TestDerivedMarkers(t *testing.T) {
	l, cleanup := newTestLedger(t)
	defer cleanup()

	addr := testAddr(0x42)

	exists, err := l.HasDerived(addr)
	if err != nil {
		t.Fatalf("HasDerived: %v", err)
	}
	if exists {
		t.Error("fresh derived address reported as present")
	}

	if err := l.MarkDerived(addr); err != nil {
		t.Fatalf("MarkDerived: %v", err)
	}

	exists, err = l.HasDerived(addr)
	if err != nil {
		t.Fatalf("HasDerived: %v", err)
	}
	if !exists {
		t.Error("marked derived address reported as absent")
	}

	// Releasing the marker frees the one-shot slot again.
	if err := l.UnmarkDerived(addr); err != nil {
		t.Fatalf("UnmarkDerived: %v", err)
	}

	exists, err = l.HasDerived(addr)
	if err != nil {
		t.Fatalf("HasDerived: %v", err)
	}
	if exists {
		t.Error("released derived address still present")
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	src, cleanupSrc := newTestLedger(t)
	defer cleanupSrc()

	rec := ProposalRecord{
		Word:        packed.Word{Lo: 12345},
		OwnerMaster: testAddr(0xAA),
		ProposalID:  1,
		CounterBits: 7,
		VoteCap:     100,
	}

	if err := src.PutProposal(testAddr(1), rec); err != nil {
		t.Fatalf("PutProposal: %v", err)
	}
	if err := src.MarkVoted(testAddr(1), testAddr(2)); err != nil {
		t.Fatalf("MarkVoted: %v", err)
	}
	if err := src.MarkDerived(testAddr(3)); err != nil {
		t.Fatalf("MarkDerived: %v", err)
	}

	blob, err := src.ExportSnapshot()
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}

	dst, cleanupDst := newTestLedger(t)
	defer cleanupDst()

	if err := dst.ImportSnapshot(blob); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}

	got, found, err := dst.GetProposal(testAddr(1))
	if err != nil || !found {
		t.Fatalf("GetProposal after import: found=%v err=%v", found, err)
	}
	if got != rec {
		t.Errorf("imported record mismatch: got %+v, want %+v", got, rec)
	}

	voted, err := dst.HasVoted(testAddr(1), testAddr(2))
	if err != nil || !voted {
		t.Errorf("vote marker lost in snapshot: voted=%v err=%v", voted, err)
	}

	exists, err := dst.HasDerived(testAddr(3))
	if err != nil || !exists {
		t.Errorf("derived marker lost in snapshot: exists=%v err=%v", exists, err)
	}
}

func TestSnapshot_CorruptionDetected(t *testing.T) {
	src, cleanup := newTestLedger(t)
	defer cleanup()

	if err := src.MarkVoted(testAddr(1), testAddr(2)); err != nil {
		t.Fatalf("MarkVoted: %v", err)
	}

	if _, err := src.ExportSnapshot(); err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}

	// Garbage is rejected by the decompressor or the checksum.
	if err := src.ImportSnapshot([]byte("not a snapshot")); err == nil {
		t.Error("garbage blob accepted")
	}
}

func TestSnapshot_InflatedCountRejected(t *testing.T) {
	l, cleanup := newTestLedger(t)
	defer cleanup()

	// A well-formed header claiming four billion entries over an empty
	// body must fail before any allocation sized from it.
	body := make([]byte, 6)
	binary.BigEndian.PutUint16(body[0:2], snapshotVersion)
	binary.BigEndian.PutUint32(body[2:6], ^uint32(0))

	sum := blake3.Sum256(body)
	body = append(body, sum[:]...)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("create compressor: %v", err)
	}
	blob := enc.EncodeAll(body, nil)
	enc.Close()

	err = l.ImportSnapshot(blob)
	if err == nil {
		t.Fatal("inflated count accepted")
	}
	if !strings.Contains(err.Error(), "count") {
		t.Errorf("error: %v, want count bound failure", err)
	}
}
