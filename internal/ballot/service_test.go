package ballot

import (
	"testing"

	"Tally/internal/actor"
	"Tally/internal/receipt"
)

func TestService_DeployNumbersSequentially(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	sys := actor.NewSystem()
	defer sys.Close()

	owner := ident(0xF0)
	svc := NewService(sys, led, testConfig(t, Membership, 100, &testClock{now: 500}), owner)

	a, err := svc.Deploy(1000)
	if err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	b, err := svc.Deploy(2000)
	if err != nil {
		t.Fatalf("second deploy: %v", err)
	}

	if a != ProposalAddress(owner, 0) {
		t.Errorf("first address: got %s, want %s", a, ProposalAddress(owner, 0))
	}
	if b != ProposalAddress(owner, 1) {
		t.Errorf("second address: got %s, want %s", b, ProposalAddress(owner, 1))
	}

	va, err := svc.Query(a)
	if err != nil {
		t.Fatalf("Query a: %v", err)
	}
	vb, err := svc.Query(b)
	if err != nil {
		t.Fatalf("Query b: %v", err)
	}
	if va.VotingEndingAt != 1000 || vb.VotingEndingAt != 2000 {
		t.Errorf("deadlines: got %d/%d, want 1000/2000", va.VotingEndingAt, vb.VotingEndingAt)
	}
}

func TestService_CastUnknownProposal(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	sys := actor.NewSystem()
	defer sys.Close()

	svc := NewService(sys, led, testConfig(t, Membership, 100, &testClock{now: 500}), ident(0xF0))

	if err := svc.Cast(ident(0x99), ident(1), true, 1000); err == nil {
		t.Error("cast to unknown proposal accepted")
	}
}

func TestService_RestoreRebuildsProposals(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	owner := ident(0xF0)
	cfg := testConfig(t, Membership, 100, &testClock{now: 500})

	sys1 := actor.NewSystem()
	svc1 := NewService(sys1, led, cfg, owner)

	a, err := svc1.Deploy(1000)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if _, err := svc1.Deploy(2000); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if err := svc1.Cast(a, ident(1), true, 1000); err != nil {
		t.Fatalf("Cast: %v", err)
	}
	svc1.Settle()
	sys1.Close()

	// A fresh service over the same ledger picks up both proposals,
	// their counters, and the sequence position.
	sys2 := actor.NewSystem()
	defer sys2.Close()

	svc2 := NewService(sys2, led, cfg, owner)
	if err := svc2.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	v, err := svc2.Query(a)
	if err != nil {
		t.Fatalf("Query restored: %v", err)
	}
	if v.YesCount != 1 || v.NoCount != 0 {
		t.Errorf("restored counters: %d/%d, want 1/0", v.YesCount, v.NoCount)
	}

	c, err := svc2.Deploy(3000)
	if err != nil {
		t.Fatalf("Deploy after restore: %v", err)
	}
	if c != ProposalAddress(owner, 2) {
		t.Errorf("sequence after restore: got %s, want %s", c, ProposalAddress(owner, 2))
	}

	// The restored aggregator still holds the duplicate record.
	if err := svc2.Cast(a, ident(1), false, 1000); err != nil {
		t.Fatalf("Cast on restored: %v", err)
	}
	svc2.Settle()

	v, _ = svc2.Query(a)
	if v.YesCount != 1 || v.NoCount != 0 {
		t.Errorf("duplicate after restore counted: %d/%d", v.YesCount, v.NoCount)
	}
}

func TestService_ReceiptIssuedOnAccept(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	sys := actor.NewSystem()
	defer sys.Close()

	signer, err := receipt.GenerateFromSeed([]byte("service receipt test seed"))
	if err != nil {
		t.Fatalf("GenerateFromSeed: %v", err)
	}

	cfg := testConfig(t, Membership, 100, &testClock{now: 500})
	cfg.Receipts = signer

	svc := NewService(sys, led, cfg, ident(0xF0))

	addr, err := svc.Deploy(1000)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	voter := ident(1)

	if err := svc.Cast(addr, voter, true, 1000); err != nil {
		t.Fatalf("Cast: %v", err)
	}
	svc.Settle()

	sig, err := svc.Receipt(addr, voter)
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if len(sig) == 0 {
		t.Fatal("accepted vote has no receipt")
	}
	if !receipt.Verify(sig, addr, voter, true, signer.PublicKeyBytes()) {
		t.Error("stored receipt does not verify")
	}

	// No receipt for an identity that never voted.
	if sig, _ := svc.Receipt(addr, ident(2)); sig != nil {
		t.Error("receipt exists for a non-voter")
	}
}
