package ballot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"Tally/internal/actor"
	"Tally/internal/gas"
	"Tally/internal/ledger"
	"Tally/internal/packed"
	"Tally/internal/storage"
)

// testClock is a settable clock for deadline tests.
type testClock struct {
	now uint32
}

func (c *testClock) read() uint32 {
	return c.now
}

// newTestLedger creates a ledger over temporary storage.
func newTestLedger(t *testing.T) (*ledger.Ledger, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "ballot-test-*")
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

	return ledger.New(db), cleanup
}

// testConfig builds a compact-layout config with a settable clock.
func testConfig(t *testing.T, variant Variant, cap uint32, clock *testClock) Config {
	t.Helper()

	codec, err := packed.NewCodec(packed.CompactCounterBits)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	return Config{
		Codec:   codec,
		VoteCap: cap,
		Costs:   gas.Params{ComputeFee: 100, ForwardFee: 10, StorageFee: 500},
		Variant: variant,
		Now:     clock.read,
	}
}

func ident(b byte) actor.Identity {
	var id actor.Identity
	id[0] = b
	return id
}

// newTestAggregator deploys a proposal directly, without a service.
func newTestAggregator(t *testing.T, led *ledger.Ledger, cfg Config, deadline uint32) *Aggregator {
	t.Helper()

	owner := ident(0xF0)
	addr := ProposalAddress(owner, 1)

	agg, err := NewAggregator(addr, owner, owner, 1, deadline, led, cfg)
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}

	return agg
}

func TestNewAggregator_Unauthorized(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	cfg := testConfig(t, Membership, 100, &testClock{now: 500})

	owner := ident(0xF0)
	impostor := ident(0xF1)

	_, err := NewAggregator(ProposalAddress(owner, 1), impostor, owner, 1, 1000, led, cfg)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestNewAggregator_CapExceedsField(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	cfg := testConfig(t, Membership, 200, &testClock{now: 500}) // 7-bit field holds 127

	owner := ident(0xF0)
	if _, err := NewAggregator(ProposalAddress(owner, 1), owner, owner, 1, 1000, led, cfg); err == nil {
		t.Error("cap above field max should be rejected")
	}
}

// TestVoteScenario walks the reference sequence: deadline=1000, now=500.
// A yes, A duplicate, B no, then C after the deadline.
func TestVoteScenario(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	clock := &testClock{now: 500}
	cfg := testConfig(t, Membership, 100, clock)
	agg := newTestAggregator(t, led, cfg, 1000)

	const budget = 1000

	// Vote(yes) from A
	if _, err := agg.AcceptVote(ident(1), true, budget); err != nil {
		t.Fatalf("A yes: %v", err)
	}

	v := agg.QueryState()
	if v.YesCount != 1 || v.NoCount != 0 {
		t.Fatalf("after A: %d/%d, want 1/0", v.YesCount, v.NoCount)
	}

	// Vote(yes) from A again: rejected, state unchanged
	if _, err := agg.AcceptVote(ident(1), true, budget); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("A duplicate: got %v, want ErrAlreadyVoted", err)
	}

	v = agg.QueryState()
	if v.YesCount != 1 || v.NoCount != 0 {
		t.Fatalf("after duplicate: %d/%d, want 1/0", v.YesCount, v.NoCount)
	}

	// Vote(no) from B
	if _, err := agg.AcceptVote(ident(2), false, budget); err != nil {
		t.Fatalf("B no: %v", err)
	}

	v = agg.QueryState()
	if v.YesCount != 1 || v.NoCount != 1 {
		t.Fatalf("after B: %d/%d, want 1/1", v.YesCount, v.NoCount)
	}

	// Advance past the deadline; C is rejected, state unchanged
	clock.now = 1001

	if _, err := agg.AcceptVote(ident(3), true, budget); !errors.Is(err, ErrVotingEnded) {
		t.Fatalf("C after deadline: got %v, want ErrVotingEnded", err)
	}

	v = agg.QueryState()
	if v.YesCount != 1 || v.NoCount != 1 {
		t.Errorf("after deadline: %d/%d, want 1/1", v.YesCount, v.NoCount)
	}
}

func TestVoteCap(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	cfg := testConfig(t, Membership, 2, &testClock{now: 500})
	agg := newTestAggregator(t, led, cfg, 1000)

	const budget = 1000

	if _, err := agg.AcceptVote(ident(1), true, budget); err != nil {
		t.Fatalf("A: %v", err)
	}
	if _, err := agg.AcceptVote(ident(2), false, budget); err != nil {
		t.Fatalf("B: %v", err)
	}

	if _, err := agg.AcceptVote(ident(3), true, budget); !errors.Is(err, ErrTooManyVotes) {
		t.Fatalf("C at cap: got %v, want ErrTooManyVotes", err)
	}

	v := agg.QueryState()
	if v.YesCount != 1 || v.NoCount != 1 {
		t.Errorf("at cap: %d/%d, want 1/1", v.YesCount, v.NoCount)
	}
}

func TestAcceptVote_InsufficientBudget(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	cfg := testConfig(t, Membership, 100, &testClock{now: 500})
	agg := newTestAggregator(t, led, cfg, 1000)

	// Direct chain costs 100 compute + 500 storage = 600.
	if _, err := agg.AcceptVote(ident(1), true, 599); !errors.Is(err, ErrInsufficientBudget) {
		t.Fatalf("got %v, want ErrInsufficientBudget", err)
	}

	// No state change, and the voter is not marked.
	v := agg.QueryState()
	if v.YesCount != 0 || v.NoCount != 0 {
		t.Errorf("counters moved: %d/%d", v.YesCount, v.NoCount)
	}

	if _, err := agg.AcceptVote(ident(1), true, 600); err != nil {
		t.Errorf("retry with exact budget: %v", err)
	}
}

func TestAcceptVote_Cashback(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	cfg := testConfig(t, Membership, 100, &testClock{now: 500})
	agg := newTestAggregator(t, led, cfg, 1000)

	// Chain cost 600; surplus 400 goes back to the voter.
	cashback, err := agg.AcceptVote(ident(1), true, 1000)
	if err != nil {
		t.Fatalf("AcceptVote: %v", err)
	}
	if cashback != 400 {
		t.Errorf("cashback: got %d, want 400", cashback)
	}
}

func TestQueryState_AfterClose(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	clock := &testClock{now: 500}
	cfg := testConfig(t, Membership, 100, clock)
	agg := newTestAggregator(t, led, cfg, 1000)

	if _, err := agg.AcceptVote(ident(1), true, 1000); err != nil {
		t.Fatalf("AcceptVote: %v", err)
	}

	clock.now = 5000

	// The terminal state persists for reads after the deadline.
	for i := 0; i < 3; i++ {
		v := agg.QueryState()
		if v.YesCount != 1 || v.NoCount != 0 || v.VotingEndingAt != 1000 || v.ProposalID != 1 {
			t.Fatalf("query %d: %+v", i, v)
		}
	}
}

func TestAggregator_PersistsAcrossReload(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	clock := &testClock{now: 500}
	cfg := testConfig(t, Membership, 100, clock)
	agg := newTestAggregator(t, led, cfg, 1000)

	if _, err := agg.AcceptVote(ident(1), true, 1000); err != nil {
		t.Fatalf("AcceptVote: %v", err)
	}
	if _, err := agg.AcceptVote(ident(2), false, 1000); err != nil {
		t.Fatalf("AcceptVote: %v", err)
	}

	reloaded, err := LoadAggregator(agg.Address(), led, cfg)
	if err != nil {
		t.Fatalf("LoadAggregator: %v", err)
	}

	v := reloaded.QueryState()
	if v.YesCount != 1 || v.NoCount != 1 || v.VotingEndingAt != 1000 {
		t.Errorf("reloaded state: %+v", v)
	}

	// The dedup index survives too.
	if _, err := reloaded.AcceptVote(ident(1), true, 1000); !errors.Is(err, ErrAlreadyVoted) {
		t.Errorf("reloaded duplicate: got %v, want ErrAlreadyVoted", err)
	}
}

func TestLoadAggregator_Missing(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	cfg := testConfig(t, Membership, 100, &testClock{now: 500})

	if _, err := LoadAggregator(ident(0xEE), led, cfg); err == nil {
		t.Error("loading a missing proposal should fail")
	}
}

// TestMembershipActorFlow drives the membership variant through the
// actor system and checks refund behavior: cashback on success, full
// refund on admission failure, no refund on a hard duplicate reject.
func TestMembershipActorFlow(t *testing.T) {
	led, cleanup := newTestLedger(t)
	defer cleanup()

	sys := actor.NewSystem()
	defer sys.Close()

	cfg := testConfig(t, Membership, 100, &testClock{now: 500})
	svc := NewService(sys, led, cfg, ident(0xF0))

	addr, err := svc.Deploy(1000)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	voter := ident(1)

	// Accepted vote: surplus 1000 - 600 = 400 cashed back.
	if err := svc.Cast(addr, voter, true, 1000); err != nil {
		t.Fatalf("Cast: %v", err)
	}
	svc.Settle()

	if got := svc.Refunds(voter); got != 400 {
		t.Errorf("cashback: got %d, want 400", got)
	}

	// Hard duplicate reject: nothing further refunded.
	if err := svc.Cast(addr, voter, true, 1000); err != nil {
		t.Fatalf("Cast duplicate: %v", err)
	}
	svc.Settle()

	if got := svc.Refunds(voter); got != 400 {
		t.Errorf("duplicate refunded: got %d, want 400", got)
	}

	// Admission failure: full refund.
	poor := ident(2)
	if err := svc.Cast(addr, poor, false, 50); err != nil {
		t.Fatalf("Cast underfunded: %v", err)
	}
	svc.Settle()

	if got := svc.Refunds(poor); got != 50 {
		t.Errorf("underfunded refund: got %d, want 50", got)
	}

	v, err := svc.Query(addr)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if v.YesCount != 1 || v.NoCount != 0 {
		t.Errorf("final state: %d/%d, want 1/0", v.YesCount, v.NoCount)
	}
}
