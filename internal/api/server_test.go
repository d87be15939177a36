package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"Tally/internal/actor"
	"Tally/internal/ballot"
	"Tally/internal/gas"
	"Tally/internal/ledger"
	"Tally/internal/packed"
	"Tally/internal/storage"
)

// mockStatus provides fixed status values.
type mockStatus struct {
	proposals int
	peers     int
}

func (m *mockStatus) ProposalCount() int { return m.proposals }
func (m *mockStatus) PeerCount() int     { return m.peers }
func (m *mockStatus) Variant() string    { return "membership" }

// recordingAnnouncer captures announced votes.
type recordingAnnouncer struct {
	announced int
}

func (a *recordingAnnouncer) Announce(_, _ actor.Identity, _ bool) {
	a.announced++
}

func newTestServer(t *testing.T) (*Server, actor.Identity, *recordingAnnouncer, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "api-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	db, err := storage.New(filepath.Join(dir, "db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to create storage: %v", err)
	}

	codec, err := packed.NewCodec(packed.CompactCounterBits)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	sys := actor.NewSystem()

	var owner actor.Identity
	owner[0] = 0xF0

	svc := ballot.NewService(sys, ledger.New(db), ballot.Config{
		Codec:   codec,
		VoteCap: 100,
		Costs:   gas.DefaultParams(),
		Variant: ballot.Membership,
		Now:     func() uint32 { return 500 },
	}, owner)

	proposal, err := svc.Deploy(1000)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	announcer := &recordingAnnouncer{}
	server := New(":0", svc, announcer, &mockStatus{proposals: 1, peers: 0})

	cleanup := func() {
		sys.Close()
		db.Close()
		os.RemoveAll(dir)
	}

	return server, proposal, announcer, cleanup
}

func postVote(t *testing.T, server *Server, proposal, voter actor.Identity, value bool, budget uint64) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(voteRequest{
		Proposal: hex.EncodeToString(proposal[:]),
		Voter:    hex.EncodeToString(voter[:]),
		Value:    value,
		Budget:   budget,
	})
	if err != nil {
		t.Fatalf("marshal vote: %v", err)
	}

	req := httptest.NewRequest("POST", "/vote", bytes.NewReader(body))
	w := httptest.NewRecorder()

	server.handleVote(w, req)

	return w
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	server.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestDeployEndpoint(t *testing.T) {
	server, _, _, cleanup := newTestServer(t)
	defer cleanup()

	body, _ := json.Marshal(deployRequest{VotingEndingAt: 2000})

	req := httptest.NewRequest("POST", "/proposal", bytes.NewReader(body))
	w := httptest.NewRecorder()

	server.handleDeploy(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if len(resp["address"]) != 64 {
		t.Errorf("expected 32-byte hex address, got %q", resp["address"])
	}
}

func TestVoteEndpoint_Success(t *testing.T) {
	server, proposal, announcer, cleanup := newTestServer(t)
	defer cleanup()

	var voter actor.Identity
	voter[0] = 1

	w := postVote(t, server, proposal, voter, true, 1000)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		State   viewResponse `json:"state"`
		Refunds uint64       `json:"refunds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.State.YesCount != 1 || resp.State.NoCount != 0 {
		t.Errorf("state: %d/%d, want 1/0", resp.State.YesCount, resp.State.NoCount)
	}

	// Chain cost 600 of budget 1000 comes back.
	if resp.Refunds != 400 {
		t.Errorf("refunds: got %d, want 400", resp.Refunds)
	}

	if announcer.announced != 1 {
		t.Errorf("announcements: got %d, want 1", announcer.announced)
	}
}

func TestVoteEndpoint_Duplicate(t *testing.T) {
	server, proposal, announcer, cleanup := newTestServer(t)
	defer cleanup()

	var voter actor.Identity
	voter[0] = 1

	if w := postVote(t, server, proposal, voter, true, 1000); w.Code != http.StatusAccepted {
		t.Fatalf("first vote: status %d", w.Code)
	}

	w := postVote(t, server, proposal, voter, false, 1000)

	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}

	if announcer.announced != 1 {
		t.Errorf("rejected vote was announced")
	}
}

func TestVoteEndpoint_Underfunded(t *testing.T) {
	server, proposal, _, cleanup := newTestServer(t)
	defer cleanup()

	var voter actor.Identity
	voter[0] = 1

	w := postVote(t, server, proposal, voter, true, 599)

	if w.Code != http.StatusPaymentRequired {
		t.Errorf("expected status 402, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVoteEndpoint_BadIdentity(t *testing.T) {
	server, _, _, cleanup := newTestServer(t)
	defer cleanup()

	body, _ := json.Marshal(voteRequest{Proposal: "zz", Voter: "01", Budget: 1000})

	req := httptest.NewRequest("POST", "/vote", bytes.NewReader(body))
	w := httptest.NewRecorder()

	server.handleVote(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestQueryEndpoint(t *testing.T) {
	server, proposal, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/proposal/"+hex.EncodeToString(proposal[:]), nil)
	req.SetPathValue("address", hex.EncodeToString(proposal[:]))
	w := httptest.NewRecorder()

	server.handleQuery(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp viewResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.VotingEndingAt != 1000 {
		t.Errorf("deadline: got %d, want 1000", resp.VotingEndingAt)
	}
}

func TestQueryEndpoint_Unknown(t *testing.T) {
	server, _, _, cleanup := newTestServer(t)
	defer cleanup()

	var unknown actor.Identity
	unknown[0] = 0x99

	req := httptest.NewRequest("GET", "/proposal/x", nil)
	req.SetPathValue("address", hex.EncodeToString(unknown[:]))
	w := httptest.NewRecorder()

	server.handleQuery(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestReceiptEndpoint_NotFound(t *testing.T) {
	server, proposal, _, cleanup := newTestServer(t)
	defer cleanup()

	var voter actor.Identity
	voter[0] = 2

	req := httptest.NewRequest("GET", "/receipt/x/y", nil)
	req.SetPathValue("proposal", hex.EncodeToString(proposal[:]))
	req.SetPathValue("voter", hex.EncodeToString(voter[:]))
	w := httptest.NewRecorder()

	server.handleReceipt(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestRefundsEndpoint(t *testing.T) {
	server, proposal, _, cleanup := newTestServer(t)
	defer cleanup()

	var voter actor.Identity
	voter[0] = 1

	if w := postVote(t, server, proposal, voter, true, 1000); w.Code != http.StatusAccepted {
		t.Fatalf("vote: status %d", w.Code)
	}

	req := httptest.NewRequest("GET", "/refunds/x", nil)
	req.SetPathValue("identity", hex.EncodeToString(voter[:]))
	w := httptest.NewRecorder()

	server.handleRefunds(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]uint64
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["refunds"] != 400 {
		t.Errorf("refunds: got %d, want 400", resp["refunds"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	server, _, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()

	server.handleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["variant"] != "membership" {
		t.Errorf("variant: got %v", resp["variant"])
	}
}
