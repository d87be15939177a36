package client

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Client talks to a node's HTTP API.
type Client struct {
	baseURL string // baseURL is the node's HTTP endpoint (e.g. "http://127.0.0.1:8080")
}

// Identity is a 32-byte actor identity.
type Identity [32]byte

// String returns the full hex encoding of the identity.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// NewIdentity generates a random identity.
func NewIdentity() Identity {
	var id Identity
	rand.Read(id[:])
	return id
}

// ParseIdentity decodes a 32-byte hex identity.
func ParseIdentity(s string) (Identity, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Identity{}, fmt.Errorf("decode identity:\n%w", err)
	}
	if len(raw) != 32 {
		return Identity{}, fmt.Errorf("identity length %d, want 32 bytes", len(raw))
	}

	var id Identity
	copy(id[:], raw)

	return id, nil
}

// ProposalState is a proposal's state as reported by a node.
type ProposalState struct {
	Address        string `json:"address"`
	YesCount       uint32 `json:"yesCount"`
	NoCount        uint32 `json:"noCount"`
	VotingEndingAt uint32 `json:"votingEndingAt"`
	ProposalID     uint32 `json:"proposalId"`
	OwnerMaster    string `json:"ownerMaster"`
}

// VoteResult is the outcome of an accepted vote.
type VoteResult struct {
	State   ProposalState `json:"state"`
	Refunds uint64        `json:"refunds"`
}

// NodeStatus is the monitoring snapshot of a node.
type NodeStatus struct {
	Proposals int    `json:"proposals"`
	Peers     int    `json:"peers"`
	Variant   string `json:"variant"`
}

// New creates a client for the node at the given HTTP base URL.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL}
}

// Deploy creates a new proposal with the given voting deadline and
// returns its address.
func (c *Client) Deploy(votingEndingAt uint32) (Identity, error) {
	body := map[string]any{
		"votingEndingAt": votingEndingAt,
	}

	var resp struct {
		Address string `json:"address"`
	}

	if err := httpPostJSON(c.baseURL+"/proposal", body, &resp); err != nil {
		return Identity{}, fmt.Errorf("deploy:\n%w", err)
	}

	return ParseIdentity(resp.Address)
}

// Vote casts a vote with the given budget and returns the proposal's
// resulting state along with the voter's cashback balance.
func (c *Client) Vote(proposal, voter Identity, value bool, budget uint64) (VoteResult, error) {
	body := map[string]any{
		"proposal": proposal.String(),
		"voter":    voter.String(),
		"value":    value,
		"budget":   budget,
	}

	var resp VoteResult

	if err := httpPostJSON(c.baseURL+"/vote", body, &resp); err != nil {
		return VoteResult{}, fmt.Errorf("vote:\n%w", err)
	}

	return resp, nil
}

// Query returns a proposal's current state.
func (c *Client) Query(proposal Identity) (ProposalState, error) {
	var resp ProposalState

	if err := httpGet(c.baseURL+"/proposal/"+proposal.String(), &resp); err != nil {
		return ProposalState{}, fmt.Errorf("query:\n%w", err)
	}

	return resp, nil
}

// Receipt fetches the signed acknowledgement for an accepted vote.
func (c *Client) Receipt(proposal, voter Identity) ([]byte, error) {
	var resp struct {
		Receipt string `json:"receipt"`
	}

	url := c.baseURL + "/receipt/" + proposal.String() + "/" + voter.String()
	if err := httpGet(url, &resp); err != nil {
		return nil, fmt.Errorf("receipt:\n%w", err)
	}

	sig, err := hex.DecodeString(resp.Receipt)
	if err != nil {
		return nil, fmt.Errorf("decode receipt:\n%w", err)
	}

	return sig, nil
}

// Refunds returns the total budget cashed back to an identity on the
// node.
func (c *Client) Refunds(id Identity) (uint64, error) {
	var resp struct {
		Refunds uint64 `json:"refunds"`
	}

	if err := httpGet(c.baseURL+"/refunds/"+id.String(), &resp); err != nil {
		return 0, fmt.Errorf("refunds:\n%w", err)
	}

	return resp.Refunds, nil
}

// Status returns the node's monitoring snapshot.
func (c *Client) Status() (NodeStatus, error) {
	var resp NodeStatus

	if err := httpGet(c.baseURL+"/status", &resp); err != nil {
		return NodeStatus{}, fmt.Errorf("status:\n%w", err)
	}

	return resp, nil
}

// Health reports whether the node answers its health check.
func (c *Client) Health() error {
	var resp struct {
		Status string `json:"status"`
	}

	if err := httpGet(c.baseURL+"/health", &resp); err != nil {
		return err
	}

	if resp.Status != "ok" {
		return fmt.Errorf("unexpected health status %q", resp.Status)
	}

	return nil
}
