package ballot

import "errors"

// Failure kinds for vote transitions. All are fatal to the current
// message: no partial write survives a failed operation on any actor.
var (
	// ErrVotingEnded rejects votes arriving after the deadline.
	ErrVotingEnded = errors.New("voting ended")

	// ErrAlreadyVoted rejects a second vote from the same identity.
	ErrAlreadyVoted = errors.New("already voted")

	// ErrTooManyVotes rejects votes once the accepted total hits the cap.
	ErrTooManyVotes = errors.New("too many votes")

	// ErrUnauthorized rejects construction by anyone but the declared owner.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInsufficientBudget rejects a vote whose attached budget cannot
	// fund the entire causal chain of follow-up messages.
	ErrInsufficientBudget = errors.New("insufficient budget")
)
