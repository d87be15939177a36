package ledger

// prefixReceipt is the storage key prefix for vote receipts.
var prefixReceipt = []byte("r:")

// PutReceipt stores the signed acknowledgement for an accepted vote.
func (l *Ledger) PutReceipt(proposal, voter [32]byte, receipt []byte) error {
	return l.db.Set(receiptKey(proposal, voter), receipt)
}

// GetReceipt retrieves a stored receipt. Returns nil if absent.
func (l *Ledger) GetReceipt(proposal, voter [32]byte) ([]byte, error) {
	return l.db.Get(receiptKey(proposal, voter))
}

// receiptKey builds the receipt key: "r:" + proposal + voter.
func receiptKey(proposal, voter [32]byte) []byte {
	key := make([]byte, len(prefixReceipt)+len(proposal)+len(voter))
	n := copy(key, prefixReceipt)
	n += copy(key[n:], proposal[:])
	copy(key[n:], voter[:])

	return key
}
