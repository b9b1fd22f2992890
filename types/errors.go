package types

import "errors"

// Error kinds surfaced by the ledger. Callers match them with errors.Is;
// wrapping sites attach the human-readable detail.
var (
	// ErrSignatureInvalid rejects a transaction at submission. Never retried.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrInsufficientBalance rejects a debit, at submission or at phase 1 of
	// a cross-shard transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrShardNotFound indicates a configuration or routing bug. Fatal for
	// the offending operation only.
	ErrShardNotFound = errors.New("shard not found")

	// ErrShardLockFailed reports an unusable shard guard. Callers may retry.
	ErrShardLockFailed = errors.New("shard lock failed")

	// ErrNotCrossShard rejects a same-shard transaction submitted to the
	// cross-shard path.
	ErrNotCrossShard = errors.New("not a cross-shard transaction")

	// ErrCrossShard rejects a cross-shard transaction submitted to the
	// same-shard path; it belongs with the coordinator.
	ErrCrossShard = errors.New("cross-shard transaction")

	// ErrQuorumNotReached is a consensus outcome, not a bug.
	ErrQuorumNotReached = errors.New("quorum not reached")

	// ErrUnknownVoter rejects a vote from an id outside the member set.
	ErrUnknownVoter = errors.New("unknown voter")

	// ErrCommunication reports a closed or full worker queue. Callers may
	// retry.
	ErrCommunication = errors.New("communication error")

	// ErrTransactionFailed is the terminal coordinator outcome; the wrapped
	// error carries the originating reason.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrTimeout means a wait deadline elapsed; the underlying transaction
	// may still reach a terminal state later.
	ErrTimeout = errors.New("timeout")

	// ErrDesyncSuspected is the phase-3 alarm: the recipient was credited but
	// the sender's lock could not be released. Operator intervention.
	ErrDesyncSuspected = errors.New("desync suspected")
)
