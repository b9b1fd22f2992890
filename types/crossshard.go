package types

import "time"

// CrossShardStatus tracks a cross-shard transfer through the two-phase
// commit protocol.
type CrossShardStatus uint8

const (
	StatusInitiated CrossShardStatus = iota
	StatusLockAcquired
	StatusCommitted
	StatusFailed
)

func (s CrossShardStatus) String() string {
	switch s {
	case StatusInitiated:
		return "Initiated"
	case StatusLockAcquired:
		return "LockAcquired"
	case StatusCommitted:
		return "Committed"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status can no longer change.
func (s CrossShardStatus) Terminal() bool {
	return s == StatusCommitted || s == StatusFailed
}

// CrossShardTxn is one in-flight cross-shard transfer. FailReason is set
// only when Status is StatusFailed.
type CrossShardTxn struct {
	ID          string           `json:"id"`
	Transaction *Transaction     `json:"transaction"`
	FromShard   int              `json:"from_shard"`
	ToShard     int              `json:"to_shard"`
	Status      CrossShardStatus `json:"status"`
	FailReason  string           `json:"fail_reason,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
