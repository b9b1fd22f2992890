// Package crossshard coordinates transfers whose sender and recipient live
// on different shards. Each transfer runs a two-phase commit: lock the
// amount on the source shard, credit the destination shard, release the
// lock. One worker per source shard applies its queue in FIFO order, so
// transfers from the same shard are serialized while shards progress in
// parallel. The coordinator never holds two shard guards at once.
package crossshard

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fahertym/coopledger/state"
	"github.com/fahertym/coopledger/types"
)

const (
	DefaultQueueCapacity       = 100
	DefaultWaitPollInterval    = 100 * time.Millisecond
	DefaultUnlockRetryAttempts = 3
)

// EventSink receives operator-facing coordinator events: status transitions
// and, critically, the phase-3 desync alarm.
type EventSink interface {
	CrossShardEvent(txn types.CrossShardTxn)
}

// Options configure a Coordinator. Zero values fall back to the defaults.
type Options struct {
	QueueCapacity       int
	WaitPollInterval    time.Duration
	UnlockRetryAttempts int
	Events              EventSink
}

// Coordinator owns the in-flight table and the per-shard worker queues.
type Coordinator struct {
	shards *state.Manager

	mu      sync.RWMutex
	pending map[string]*types.CrossShardTxn
	closed  bool

	queues []chan *types.CrossShardTxn
	wg     sync.WaitGroup

	pollInterval  time.Duration
	unlockRetries int
	events        EventSink
	log           *logrus.Entry
}

// NewCoordinator starts one worker per shard.
func NewCoordinator(shards *state.Manager, opts Options) *Coordinator {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.WaitPollInterval <= 0 {
		opts.WaitPollInterval = DefaultWaitPollInterval
	}
	if opts.UnlockRetryAttempts < 0 {
		opts.UnlockRetryAttempts = DefaultUnlockRetryAttempts
	}

	c := &Coordinator{
		shards:        shards,
		pending:       make(map[string]*types.CrossShardTxn),
		queues:        make([]chan *types.CrossShardTxn, shards.ShardCount()),
		pollInterval:  opts.WaitPollInterval,
		unlockRetries: opts.UnlockRetryAttempts,
		events:        opts.Events,
		log:           logrus.WithField("component", "crossshard"),
	}
	for i := range c.queues {
		c.queues[i] = make(chan *types.CrossShardTxn, opts.QueueCapacity)
		c.wg.Add(1)
		go c.worker(i)
	}
	return c
}

// Initiate validates the routing, registers the transfer and enqueues it on
// the source shard's queue. The returned id tracks the transfer through
// GetStatus and WaitFor.
func (c *Coordinator) Initiate(tx *types.Transaction) (string, error) {
	fromShard := c.shards.ShardOf(tx.From)
	toShard := c.shards.ShardOf(tx.To)
	if fromShard == toShard {
		return "", fmt.Errorf("%w: %s and %s both live on shard %d",
			types.ErrNotCrossShard, tx.From, tx.To, fromShard)
	}

	txn := &types.CrossShardTxn{
		ID:          uuid.NewString(),
		Transaction: tx,
		FromShard:   fromShard,
		ToShard:     toShard,
		Status:      types.StatusInitiated,
		UpdatedAt:   time.Now(),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: coordinator is shut down", types.ErrCommunication)
	}
	c.pending[txn.ID] = txn

	// Non-blocking send, still under the table guard so Close cannot close
	// the queue mid-send. A full queue surfaces immediately instead of
	// stalling the submitter; the entry stays Initiated so observers can
	// time out on it.
	select {
	case c.queues[fromShard] <- txn:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		return txn.ID, fmt.Errorf("%w: worker queue for shard %d is full", types.ErrCommunication, fromShard)
	}

	c.log.WithFields(logrus.Fields{
		"txn": txn.ID, "from_shard": fromShard, "to_shard": toShard,
	}).Info("cross-shard transfer initiated")
	return txn.ID, nil
}

// worker drains one shard's queue serially until shutdown closes it.
func (c *Coordinator) worker(shardID int) {
	defer c.wg.Done()
	for txn := range c.queues[shardID] {
		if err := c.process(txn); err != nil {
			c.log.WithFields(logrus.Fields{"txn": txn.ID, "error": err}).Warn("cross-shard transfer failed")
		}
	}
}

// process runs the three phases. Each phase acquires exactly one shard
// guard and releases it before the next phase.
func (c *Coordinator) process(txn *types.CrossShardTxn) error {
	tx := txn.Transaction

	fromShard, err := c.shards.Shard(txn.FromShard)
	if err != nil {
		c.setFailed(txn, err)
		return err
	}

	// Phase 1: lock on the source shard.
	if err := fromShard.LockFunds(tx.From, tx.Currency, tx.Amount); err != nil {
		c.setFailed(txn, err)
		return err
	}
	c.setStatus(txn, types.StatusLockAcquired, nil)

	// Phase 2: credit the destination shard. On any failure past the lock
	// the lock rolls back to the sender's balance.
	toShard, err := c.shards.Shard(txn.ToShard)
	if err == nil {
		err = toShard.Credit(tx.To, tx.Currency, tx.Amount)
	}
	if err != nil {
		if rbErr := fromShard.UnlockToBalance(tx.From, tx.Currency, tx.Amount); rbErr != nil {
			c.log.WithFields(logrus.Fields{"txn": txn.ID, "error": rbErr}).Error("rollback failed after credit failure")
		}
		c.setFailed(txn, err)
		return err
	}

	// Phase 3: release the lock, with bounded retries. A persistent
	// failure here leaves the recipient credited and the sender locked;
	// that is the one partial state that is not self-healing, so it raises
	// the operator alarm.
	var unlockErr error
	for attempt := 0; attempt <= c.unlockRetries; attempt++ {
		if unlockErr = fromShard.RemoveFundLock(tx.From, tx.Currency, tx.Amount); unlockErr == nil {
			break
		}
	}
	if unlockErr != nil {
		err := fmt.Errorf("%w: %v", types.ErrDesyncSuspected, unlockErr)
		c.log.WithFields(logrus.Fields{"txn": txn.ID, "error": unlockErr}).
			Error("recipient credited but sender lock not released")
		c.setFailed(txn, err)
		return err
	}

	c.setStatus(txn, types.StatusCommitted, nil)
	return nil
}

func (c *Coordinator) setStatus(txn *types.CrossShardTxn, status types.CrossShardStatus, reason error) {
	c.mu.Lock()
	txn.Status = status
	if reason != nil {
		txn.FailReason = reason.Error()
	}
	txn.UpdatedAt = time.Now()
	snapshot := *txn
	c.mu.Unlock()

	if c.events != nil {
		c.events.CrossShardEvent(snapshot)
	}
}

func (c *Coordinator) setFailed(txn *types.CrossShardTxn, reason error) {
	c.setStatus(txn, types.StatusFailed, reason)
}

// GetStatus returns the current status, or ok=false when the id is unknown
// or already cleaned up.
func (c *Coordinator) GetStatus(txnID string) (types.CrossShardTxn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	txn, exists := c.pending[txnID]
	if !exists {
		return types.CrossShardTxn{}, false
	}
	return *txn, true
}

// WaitFor polls the in-flight table until the transfer reaches a terminal
// state or the timeout elapses. A Failed terminal state surfaces as
// ErrTransactionFailed wrapping the recorded reason.
func (c *Coordinator) WaitFor(txnID string, timeout time.Duration) (types.CrossShardStatus, error) {
	deadline := time.Now().Add(timeout)
	for {
		txn, exists := c.GetStatus(txnID)
		if !exists {
			return 0, fmt.Errorf("unknown cross-shard transaction %q", txnID)
		}
		switch txn.Status {
		case types.StatusCommitted:
			return types.StatusCommitted, nil
		case types.StatusFailed:
			return types.StatusFailed, fmt.Errorf("%w: %s", types.ErrTransactionFailed, txn.FailReason)
		}
		if time.Now().After(deadline) {
			return txn.Status, fmt.Errorf("%w: transaction %q still %s after %s",
				types.ErrTimeout, txnID, txn.Status, timeout)
		}
		time.Sleep(c.pollInterval)
	}
}

// Cleanup removes terminal entries older than grace and reports how many
// were removed. A grace period keeps terminal states visible to late
// GetStatus callers.
func (c *Coordinator) Cleanup(grace time.Duration) int {
	cutoff := time.Now().Add(-grace)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, txn := range c.pending {
		if txn.Status.Terminal() && txn.UpdatedAt.Before(cutoff) {
			delete(c.pending, id)
			removed++
		}
	}
	return removed
}

// Pending returns the number of tracked transfers, terminal included.
func (c *Coordinator) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

// Close shuts the coordinator down: no new submissions are accepted, the
// queues are closed, and every worker drains its queue to a terminal state
// before Close returns.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	for _, queue := range c.queues {
		close(queue)
	}
	c.wg.Wait()
}
