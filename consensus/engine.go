// Package consensus implements the reputation-weighted block acceptance
// rule. The engine owns the member set; each ValidateBlock call is
// stateless with respect to proposals — the governance layer keeps its own
// proposal state machine.
package consensus

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fahertym/coopledger/types"
)

const (
	DefaultThreshold = 0.66
	DefaultQuorum    = 0.51
)

// Engine tallies reputation-weighted votes over the managed member set.
type Engine struct {
	mu        sync.RWMutex
	members   map[string]*types.Validator
	threshold float64
	quorum    float64
	log       *logrus.Entry
}

func NewEngine(threshold, quorum float64) (*Engine, error) {
	e := &Engine{
		members: make(map[string]*types.Validator),
		log:     logrus.WithField("component", "consensus"),
	}
	if err := e.SetParams(threshold, quorum); err != nil {
		return nil, err
	}
	return e, nil
}

// SetParams replaces the acceptance parameters. Both must lie in (0, 1].
func (e *Engine) SetParams(threshold, quorum float64) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("consensus threshold %v outside (0, 1]", threshold)
	}
	if quorum <= 0 || quorum > 1 {
		return fmt.Errorf("consensus quorum %v outside (0, 1]", quorum)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threshold = threshold
	e.quorum = quorum
	return nil
}

// Params returns the current threshold and quorum.
func (e *Engine) Params() (threshold, quorum float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold, e.quorum
}

// AddMember registers a member with the initial reputation. Duplicate ids
// are rejected.
func (e *Engine) AddMember(id string, isValidator bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.members[id]; exists {
		return fmt.Errorf("member %q already exists", id)
	}
	e.members[id] = &types.Validator{
		ID:          id,
		Reputation:  types.InitialReputation,
		IsValidator: isValidator,
	}
	e.log.WithFields(logrus.Fields{"member": id, "validator": isValidator}).Info("member added")
	return nil
}

func (e *Engine) RemoveMember(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.members[id]; !exists {
		return fmt.Errorf("member %q not found", id)
	}
	delete(e.members, id)
	e.log.WithField("member", id).Info("member removed")
	return nil
}

// UpdateReputation applies delta and clamps the result at zero. Updates to
// non-validator members are accepted; they simply carry no consensus
// weight.
func (e *Engine) UpdateReputation(id string, delta float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	member, exists := e.members[id]
	if !exists {
		return fmt.Errorf("member %q not found", id)
	}
	member.Reputation += delta
	if member.Reputation < 0 {
		member.Reputation = 0
	}
	return nil
}

// Restore reinstates a persisted member verbatim, replacing any existing
// entry with the same id. Used when loading state at startup.
func (e *Engine) Restore(v types.Validator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	member := v
	e.members[v.ID] = &member
}

// Member returns a copy of the named member.
func (e *Engine) Member(id string) (types.Validator, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	member, exists := e.members[id]
	if !exists {
		return types.Validator{}, false
	}
	return *member, true
}

// Members returns a copy of the full member set.
func (e *Engine) Members() []types.Validator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Validator, 0, len(e.members))
	for _, m := range e.members {
		out = append(out, *m)
	}
	return out
}

// ValidateBlock decides acceptance of the block identified by blockHash.
//
// Let R_total be the summed reputation of all validators, R_part the summed
// reputation of the validators that voted, and R_yes the part of R_part
// that voted in favor. The round is decisive only when R_part/R_total
// reaches the quorum; it accepts only when R_yes/R_part reaches the
// threshold. Votes from known non-validator members are ignored; votes from
// unknown ids fail the call.
func (e *Engine) ValidateBlock(blockHash string, votes []types.Vote) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var totalReputation float64
	for _, m := range e.members {
		if m.IsValidator {
			totalReputation += m.Reputation
		}
	}
	if totalReputation <= 0 {
		return false, fmt.Errorf("%w: no validator reputation in the member set", types.ErrQuorumNotReached)
	}

	seen := make(map[string]bool, len(votes))
	var participating, inFavor float64
	for _, vote := range votes {
		member, exists := e.members[vote.VoterID]
		if !exists {
			return false, fmt.Errorf("%w: %q", types.ErrUnknownVoter, vote.VoterID)
		}
		if !member.IsValidator {
			continue
		}
		if seen[vote.VoterID] {
			return false, fmt.Errorf("duplicate vote from %q", vote.VoterID)
		}
		seen[vote.VoterID] = true
		participating += member.Reputation
		if vote.InFavor {
			inFavor += member.Reputation
		}
	}

	if participating/totalReputation < e.quorum {
		e.log.WithFields(logrus.Fields{
			"block":         blockHash,
			"participation": participating / totalReputation,
			"quorum":        e.quorum,
		}).Info("consensus round not decisive")
		return false, fmt.Errorf("%w: participation %.3f below quorum %.3f",
			types.ErrQuorumNotReached, participating/totalReputation, e.quorum)
	}

	accepted := inFavor/participating >= e.threshold
	e.log.WithFields(logrus.Fields{
		"block":    blockHash,
		"approval": inFavor / participating,
		"accepted": accepted,
	}).Info("consensus round decided")
	return accepted, nil
}
