// Package chain replays a task's ordered delegation history into an explicit
// delegator stack, so the "who delegated to me" lookup is a stack pop instead
// of a backward scan over the records.
package chain

import (
	"errors"
	"fmt"

	"relay/internal/domain"
	"relay/internal/roles"
)

var ErrMalformedHistory = errors.New("malformed delegation history")

// MalformedHistoryError reports an invariant violation found while replaying
// a chain. It wraps ErrMalformedHistory for errors.Is checks.
type MalformedHistoryError struct {
	TaskID string
	Index  int
	Reason string
}

func (e *MalformedHistoryError) Error() string {
	return fmt.Sprintf("%s: task %s record %d: %s", ErrMalformedHistory.Error(), e.TaskID, e.Index, e.Reason)
}

func (e *MalformedHistoryError) Unwrap() error { return ErrMalformedHistory }

// Frame is one pending delegator awaiting a return.
type Frame struct {
	Role        roles.Role
	RecordIndex int
}

// Projection is the state derived from a full replay.
type Projection struct {
	// Owner is the role currently holding the work, nil before the first
	// record and after the chain fully unwinds.
	Owner *roles.Role
	// Stack holds the delegators awaiting a return, oldest first. The top of
	// the stack (last element) is the role a Complete hands back to.
	Stack []Frame
}

// Delegator returns the role on top of the stack, or false when the chain has
// no pending delegator.
func (p Projection) Delegator() (roles.Role, bool) {
	if len(p.Stack) == 0 {
		return "", false
	}
	return p.Stack[len(p.Stack)-1].Role, true
}

// Replay folds the ordered records into a Projection.
//
// Every record transfers ownership to its ToRole, rejections included (a
// rejection reverts the work to the delegator). A record whose FromRole does
// not match the projected owner, or a rejection targeting a role that never
// delegated earlier in the chain, fails with MalformedHistoryError.
func Replay(taskID string, records []domain.DelegationRecord) (Projection, error) {
	var p Projection
	for i, rec := range records {
		from := roles.Role(rec.FromRole)
		to := roles.Role(rec.ToRole)
		if !roles.Valid(from) {
			return Projection{}, malformed(taskID, i, fmt.Sprintf("unknown from role %q", rec.FromRole))
		}
		if !roles.Valid(to) {
			return Projection{}, malformed(taskID, i, fmt.Sprintf("unknown to role %q", rec.ToRole))
		}
		if p.Owner != nil && *p.Owner != from {
			return Projection{}, malformed(taskID, i, fmt.Sprintf("from role %s does not match chain owner %s", from, *p.Owner))
		}
		switch {
		case isReturn(p, to):
			// Return or rejection back to the pending delegator: unwind one.
			if rec.Success == nil {
				return Projection{}, malformed(taskID, i, fmt.Sprintf("return to %s has no outcome", to))
			}
			p.Stack = p.Stack[:len(p.Stack)-1]
		case rec.Success != nil && !*rec.Success:
			// Rejection skipping intermediate delegators: unwind down to the
			// frame that role pushed. It must exist somewhere in the chain.
			depth := -1
			for j := len(p.Stack) - 1; j >= 0; j-- {
				if p.Stack[j].Role == to {
					depth = j
					break
				}
			}
			if depth < 0 {
				return Projection{}, malformed(taskID, i, fmt.Sprintf("rejection targets %s which never delegated in this chain", to))
			}
			p.Stack = p.Stack[:depth]
		default:
			p.Stack = append(p.Stack, Frame{Role: from, RecordIndex: i})
		}
		owner := to
		p.Owner = &owner
	}
	return p, nil
}

// Validate replays the chain and reports only the error.
func Validate(taskID string, records []domain.DelegationRecord) error {
	_, err := Replay(taskID, records)
	return err
}

func isReturn(p Projection, to roles.Role) bool {
	d, ok := p.Delegator()
	return ok && d == to
}

func malformed(taskID string, index int, reason string) error {
	return &MalformedHistoryError{TaskID: taskID, Index: index, Reason: reason}
}
