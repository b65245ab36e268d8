package engine

import "fmt"

// TaskTerminalError is returned when an operation targets a task whose status
// no longer accepts delegation activity.
type TaskTerminalError struct {
	TaskID string
	Status string
}

func (e TaskTerminalError) Error() string {
	return fmt.Sprintf("task %s is %s and cannot be modified", e.TaskID, e.Status)
}

// OwnershipMismatchError is returned when a role acts on a task it does not
// currently own.
type OwnershipMismatchError struct {
	TaskID string
	Role   string
	Owner  string
}

func (e OwnershipMismatchError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("task %s has no current owner; role %s cannot act on it", e.TaskID, e.Role)
	}
	return fmt.Sprintf("task %s is owned by %s, not %s", e.TaskID, e.Owner, e.Role)
}
