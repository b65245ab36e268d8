package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"relay/internal/analytics"
	"relay/internal/chain"
	"relay/internal/config"
	"relay/internal/domain"
	"relay/internal/events"
	"relay/internal/repo"
	"relay/internal/roles"
	"relay/internal/workflow"
)

const (
	StatusNotStarted   = "not-started"
	StatusInProgress   = "in-progress"
	StatusNeedsReview  = "needs-review"
	StatusNeedsChanges = "needs-changes"
	StatusCompleted    = "completed"
	StatusPaused       = "paused"
	StatusCancelled    = "cancelled"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func isTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID      string
	Name    string
	ActorID string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Task{}, errors.New("name is required")
	}
	now := e.stamp()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	t := domain.Task{
		ID:        id,
		Name:      opts.Name,
		Status:    StatusNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{"name": t.Name}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DelegateOptions are parameters for handing a task to the next role.
type DelegateOptions struct {
	TaskID  string
	From    string
	To      string
	Message string
	ActorID string
	// NeedsResearch routes an intake handoff through research when To is left
	// for the engine to decide.
	NeedsResearch *bool
	// Force bypasses the ownership check only; the transition itself must
	// still be legal.
	Force bool
}

func (e Engine) Delegate(ctx context.Context, opts DelegateOptions) (domain.DelegationRecord, error) {
	from := roles.Role(opts.From)
	if !roles.Valid(from) {
		return domain.DelegationRecord{}, fmt.Errorf("unknown role %q", opts.From)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DelegationRecord{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.DelegationRecord{}, err
	}
	if isTerminal(t.Status) {
		return domain.DelegationRecord{}, TaskTerminalError{TaskID: t.ID, Status: t.Status}
	}
	if t.Status == StatusPaused {
		return domain.DelegationRecord{}, TaskTerminalError{TaskID: t.ID, Status: t.Status}
	}

	records, err := e.Repo.ListDelegationsTx(ctx, tx, t.ID)
	if err != nil {
		return domain.DelegationRecord{}, err
	}
	proj, err := chain.Replay(t.ID, records)
	if err != nil {
		return domain.DelegationRecord{}, err
	}

	forcedFrom := ""
	if proj.Owner != nil && *proj.Owner != from {
		if !opts.Force {
			return domain.DelegationRecord{}, OwnershipMismatchError{TaskID: t.ID, Role: string(from), Owner: string(*proj.Owner)}
		}
		forcedFrom = string(*proj.Owner)
	}

	to := roles.Role(opts.To)
	if opts.To == "" {
		needsResearch := e.Config != nil && e.Config.Workflow.NeedsResearchDefault
		if opts.NeedsResearch != nil {
			needsResearch = *opts.NeedsResearch
		}
		to, err = roles.NextRole(from, roles.Context{NeedsResearch: needsResearch})
		if err != nil {
			return domain.DelegationRecord{}, err
		}
	}
	if !roles.Valid(to) {
		return domain.DelegationRecord{}, fmt.Errorf("unknown role %q", opts.To)
	}
	if !roles.IsLegalTransition(from, to) && !isRedelegation(records, from, to) {
		return domain.DelegationRecord{}, roles.InvalidTransitionError{From: from, To: to}
	}

	now := e.stamp()
	if forcedFrom != "" {
		// Replay requires every record's sender to match the projected owner,
		// so a forced handoff first records the seizure from that owner.
		seized := true
		note := "ownership override"
		takeover := domain.DelegationRecord{
			ID:          uuid.NewString(),
			TaskID:      t.ID,
			FromRole:    forcedFrom,
			ToRole:      string(from),
			DelegatedAt: now,
			Success:     &seized,
			Message:     &note,
		}
		if err := e.Repo.InsertDelegation(ctx, tx, takeover); err != nil {
			return domain.DelegationRecord{}, fmt.Errorf("insert takeover: %w", err)
		}
		if err := e.Repo.CloseOpenDelegation(ctx, tx, t.ID, forcedFrom, now); err != nil {
			return domain.DelegationRecord{}, err
		}
	}
	success := true
	rec := domain.DelegationRecord{
		ID:          uuid.NewString(),
		TaskID:      t.ID,
		FromRole:    string(from),
		ToRole:      string(to),
		DelegatedAt: now,
		Success:     &success,
	}
	if opts.Message != "" {
		rec.Message = &opts.Message
	}
	if err := e.Repo.InsertDelegation(ctx, tx, rec); err != nil {
		return domain.DelegationRecord{}, fmt.Errorf("insert delegation: %w", err)
	}
	// The sender is done holding the work; stamp its open inbound record.
	if err := e.Repo.CloseOpenDelegation(ctx, tx, t.ID, string(from), now); err != nil {
		return domain.DelegationRecord{}, err
	}

	owner := string(to)
	t.CurrentOwner = &owner
	t.Status = StatusInProgress
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.DelegationRecord{}, err
	}
	payload := events.EventPayload{"from": string(from), "to": string(to)}
	if forcedFrom != "" {
		payload["forced_from"] = forcedFrom
	}
	if err := e.Events.Append(ctx, tx, "task.delegated", "task", t.ID, opts.ActorID, payload); err != nil {
		return domain.DelegationRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DelegationRecord{}, err
	}
	return rec, nil
}

// isRedelegation allows handing the work straight back to the role that just
// rejected it, even when the graph has no such forward edge.
func isRedelegation(records []domain.DelegationRecord, from, to roles.Role) bool {
	if len(records) == 0 {
		return false
	}
	last := records[len(records)-1]
	return last.Success != nil && !*last.Success &&
		roles.Role(last.FromRole) == to && roles.Role(last.ToRole) == from
}

// CompleteOptions are parameters for a role finishing its work on a task.
type CompleteOptions struct {
	TaskID  string
	Role    string
	Outcome string // "completed" or "rejected"
	Notes   string
	ActorID string
}

// Complete finishes the current role's work. On success the work returns to
// the delegator for review; with no pending delegator the task is done. On
// rejection the work reverts to the delegator with the reason recorded.
func (e Engine) Complete(ctx context.Context, opts CompleteOptions) (domain.Task, *domain.DelegationRecord, error) {
	role := roles.Role(opts.Role)
	if !roles.Valid(role) {
		return domain.Task{}, nil, fmt.Errorf("unknown role %q", opts.Role)
	}
	if opts.Outcome != "completed" && opts.Outcome != "rejected" {
		return domain.Task{}, nil, fmt.Errorf("outcome must be completed or rejected, got %q", opts.Outcome)
	}
	if opts.Outcome == "rejected" && strings.TrimSpace(opts.Notes) == "" {
		return domain.Task{}, nil, errors.New("a rejection requires a reason")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, nil, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Task{}, nil, err
	}
	if isTerminal(t.Status) || t.Status == StatusPaused {
		return domain.Task{}, nil, TaskTerminalError{TaskID: t.ID, Status: t.Status}
	}

	records, err := e.Repo.ListDelegationsTx(ctx, tx, t.ID)
	if err != nil {
		return domain.Task{}, nil, err
	}
	proj, err := chain.Replay(t.ID, records)
	if err != nil {
		return domain.Task{}, nil, err
	}
	if proj.Owner == nil || *proj.Owner != role {
		owner := ""
		if proj.Owner != nil {
			owner = string(*proj.Owner)
		}
		return domain.Task{}, nil, OwnershipMismatchError{TaskID: t.ID, Role: string(role), Owner: owner}
	}

	now := e.stamp()
	delegator, hasDelegator := proj.Delegator()

	var rec *domain.DelegationRecord
	if hasDelegator {
		success := opts.Outcome == "completed"
		r := domain.DelegationRecord{
			ID:          uuid.NewString(),
			TaskID:      t.ID,
			FromRole:    string(role),
			ToRole:      string(delegator),
			DelegatedAt: now,
			Success:     &success,
		}
		if success {
			if opts.Notes != "" {
				r.Message = &opts.Notes
			}
		} else {
			r.RejectionReason = &opts.Notes
		}
		if err := e.Repo.InsertDelegation(ctx, tx, r); err != nil {
			return domain.Task{}, nil, fmt.Errorf("insert delegation: %w", err)
		}
		rec = &r
	}
	if err := e.Repo.CloseOpenDelegation(ctx, tx, t.ID, string(role), now); err != nil {
		return domain.Task{}, nil, err
	}

	switch {
	case hasDelegator && opts.Outcome == "completed":
		owner := string(delegator)
		t.CurrentOwner = &owner
		t.Status = StatusNeedsReview
	case hasDelegator: // rejected
		owner := string(delegator)
		t.CurrentOwner = &owner
		t.Status = StatusNeedsChanges
	case opts.Outcome == "completed":
		t.CurrentOwner = nil
		t.Status = StatusCompleted
		t.CompletedAt = &now
	default: // rejected with nobody to revert to
		t.CurrentOwner = nil
		t.Status = StatusNeedsChanges
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, nil, err
	}

	evtType := "task.stage.completed"
	if opts.Outcome == "rejected" {
		evtType = "task.stage.rejected"
	} else if t.Status == StatusCompleted {
		evtType = "task.completed"
	}
	if err := e.Events.Append(ctx, tx, evtType, "task", t.ID, opts.ActorID, events.EventPayload{
		"role": string(role), "status": t.Status,
	}); err != nil {
		return domain.Task{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, nil, err
	}
	return t, rec, nil
}

// Cancel moves a task to its cancelled terminal state.
func (e Engine) Cancel(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.setStatus(ctx, taskID, actorID, StatusCancelled, "task.cancelled", func(t domain.Task) error {
		if isTerminal(t.Status) {
			return TaskTerminalError{TaskID: t.ID, Status: t.Status}
		}
		return nil
	})
}

// Pause freezes delegation activity on a task.
func (e Engine) Pause(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.setStatus(ctx, taskID, actorID, StatusPaused, "task.paused", func(t domain.Task) error {
		if isTerminal(t.Status) || t.Status == StatusPaused {
			return TaskTerminalError{TaskID: t.ID, Status: t.Status}
		}
		return nil
	})
}

// Resume re-derives the task's live status from its chain after a pause.
func (e Engine) Resume(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != StatusPaused {
		return domain.Task{}, fmt.Errorf("task %s is %s, not paused", t.ID, t.Status)
	}
	records, err := e.Repo.ListDelegationsTx(ctx, tx, t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	proj, err := chain.Replay(t.ID, records)
	if err != nil {
		return domain.Task{}, err
	}
	if proj.Owner == nil {
		t.Status = StatusNotStarted
		t.CurrentOwner = nil
	} else {
		owner := string(*proj.Owner)
		t.CurrentOwner = &owner
		t.Status = StatusInProgress
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.resumed", "task", t.ID, actorID, events.EventPayload{"status": t.Status}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) setStatus(ctx context.Context, taskID, actorID, status, evtType string, guard func(domain.Task) error) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := guard(t); err != nil {
		return domain.Task{}, err
	}
	t.Status = status
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, "task", t.ID, actorID, events.EventPayload{"status": status}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// StatusOptions tune the derived status projection.
type StatusOptions struct {
	CompletedUnits int
	TotalUnits     int
}

// Status derives the point-in-time transition view for a task.
func (e Engine) Status(ctx context.Context, taskID string, opts StatusOptions) (domain.TransitionView, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TransitionView{}, err
	}
	records, err := e.Repo.ListDelegations(ctx, taskID)
	if err != nil {
		return domain.TransitionView{}, err
	}
	threshold := 2
	if e.Config != nil && e.Config.Workflow.BlockerThreshold > 0 {
		threshold = e.Config.Workflow.BlockerThreshold
	}
	return workflow.Project(t, records, e.now(), workflow.Options{
		BlockerThreshold: threshold,
		CompletedUnits:   opts.CompletedUnits,
		TotalUnits:       opts.TotalUnits,
	})
}

// MetricFilters narrow which delegation records feed the aggregates.
type MetricFilters struct {
	TaskID    string
	Role      string
	StartDate string
	EndDate   string
}

func (e Engine) repoFilters(f MetricFilters) repo.DelegationFilters {
	return repo.DelegationFilters{TaskID: f.TaskID, Role: f.Role, StartDate: f.StartDate, EndDate: f.EndDate}
}

// RoleMetrics computes per-role performance aggregates over the stored chains.
func (e Engine) RoleMetrics(ctx context.Context, f MetricFilters) ([]domain.RoleMetric, error) {
	records, err := e.Repo.ListDelegationsFiltered(ctx, e.repoFilters(f))
	if err != nil {
		return nil, err
	}
	return analytics.RoleMetrics(records), nil
}

// Analytics computes the cross-task delegation aggregates.
func (e Engine) Analytics(ctx context.Context, f MetricFilters) (domain.DelegationAnalytics, error) {
	records, err := e.Repo.ListDelegationsFiltered(ctx, e.repoFilters(f))
	if err != nil {
		return domain.DelegationAnalytics{}, err
	}
	opts := analytics.Options{
		TopPaths:             10,
		TopBottlenecks:       5,
		BottleneckMultiplier: 1.5,
		// Role and date filters slice chains mid-history; validation only
		// makes sense over whole chains.
		ValidateChains: f.Role == "" && f.StartDate == "" && f.EndDate == "",
	}
	if e.Config != nil {
		if e.Config.Workflow.TopPaths > 0 {
			opts.TopPaths = e.Config.Workflow.TopPaths
		}
		if e.Config.Workflow.TopBottlenecks > 0 {
			opts.TopBottlenecks = e.Config.Workflow.TopBottlenecks
		}
		if e.Config.Workflow.BottleneckMultiplier > 0 {
			opts.BottleneckMultiplier = e.Config.Workflow.BottleneckMultiplier
		}
	}
	return analytics.Aggregate(records, opts), nil
}
