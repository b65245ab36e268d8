package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"relay/internal/config"
	"relay/internal/db"
	"relay/internal/engine"
	"relay/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// newTestEnv opens a throwaway workspace database and installs a clock that
// advances one minute per call, so record ordering is deterministic.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test-workspace")
	eng := engine.New(conn, cfg)
	tick := 0
	eng.Now = func() time.Time {
		tick++
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(tick) * time.Minute)
	}
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func TestDelegateRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "build feature", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != engine.StatusNotStarted || task.CurrentOwner != nil {
		t.Fatalf("new task should be not-started and ownerless, got %s %v", task.Status, task.CurrentOwner)
	}

	rec, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{
		TaskID: task.ID, From: "intake", To: "architecture", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if rec.FromRole != "intake" || rec.ToRole != "architecture" {
		t.Fatalf("unexpected record %+v", rec)
	}

	task, ret, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{
		TaskID: task.ID, Role: "architecture", Outcome: "completed", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if ret == nil || ret.Success == nil || !*ret.Success {
		t.Fatalf("return record should carry success=true, got %+v", ret)
	}
	if task.CurrentOwner == nil || *task.CurrentOwner != "intake" {
		t.Fatalf("ownership should return to intake, got %v", task.CurrentOwner)
	}
	if task.Status != engine.StatusNeedsReview {
		t.Fatalf("status should be needs-review, got %s", task.Status)
	}

	records, err := env.Engine.Repo.ListDelegations(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("round trip should leave exactly two records, got %d", len(records))
	}
	if records[0].CompletedAt == nil {
		t.Fatalf("inbound record should be stamped complete after the return")
	}
}

func TestRejectionPreservesReason(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "risky change", ActorID: "tester"})
	if _, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "intake", To: "architecture", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}

	task, rec, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{
		TaskID: task.ID, Role: "architecture", Outcome: "rejected", Notes: "requirements unclear", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rec == nil || rec.RejectionReason == nil || *rec.RejectionReason != "requirements unclear" {
		t.Fatalf("rejection reason not preserved: %+v", rec)
	}
	if task.Status != engine.StatusNeedsChanges {
		t.Fatalf("status should be needs-changes, got %s", task.Status)
	}
	if task.CurrentOwner == nil || *task.CurrentOwner != "intake" {
		t.Fatalf("ownership should revert to intake, got %v", task.CurrentOwner)
	}

	// Intake may hand the same work straight back after the rejection.
	if _, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "intake", To: "architecture", ActorID: "tester"}); err != nil {
		t.Fatalf("redelegate after rejection: %v", err)
	}
}

func TestFullPipelineCompletes(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "ship it", ActorID: "tester"})

	hops := [][2]string{
		{"intake", "research"},
		{"research", "architecture"},
		{"architecture", "implementation"},
		{"implementation", "review"},
	}
	for _, hop := range hops {
		if _, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: hop[0], To: hop[1], ActorID: "tester"}); err != nil {
			t.Fatalf("delegate %s->%s: %v", hop[0], hop[1], err)
		}
	}
	// Unwind the whole chain with successful completions.
	for _, role := range []string{"review", "implementation", "architecture", "research", "intake"} {
		var err error
		task, _, err = env.Engine.Complete(env.Ctx, engine.CompleteOptions{TaskID: task.ID, Role: role, Outcome: "completed", ActorID: "tester"})
		if err != nil {
			t.Fatalf("complete %s: %v", role, err)
		}
	}
	if task.Status != engine.StatusCompleted {
		t.Fatalf("task should be completed, got %s", task.Status)
	}
	if task.CompletedAt == nil || task.CurrentOwner != nil {
		t.Fatalf("terminal task should have completed_at set and no owner")
	}

	// Terminal refusal is an error, not a silent no-op.
	_, _, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{TaskID: task.ID, Role: "intake", Outcome: "completed", ActorID: "tester"})
	var terminal engine.TaskTerminalError
	if !errors.As(err, &terminal) {
		t.Fatalf("expected TaskTerminalError, got %v", err)
	}
	_, err = env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "intake", To: "architecture", ActorID: "tester"})
	if !errors.As(err, &terminal) {
		t.Fatalf("expected TaskTerminalError on delegate, got %v", err)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "guarded", ActorID: "tester"})
	if _, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "intake", To: "architecture", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}

	// intake no longer owns the task.
	_, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "intake", To: "research", ActorID: "tester"})
	var mismatch engine.OwnershipMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected OwnershipMismatchError, got %v", err)
	}

	// research never received the work and cannot complete it.
	_, _, err = env.Engine.Complete(env.Ctx, engine.CompleteOptions{TaskID: task.ID, Role: "research", Outcome: "completed", ActorID: "tester"})
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected OwnershipMismatchError on complete, got %v", err)
	}

	// Force bypasses ownership but not transition legality.
	if _, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "architecture", To: "implementation", ActorID: "tester"}); err != nil {
		t.Fatalf("owner delegate: %v", err)
	}
	_, err = env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "intake", To: "implementation", ActorID: "tester", Force: true})
	if err == nil {
		t.Fatalf("force must not legalize intake->implementation")
	}
}

func TestForcedDelegationKeepsChainReplayable(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "seized", ActorID: "tester"})
	if _, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "intake", To: "architecture", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}

	// architecture owns the task, but intake forces a legal handoff anyway.
	rec, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "intake", To: "research", ActorID: "tester", Force: true})
	if err != nil {
		t.Fatalf("forced delegate: %v", err)
	}
	if rec.FromRole != "intake" || rec.ToRole != "research" {
		t.Fatalf("unexpected forced record %+v", rec)
	}

	// The seizure is recorded as its own handoff, keeping the chain linked.
	records, err := env.Engine.Repo.ListDelegations(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected takeover + forced records, got %d", len(records))
	}
	if records[1].FromRole != "architecture" || records[1].ToRole != "intake" {
		t.Fatalf("takeover record should transfer from the chain owner: %+v", records[1])
	}

	// The task stays fully operable after the override.
	view, err := env.Engine.Status(env.Ctx, task.ID, engine.StatusOptions{})
	if err != nil {
		t.Fatalf("status after force: %v", err)
	}
	if view.CurrentStage != "research" {
		t.Fatalf("current stage should be research, got %s", view.CurrentStage)
	}
	task, _, err = env.Engine.Complete(env.Ctx, engine.CompleteOptions{TaskID: task.ID, Role: "research", Outcome: "completed", ActorID: "tester"})
	if err != nil {
		t.Fatalf("complete after force: %v", err)
	}
	if task.CurrentOwner == nil || *task.CurrentOwner != "intake" {
		t.Fatalf("work should return to intake, got %v", task.CurrentOwner)
	}
	task, _, err = env.Engine.Complete(env.Ctx, engine.CompleteOptions{TaskID: task.ID, Role: "intake", Outcome: "completed", ActorID: "tester"})
	if err != nil {
		t.Fatalf("final complete: %v", err)
	}
	if task.Status != engine.StatusCompleted {
		t.Fatalf("task should close out cleanly, got %s", task.Status)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "no shortcuts", ActorID: "tester"})
	_, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "intake", To: "review", ActorID: "tester"})
	if err == nil {
		t.Fatalf("intake->review is not a legal handoff")
	}
}

func TestDefaultRouting(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "routed", ActorID: "tester"})

	// Empty To falls back to the decision table; intake defaults past research.
	rec, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "intake", ActorID: "tester"})
	if err != nil {
		t.Fatalf("default delegate: %v", err)
	}
	if rec.ToRole != "architecture" {
		t.Fatalf("intake should default to architecture, got %s", rec.ToRole)
	}

	other, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "needs digging", ActorID: "tester"})
	needs := true
	rec, err = env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: other.ID, From: "intake", NeedsResearch: &needs, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ToRole != "research" {
		t.Fatalf("needs-research intake should route to research, got %s", rec.ToRole)
	}
}

func TestPauseResumeCancel(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "on hold", ActorID: "tester"})
	if _, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "intake", To: "architecture", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}

	task, err := env.Engine.Pause(env.Ctx, task.ID, "tester")
	if err != nil || task.Status != engine.StatusPaused {
		t.Fatalf("pause: %v (%s)", err, task.Status)
	}
	if _, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "architecture", To: "implementation", ActorID: "tester"}); err == nil {
		t.Fatalf("paused task must refuse delegation")
	}

	task, err = env.Engine.Resume(env.Ctx, task.ID, "tester")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if task.Status != engine.StatusInProgress || task.CurrentOwner == nil || *task.CurrentOwner != "architecture" {
		t.Fatalf("resume should re-derive owner from the chain, got %s %v", task.Status, task.CurrentOwner)
	}

	task, err = env.Engine.Cancel(env.Ctx, task.ID, "tester")
	if err != nil || task.Status != engine.StatusCancelled {
		t.Fatalf("cancel: %v (%s)", err, task.Status)
	}
	if _, err := env.Engine.Cancel(env.Ctx, task.ID, "tester"); err == nil {
		t.Fatalf("cancelling a terminal task must fail")
	}
}

func TestStatusProjection(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "measured", ActorID: "tester"})
	if _, err := env.Engine.Delegate(env.Ctx, engine.DelegateOptions{TaskID: task.ID, From: "intake", To: "architecture", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}

	view, err := env.Engine.Status(env.Ctx, task.ID, engine.StatusOptions{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.CurrentStage != "architecture" {
		t.Fatalf("current stage should be architecture, got %s", view.CurrentStage)
	}
	if view.CompletionPercentage <= 0 || view.CompletionPercentage >= 1 {
		t.Fatalf("in-flight completion should be in (0,1), got %f", view.CompletionPercentage)
	}

	// Unit counts override the stage estimate.
	view, err = env.Engine.Status(env.Ctx, task.ID, engine.StatusOptions{CompletedUnits: 3, TotalUnits: 4})
	if err != nil {
		t.Fatal(err)
	}
	if view.CompletionPercentage != 0.75 {
		t.Fatalf("unit completion should be 0.75, got %f", view.CompletionPercentage)
	}
}
