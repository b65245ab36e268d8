package domain

type Task struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status" enum:"not-started,in-progress,needs-review,completed,needs-changes,paused,cancelled"`
	CurrentOwner *string `json:"current_owner,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
	CompletedAt  *string `json:"completed_at,omitempty" format:"date-time"`
}

// DelegationRecord is an immutable log entry for one handoff. Success is
// tri-state: nil while pending, true for a clean forward/return, false for a
// rejection sent back up the chain.
type DelegationRecord struct {
	ID              string  `json:"id"`
	TaskID          string  `json:"task_id"`
	FromRole        string  `json:"from_role"`
	ToRole          string  `json:"to_role"`
	DelegatedAt     string  `json:"delegated_at" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
	Success         *bool   `json:"success,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	Message         *string `json:"message,omitempty"`
}

// TransitionView is the derived point-in-time summary of a task. It is never
// stored; identical inputs produce an identical view.
type TransitionView struct {
	TaskID               string    `json:"task_id"`
	CurrentStage         string    `json:"current_stage,omitempty"`
	Status               string    `json:"status"`
	CompletionPercentage float64   `json:"completion_percentage"`
	TimeInCurrentStage   string    `json:"time_in_current_stage"`
	Blockers             []Blocker `json:"blockers"`
}

type Blocker struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity" enum:"warning,critical"`
}

type RoleMetric struct {
	Role                  string  `json:"role"`
	TasksReceived         int     `json:"tasks_received"`
	TasksCompleted        int     `json:"tasks_completed"`
	AverageCompletionTime string  `json:"average_completion_time"`
	SuccessRate           float64 `json:"success_rate"`
	DelegationEfficiency  float64 `json:"delegation_efficiency"`
	WorkloadShare         float64 `json:"workload_share"`
	QualityScore          float64 `json:"quality_score"`
}

type PathCount struct {
	FromRole string `json:"from_role"`
	ToRole   string `json:"to_role"`
	Count    int    `json:"count"`
}

type Hotspot struct {
	FromRole string   `json:"from_role"`
	ToRole   string   `json:"to_role"`
	Count    int      `json:"count"`
	Reasons  []string `json:"reasons"`
}

type Bottleneck struct {
	Role            string `json:"role"`
	AverageHoldTime string `json:"average_hold_time"`
	Threshold       string `json:"threshold"`
	Samples         int    `json:"samples"`
}

// DelegationAnalytics bundles the cross-task aggregates. ExcludedTasks counts
// tasks whose histories failed chain validation and were left out.
type DelegationAnalytics struct {
	CommonPaths   []PathCount  `json:"common_paths"`
	Hotspots      []Hotspot    `json:"hotspots"`
	Bottlenecks   []Bottleneck `json:"bottlenecks"`
	ExcludedTasks int          `json:"excluded_tasks"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
