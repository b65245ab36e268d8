package server

import (
	"fmt"
	"strings"

	"relay/internal/domain"
	"relay/internal/roles"
)

type CreateTaskRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
}

type DelegateRequest struct {
	FromRole      string  `json:"from_role"`
	ToRole        string  `json:"to_role,omitempty"`
	Message       *string `json:"message,omitempty"`
	NeedsResearch *bool   `json:"needs_research,omitempty"`
}

type CompleteRequest struct {
	Role    string `json:"role"`
	Outcome string `json:"outcome" enum:"completed,rejected"`
	Notes   string `json:"notes,omitempty"`
}

type TaskResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	CurrentOwner *string `json:"current_owner,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
}

type DelegationResponse struct {
	ID              string  `json:"id"`
	TaskID          string  `json:"task_id"`
	FromRole        string  `json:"from_role"`
	ToRole          string  `json:"to_role"`
	DelegatedAt     string  `json:"delegated_at"`
	CompletedAt     *string `json:"completed_at,omitempty"`
	Success         *bool   `json:"success,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	Message         *string `json:"message,omitempty"`
}

// TransitionResponse pairs the updated task with the record the operation
// appended, when it appended one.
type TransitionResponse struct {
	Task   TaskResponse        `json:"task"`
	Record *DelegationResponse `json:"record,omitempty"`
}

type RoleResponse struct {
	Role        string   `json:"role"`
	Label       string   `json:"label"`
	Icon        string   `json:"icon"`
	Description string   `json:"description"`
	DelegatesTo []string `json:"delegates_to"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type statusBody struct {
	domain.TransitionView
}

type metricsBody struct {
	Metrics []domain.RoleMetric `json:"metrics"`
}

type analyticsBody struct {
	domain.DelegationAnalytics
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		Name:         t.Name,
		Status:       t.Status,
		CurrentOwner: t.CurrentOwner,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CompletedAt:  t.CompletedAt,
	}
}

func mapTasks(in []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(in))
	for _, t := range in {
		out = append(out, taskResponse(t))
	}
	return out
}

func delegationResponse(d domain.DelegationRecord) DelegationResponse {
	return DelegationResponse{
		ID:              d.ID,
		TaskID:          d.TaskID,
		FromRole:        d.FromRole,
		ToRole:          d.ToRole,
		DelegatedAt:     d.DelegatedAt,
		CompletedAt:     d.CompletedAt,
		Success:         d.Success,
		RejectionReason: d.RejectionReason,
		Message:         d.Message,
	}
}

func mapDelegations(in []domain.DelegationRecord) []DelegationResponse {
	out := make([]DelegationResponse, 0, len(in))
	for _, d := range in {
		out = append(out, delegationResponse(d))
	}
	return out
}

func roleResponses() []RoleResponse {
	out := make([]RoleResponse, 0, roles.StageCount())
	for _, r := range roles.All() {
		info := roles.Describe(r)
		targets := []string{}
		for _, t := range roles.All() {
			if roles.IsLegalTransition(r, t) {
				targets = append(targets, string(t))
			}
		}
		out = append(out, RoleResponse{
			Role:        string(r),
			Label:       info.Label,
			Icon:        info.Icon,
			Description: info.Description,
			DelegatesTo: targets,
		})
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func composeCursor(createdAt, id string) string {
	return createdAt + "|" + id
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor %q", cursor)
	}
	return parts[0], parts[1], nil
}
