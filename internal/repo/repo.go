package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"relay/internal/config"
	"relay/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const taskColumns = `id,name,status,current_owner,created_at,updated_at,completed_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.Name, t.Status, nullableStringPtr(t.CurrentOwner), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET name=?, status=?, current_owner=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Name, t.Status, nullableStringPtr(t.CurrentOwner), t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var owner, completedAt sql.NullString
	err := scan(&t.ID, &t.Name, &t.Status, &owner, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if owner.Valid {
		t.CurrentOwner = &owner.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	Status          string
	Owner           string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Owner != "" {
		clauses = append(clauses, "current_owner=?")
		args = append(args, f.Owner)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

const delegationColumns = `id,task_id,from_role,to_role,delegated_at,completed_at,success,rejection_reason,message`

func (r Repo) InsertDelegation(ctx context.Context, tx *sql.Tx, d domain.DelegationRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO delegations(`+delegationColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.TaskID, d.FromRole, d.ToRole, d.DelegatedAt, nullableStringPtr(d.CompletedAt),
		nullableBoolPtr(d.Success), nullableStringPtr(d.RejectionReason), nullableStringPtr(d.Message))
	return err
}

// CloseOpenDelegation stamps completed_at on the most recent record that
// delegated to the given role and is still open. Called when that role hands
// the work off or completes it.
func (r Repo) CloseOpenDelegation(ctx context.Context, tx *sql.Tx, taskID, toRole, completedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE delegations SET completed_at=? WHERE id = (
		SELECT id FROM delegations
		WHERE task_id=? AND to_role=? AND completed_at IS NULL
		ORDER BY delegated_at DESC, rowid DESC LIMIT 1
	)`, completedAt, taskID, toRole)
	return err
}

func scanDelegation(scan func(dest ...any) error) (domain.DelegationRecord, error) {
	var d domain.DelegationRecord
	var completedAt, reason, message sql.NullString
	var success sql.NullBool
	err := scan(&d.ID, &d.TaskID, &d.FromRole, &d.ToRole, &d.DelegatedAt, &completedAt, &success, &reason, &message)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if completedAt.Valid {
		d.CompletedAt = &completedAt.String
	}
	if success.Valid {
		d.Success = &success.Bool
	}
	if reason.Valid {
		d.RejectionReason = &reason.String
	}
	if message.Valid {
		d.Message = &message.String
	}
	return d, nil
}

// ListDelegations returns a task's records in chain order.
func (r Repo) ListDelegations(ctx context.Context, taskID string) ([]domain.DelegationRecord, error) {
	return r.queryDelegations(ctx, r.DB.QueryContext,
		`SELECT `+delegationColumns+` FROM delegations WHERE task_id=? ORDER BY delegated_at ASC, rowid ASC`, taskID)
}

func (r Repo) ListDelegationsTx(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.DelegationRecord, error) {
	return r.queryDelegations(ctx, tx.QueryContext,
		`SELECT `+delegationColumns+` FROM delegations WHERE task_id=? ORDER BY delegated_at ASC, rowid ASC`, taskID)
}

// DelegationFilters is the cross-task criteria structure used by analytics.
type DelegationFilters struct {
	TaskID    string
	Role      string
	StartDate string
	EndDate   string
}

// ListDelegationsFiltered returns records across tasks, still in chain order
// per task so downstream replay sees each chain intact.
func (r Repo) ListDelegationsFiltered(ctx context.Context, f DelegationFilters) ([]domain.DelegationRecord, error) {
	var clauses []string
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.Role != "" {
		clauses = append(clauses, "(from_role=? OR to_role=?)")
		args = append(args, f.Role, f.Role)
	}
	if f.StartDate != "" {
		clauses = append(clauses, "delegated_at >= ?")
		args = append(args, f.StartDate)
	}
	if f.EndDate != "" {
		clauses = append(clauses, "delegated_at <= ?")
		args = append(args, f.EndDate)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + delegationColumns + ` FROM delegations ` + where + ` ORDER BY task_id ASC, delegated_at ASC, rowid ASC`
	return r.queryDelegations(ctx, r.DB.QueryContext, query, args...)
}

type queryFn func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) queryDelegations(ctx context.Context, query queryFn, q string, args ...any) ([]domain.DelegationRecord, error) {
	rows, err := query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DelegationRecord
	for rows.Next() {
		d, err := scanDelegation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpsertConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO workspace_config(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM workspace_config WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableBoolPtr(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}
