// Package postgres reads and mutates engine task tables in PostgreSQL.
//
// Runtime state lives in ru_instance, ru_task, ru_identity_link and
// ru_variable. Completing a task copies it and its identity links into
// hi_task and hi_identity_link before deleting the runtime row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkflow/humantask/internal/engine"
)

// Engine is a PostgreSQL implementation of engine.Engine.
type Engine struct {
	pool *pgxpool.Pool
}

// New creates an engine on pool.
func New(pool *pgxpool.Pool) *Engine {
	return &Engine{pool: pool}
}

const taskColumns = `
	t.id, t.instance_id, t.name, COALESCE(t.assignee, ''), t.created_at,
	COALESCE((SELECT array_agg(l.value ORDER BY l.seq) FROM ru_identity_link l
	          WHERE l.task_id = t.id AND l.kind = 'user'), '{}'),
	COALESCE((SELECT array_agg(l.value ORDER BY l.seq) FROM ru_identity_link l
	          WHERE l.task_id = t.id AND l.kind = 'group'), '{}')`

func scanTask(row pgx.Row) (*engine.Task, error) {
	var t engine.Task
	if err := row.Scan(
		&t.ID,
		&t.InstanceID,
		&t.Name,
		&t.Assignee,
		&t.CreatedAt,
		&t.CandidateUsers,
		&t.CandidateGroups,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// where accumulates SQL predicates with positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "$?", "$"+strconv.Itoa(len(w.args))))
}

func (w *where) addRaw(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.clauses, " AND ")
}

// ListOpenTasks returns open tasks in creation order. Candidate filters match
// any link whose raw value contains the string.
func (e *Engine) ListOpenTasks(ctx context.Context, filter engine.TaskFilter) ([]*engine.Task, error) {
	var w where
	if filter.InstanceID != "" {
		w.add("t.instance_id = $?", filter.InstanceID)
	}
	if filter.Assignee != "" {
		w.add("btrim(t.assignee) = $?", filter.Assignee)
	}
	if filter.Unassigned {
		w.addRaw("(t.assignee IS NULL OR btrim(t.assignee) = '')")
	}
	if filter.CandidateUser != "" {
		w.add(`EXISTS (SELECT 1 FROM ru_identity_link l
			WHERE l.task_id = t.id AND l.kind = 'user' AND strpos(l.value, $?) > 0)`, filter.CandidateUser)
	}
	if filter.CandidateGroup != "" {
		w.add(`EXISTS (SELECT 1 FROM ru_identity_link l
			WHERE l.task_id = t.id AND l.kind = 'group' AND strpos(l.value, $?) > 0)`, filter.CandidateGroup)
	}

	rows, err := e.pool.Query(ctx, `SELECT `+taskColumns+` FROM ru_task t `+w.String()+` ORDER BY t.seq`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list open tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*engine.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (e *Engine) GetTask(ctx context.Context, taskID string) (*engine.Task, error) {
	t, err := scanTask(e.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM ru_task t WHERE t.id = $1`, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// IdentityLinks returns the raw links of an open task in insertion order. An
// unknown task has none.
func (e *Engine) IdentityLinks(ctx context.Context, taskID string) ([]engine.IdentityLink, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT task_id, kind, value
		FROM ru_identity_link
		WHERE task_id = $1
		ORDER BY seq
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get identity links: %w", err)
	}
	defer rows.Close()

	links := make([]engine.IdentityLink, 0)
	for rows.Next() {
		var l engine.IdentityLink
		var kind string
		if err := rows.Scan(&l.TaskID, &kind, &l.Value); err != nil {
			return nil, fmt.Errorf("failed to scan identity link: %w", err)
		}
		l.Kind = engine.LinkKind(kind)
		links = append(links, l)
	}
	return links, rows.Err()
}

func (e *Engine) InstanceExists(ctx context.Context, instanceID string) (bool, error) {
	var exists bool
	err := e.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ru_instance WHERE id = $1)`, instanceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check instance: %w", err)
	}
	return exists, nil
}

// Claim sets the assignee unless a different actor already holds the task.
func (e *Engine) Claim(ctx context.Context, taskID, actorID string) error {
	tag, err := e.pool.Exec(ctx, `
		UPDATE ru_task
		SET assignee = $2
		WHERE id = $1 AND (assignee IS NULL OR btrim(assignee) = '' OR assignee = $2)
	`, taskID, actorID)
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var holder string
	err = e.pool.QueryRow(ctx, `SELECT COALESCE(assignee, '') FROM ru_task WHERE id = $1`, taskID).Scan(&holder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.ErrTaskNotFound
		}
		return fmt.Errorf("failed to read task holder: %w", err)
	}
	return fmt.Errorf("%w: held by %s", engine.ErrAlreadyClaimed, holder)
}

// Complete moves the task and its identity links into history in one
// transaction. Ending the instance is left to the engine.
func (e *Engine) Complete(ctx context.Context, taskID string) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		instanceID, name, assignee string
		createdAt                  time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT instance_id, name, COALESCE(assignee, ''), created_at
		FROM ru_task
		WHERE id = $1
		FOR UPDATE
	`, taskID).Scan(&instanceID, &name, &assignee, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.ErrTaskNotFound
		}
		return fmt.Errorf("failed to lock task: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO hi_task (id, instance_id, name, assignee, started_at, ended_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NOW())
		ON CONFLICT (id) DO UPDATE SET assignee = EXCLUDED.assignee, ended_at = EXCLUDED.ended_at
	`, taskID, instanceID, name, assignee, createdAt); err != nil {
		return fmt.Errorf("failed to record task history: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO hi_identity_link (task_id, kind, value)
		SELECT task_id, kind, value FROM ru_identity_link WHERE task_id = $1 ORDER BY seq
	`, taskID); err != nil {
		return fmt.Errorf("failed to record identity link history: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM ru_task WHERE id = $1`, taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit completion: %w", err)
	}
	return nil
}

// SetTaskVariables upserts variables as JSONB rows on the task.
func (e *Engine) SetTaskVariables(ctx context.Context, taskID string, variables map[string]any) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ru_task WHERE id = $1)`, taskID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check task: %w", err)
	}
	if !exists {
		return engine.ErrTaskNotFound
	}

	batch := &pgx.Batch{}
	for name, value := range variables {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode variable %s: %w", name, err)
		}
		batch.Queue(`
			INSERT INTO ru_variable (task_id, name, value, updated_at)
			VALUES ($1, $2, $3::jsonb, NOW())
			ON CONFLICT (task_id, name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		`, taskID, name, string(raw))
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to set variables: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit variables: %w", err)
	}
	return nil
}

func (e *Engine) AddCandidateGroup(ctx context.Context, taskID, value string) error {
	tag, err := e.pool.Exec(ctx, `
		INSERT INTO ru_identity_link (task_id, kind, value)
		SELECT $1::text, 'group', $2::text
		WHERE EXISTS (SELECT 1 FROM ru_task WHERE id = $1)
	`, taskID, value)
	if err != nil {
		return fmt.Errorf("failed to add candidate group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrTaskNotFound
	}
	return nil
}

// ListHistoricTasks returns history rows in insertion order. Candidate
// filters split the stored link value on commas and match whole identifiers.
func (e *Engine) ListHistoricTasks(ctx context.Context, filter engine.HistoryFilter) ([]*engine.HistoricTask, error) {
	var w where
	if filter.FinishedOnly {
		w.addRaw("h.ended_at IS NOT NULL")
	}
	if filter.Assignee != "" {
		w.add("btrim(h.assignee) = $?", filter.Assignee)
	}
	if filter.CandidateUser != "" {
		w.add(`EXISTS (SELECT 1 FROM hi_identity_link l
			WHERE l.task_id = h.id AND l.kind = 'user'
			AND $? = ANY (regexp_split_to_array(btrim(l.value), '\s*,\s*')))`, filter.CandidateUser)
	}
	if filter.CandidateGroup != "" {
		w.add(`EXISTS (SELECT 1 FROM hi_identity_link l
			WHERE l.task_id = h.id AND l.kind = 'group'
			AND $? = ANY (regexp_split_to_array(btrim(l.value), '\s*,\s*')))`, filter.CandidateGroup)
	}

	rows, err := e.pool.Query(ctx, `
		SELECT h.id, h.instance_id, h.name, COALESCE(h.assignee, ''), h.started_at, h.ended_at
		FROM hi_task h `+w.String()+`
		ORDER BY h.seq
	`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list historic tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*engine.HistoricTask, 0)
	for rows.Next() {
		var h engine.HistoricTask
		var endedAt *time.Time
		if err := rows.Scan(&h.ID, &h.InstanceID, &h.Name, &h.Assignee, &h.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("failed to scan historic task: %w", err)
		}
		if endedAt != nil {
			h.EndedAt = *endedAt
		}
		tasks = append(tasks, &h)
	}
	return tasks, rows.Err()
}

var _ engine.Engine = (*Engine)(nil)
