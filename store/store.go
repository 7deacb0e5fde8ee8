// Package store persists Task and Finding rows in Postgres. The DB row is
// the single source of truth across pipeline stages; writer discipline
// (planning creates tasks, reasoning mutates task results, validation
// mutates finding validation columns) is enforced by the callers, not here.
package store

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// retryBackoff is the pause before the single retry of a failed statement.
const retryBackoff = 500 * time.Millisecond

// Store wraps the Postgres connection. Safe for concurrent use.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to Postgres using a DATABASE_URL-style DSN.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing connection; tests use this with sqlmock.
func NewWithDB(db *sqlx.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry runs op, retrying once after a short backoff. The second
// failure bubbles up and stops the driver.
func (s *Store) withRetry(ctx context.Context, name string, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	s.logger.Warn("store operation failed, retrying once", "op", name, "error", err)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryBackoff):
	}

	if err = op(); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	return nil
}

const taskColumns = `uuid, project_id, name, content, rule, rule_key, result,
	contract_code, start_line, end_line, relative_file_path,
	absolute_file_path, recommendation, business_flow_code, scan_record,
	short_result, "group"`

const taskInsertSQL = `INSERT INTO project_task (` + taskColumns + `) VALUES (
	:uuid, :project_id, :name, :content, :rule, :rule_key, :result,
	:contract_code, :start_line, :end_line, :relative_file_path,
	:absolute_file_path, :recommendation, :business_flow_code, :scan_record,
	:short_result, :group) RETURNING id`

// InsertTask inserts one task and fills in its surrogate ID.
func (s *Store) InsertTask(ctx context.Context, t *Task) error {
	return s.withRetry(ctx, "insert_task", func() error {
		rows, err := sqlx.NamedQueryContext(ctx, s.db, taskInsertSQL, t)
		if err != nil {
			return err
		}
		defer rows.Close()
		if !rows.Next() {
			return errors.New("insert returned no id")
		}
		return rows.Scan(&t.ID)
	})
}

// BulkInsertTasks inserts all tasks in one transaction so planning either
// writes a flow's tasks completely or not at all.
func (s *Store) BulkInsertTasks(ctx context.Context, tasks []*Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return s.withRetry(ctx, "bulk_insert_tasks", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, t := range tasks {
			rows, err := sqlx.NamedQueryContext(ctx, tx, taskInsertSQL, t)
			if err != nil {
				return err
			}
			if rows.Next() {
				if err := rows.Scan(&t.ID); err != nil {
					rows.Close()
					return err
				}
			}
			rows.Close()
		}
		return tx.Commit()
	})
}

// CountTasks reports how many tasks exist for a project. Planning treats a
// non-zero count as "already planned" and skips.
func (s *Store) CountTasks(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.withRetry(ctx, "count_tasks", func() error {
		return s.db.GetContext(ctx, &n,
			`SELECT COUNT(*) FROM project_task WHERE project_id = $1`, projectID)
	})
	return n, err
}

// ListTasks returns a project's tasks in insertion order. Within a group
// that order is the reasoning execution order.
func (s *Store) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	var tasks []Task
	err := s.withRetry(ctx, "list_tasks", func() error {
		return s.db.SelectContext(ctx, &tasks,
			`SELECT id, `+taskColumns+` FROM project_task WHERE project_id = $1 ORDER BY id`, projectID)
	})
	return tasks, err
}

// UpdateTaskResult writes the aggregated reasoning JSON. It runs before the
// split so a crash mid-split leaves result non-empty with short_result
// still unset, which the resume logic picks up.
func (s *Store) UpdateTaskResult(ctx context.Context, taskID int64, result string) error {
	return s.withRetry(ctx, "update_task_result", func() error {
		return s.execOne(ctx,
			`UPDATE project_task SET result = $1 WHERE id = $2`, result, taskID)
	})
}

// SetTaskShortResult records the split outcome.
func (s *Store) SetTaskShortResult(ctx context.Context, taskID int64, v string) error {
	return s.withRetry(ctx, "set_task_short_result", func() error {
		return s.execOne(ctx,
			`UPDATE project_task SET short_result = $1 WHERE id = $2`, v, taskID)
	})
}

// UpdateTaskScanRecord writes the reasoning trace JSON.
func (s *Store) UpdateTaskScanRecord(ctx context.Context, taskID int64, record string) error {
	return s.withRetry(ctx, "update_task_scan_record", func() error {
		return s.execOne(ctx,
			`UPDATE project_task SET scan_record = $1 WHERE id = $2`, record, taskID)
	})
}

const findingInsertSQL = `INSERT INTO project_finding (uuid, project_id,
	task_id, task_uuid, rule_key, finding_json, task_name, task_content,
	task_business_flow_code, task_contract_code, task_start_line,
	task_end_line, task_relative_file_path, task_absolute_file_path,
	task_rule, task_group, dedup_status, validation_status,
	validation_record) VALUES (:uuid, :project_id, :task_id, :task_uuid,
	:rule_key, :finding_json, :task_name, :task_content,
	:task_business_flow_code, :task_contract_code, :task_start_line,
	:task_end_line, :task_relative_file_path, :task_absolute_file_path,
	:task_rule, :task_group, :dedup_status, :validation_status,
	:validation_record)`

// ReplaceTaskFindings atomically deletes the task's findings and inserts
// the new set. One transaction, so a partial write can never leave a task
// marked split_done with a mismatched finding set.
func (s *Store) ReplaceTaskFindings(ctx context.Context, taskID int64, findings []*Finding) error {
	return s.withRetry(ctx, "replace_task_findings", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM project_finding WHERE task_id = $1`, taskID); err != nil {
			return err
		}
		for _, f := range findings {
			if _, err := sqlx.NamedExecContext(ctx, tx, findingInsertSQL, f); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

const findingColumns = `id, uuid, project_id, task_id, task_uuid, rule_key,
	finding_json, task_name, task_content, task_business_flow_code,
	task_contract_code, task_start_line, task_end_line,
	task_relative_file_path, task_absolute_file_path, task_rule, task_group,
	dedup_status, validation_status, validation_record`

// ListFindingsForValidation selects findings still awaiting a verdict:
// not marked delete by dedup and with empty or pending validation status.
func (s *Store) ListFindingsForValidation(ctx context.Context, projectID string) ([]Finding, error) {
	var findings []Finding
	err := s.withRetry(ctx, "list_findings_for_validation", func() error {
		return s.db.SelectContext(ctx, &findings,
			`SELECT `+findingColumns+` FROM project_finding
			 WHERE project_id = $1
			   AND dedup_status <> 'delete'
			   AND validation_status IN ('', 'pending')
			 ORDER BY id`, projectID)
	})
	return findings, err
}

// UpdateFindingValidation writes the validation verdict and audit record.
func (s *Store) UpdateFindingValidation(ctx context.Context, findingID int64, status, record string) error {
	return s.withRetry(ctx, "update_finding_validation", func() error {
		return s.execOne(ctx,
			`UPDATE project_finding SET validation_status = $1, validation_record = $2 WHERE id = $3`,
			status, record, findingID)
	})
}

// ListFindingsForExport returns confirmed, non-deleted findings.
func (s *Store) ListFindingsForExport(ctx context.Context, projectID string) ([]Finding, error) {
	var findings []Finding
	err := s.withRetry(ctx, "list_findings_for_export", func() error {
		return s.db.SelectContext(ctx, &findings,
			`SELECT `+findingColumns+` FROM project_finding
			 WHERE project_id = $1
			   AND dedup_status <> 'delete'
			   AND validation_status IN ('vulnerability', 'vuln_high_cost', 'vuln_low_impact')
			 ORDER BY rule_key, id`, projectID)
	})
	return findings, err
}

// ListFindings returns every finding of a project in id order.
func (s *Store) ListFindings(ctx context.Context, projectID string) ([]Finding, error) {
	var findings []Finding
	err := s.withRetry(ctx, "list_findings", func() error {
		return s.db.SelectContext(ctx, &findings,
			`SELECT `+findingColumns+` FROM project_finding WHERE project_id = $1 ORDER BY id`, projectID)
	})
	return findings, err
}

// MarkExactDuplicateFindings marks later findings whose normalized
// description duplicates an earlier finding of the same project and
// rule_key. Returns the number marked. Scoring-based dedup lives outside
// this pipeline; empty and kept statuses are equivalent "not deleted".
func (s *Store) MarkExactDuplicateFindings(ctx context.Context, projectID string) (int, error) {
	findings, err := s.ListFindings(ctx, projectID)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	var dupIDs []int64
	for i := range findings {
		f := &findings[i]
		if f.DedupStatus == DedupDelete {
			continue
		}
		key := f.RuleKey + "\x00" + descriptionHash(f.FindingJSON)
		if seen[key] {
			dupIDs = append(dupIDs, f.ID)
			continue
		}
		seen[key] = true
	}

	for _, id := range dupIDs {
		err := s.withRetry(ctx, "mark_duplicate", func() error {
			return s.execOne(ctx,
				`UPDATE project_finding SET dedup_status = $1 WHERE id = $2`, DedupDelete, id)
		})
		if err != nil {
			return 0, err
		}
	}
	return len(dupIDs), nil
}

// descriptionHash normalizes the finding's single description (lowercase,
// whitespace collapsed) and hashes it.
func descriptionHash(findingJSON string) string {
	var parsed struct {
		Vulnerabilities []struct {
			Description string `json:"description"`
		} `json:"vulnerabilities"`
	}
	text := findingJSON
	if err := json.Unmarshal([]byte(findingJSON), &parsed); err == nil && len(parsed.Vulnerabilities) > 0 {
		text = parsed.Vulnerabilities[0].Description
	}
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// execOne runs a statement that must touch exactly one row.
func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
