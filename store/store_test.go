package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "postgres"), nil), mock
}

func TestInsertTask(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO project_task`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	task := &Task{UUID: "u1", ProjectID: "p1", Name: "F1 trade [access_control]"}
	require.NoError(t, s.InsertTask(context.Background(), task))
	assert.Equal(t, int64(42), task.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertTasksSingleTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO project_task`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO project_task`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectCommit()

	tasks := []*Task{
		{UUID: "u1", ProjectID: "p1"},
		{UUID: "u2", ProjectID: "p1"},
	}
	require.NoError(t, s.BulkInsertTasks(context.Background(), tasks))
	assert.Equal(t, int64(1), tasks[0].ID)
	assert.Equal(t, int64(2), tasks[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskResultRetriesOnce(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE project_task SET result`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec(`UPDATE project_task SET result`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateTaskResult(context.Background(), 7, `{"schema_version":"1.0"}`))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskResultSecondFailureBubbles(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE project_task SET result`).
		WillReturnError(errors.New("down"))
	mock.ExpectExec(`UPDATE project_task SET result`).
		WillReturnError(errors.New("still down"))

	err := s.UpdateTaskResult(context.Background(), 7, "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still down")
}

func TestSetTaskShortResultMissingRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE project_task SET short_result`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE project_task SET short_result`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetTaskShortResult(context.Background(), 99, ShortResultSplitDone)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceTaskFindingsDeletesThenInserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM project_finding WHERE task_id`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO project_finding`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO project_finding`).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	findings := []*Finding{
		{UUID: "f1", ProjectID: "p1", TaskID: 7, FindingJSON: `{"schema_version":"1.0","vulnerabilities":[{"description":"D1"}]}`},
		{UUID: "f2", ProjectID: "p1", TaskID: 7, FindingJSON: `{"schema_version":"1.0","vulnerabilities":[{"description":"D2"}]}`},
	}
	require.NoError(t, s.ReplaceTaskFindings(context.Background(), 7, findings))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTaskFindingsRollsBackOnInsertFailure(t *testing.T) {
	s, mock := newMockStore(t)

	for i := 0; i < 2; i++ { // initial attempt plus one retry
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM project_finding WHERE task_id`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO project_finding`).
			WillReturnError(errors.New("constraint violation"))
		mock.ExpectRollback()
	}

	err := s.ReplaceTaskFindings(context.Background(), 7, []*Finding{{UUID: "f1", TaskID: 7}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTaskFindingsEmptySetStillDeletes(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM project_finding WHERE task_id`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, s.ReplaceTaskFindings(context.Background(), 7, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFindingsForValidationFilters(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "uuid", "project_id", "task_id", "validation_status"}).
		AddRow(1, "f1", "p1", 7, "").
		AddRow(2, "f2", "p1", 7, "pending")
	mock.ExpectQuery(`SELECT (.+) FROM project_finding\s+WHERE project_id = \$1\s+AND dedup_status <> 'delete'\s+AND validation_status IN \('', 'pending'\)`).
		WithArgs("p1").
		WillReturnRows(rows)

	findings, err := s.ListFindingsForValidation(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, findings, 2)
}

func TestUpdateFindingValidation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE project_finding SET validation_status`).
		WithArgs("intended_design", `{"schema_version":"validation_codex_v1"}`, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateFindingValidation(context.Background(), 5,
		"intended_design", `{"schema_version":"validation_codex_v1"}`))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkExactDuplicateFindings(t *testing.T) {
	s, mock := newMockStore(t)

	d1 := `{"schema_version":"1.0","vulnerabilities":[{"description":"Reentrancy in withdraw"}]}`
	d1b := `{"schema_version":"1.0","vulnerabilities":[{"description":"  reentrancy   in withdraw "}]}`
	d2 := `{"schema_version":"1.0","vulnerabilities":[{"description":"Missing access control"}]}`

	rows := sqlmock.NewRows([]string{"id", "uuid", "project_id", "rule_key", "finding_json", "dedup_status"}).
		AddRow(1, "f1", "p1", "rk1", d1, "").
		AddRow(2, "f2", "p1", "rk1", d1b, "").
		AddRow(3, "f3", "p1", "rk2", d1, ""). // same text, different rule_key: kept
		AddRow(4, "f4", "p1", "rk1", d2, "")
	mock.ExpectQuery(`SELECT (.+) FROM project_finding WHERE project_id = \$1 ORDER BY id`).
		WithArgs("p1").
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE project_finding SET dedup_status`).
		WithArgs(DedupDelete, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.MarkExactDuplicateFindings(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotFrom(t *testing.T) {
	task := &Task{
		ID: 7, UUID: "t-uuid", ProjectID: "p1", Name: "F1 trade [rk]",
		Content: "body", Rule: `{"rule_key":"rk"}`, RuleKey: "rk",
		BusinessFlowCode: "code", ContractCode: "cc",
		StartLine: "10", EndLine: "20",
		RelativeFilePath: "src/Vault.sol", AbsoluteFilePath: "/ws/src/Vault.sol",
		Group: "F1",
	}
	var f Finding
	f.SnapshotFrom(task)

	assert.Equal(t, int64(7), f.TaskID)
	assert.Equal(t, "t-uuid", f.TaskUUID)
	assert.Equal(t, "p1", f.ProjectID)
	assert.Equal(t, "rk", f.RuleKey)
	assert.Equal(t, "F1 trade [rk]", f.TaskName)
	assert.Equal(t, "code", f.TaskBusinessFlowCode)
	assert.Equal(t, "src/Vault.sol", f.TaskRelativeFilePath)
	assert.Equal(t, "F1", f.TaskGroup)
}
