package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowaudit/flowaudit/agent"
	"github.com/flowaudit/flowaudit/schema"
	"github.com/flowaudit/flowaudit/store"
)

const (
	emptyResultJSON = `{"schema_version":"1.0","vulnerabilities":[]}`
	twoVulnJSON     = `{"schema_version":"1.0","vulnerabilities":[
	  {"description":"withdraw() skips the collateral check when the caller is also the liquidator"},
	  {"description":"fee accumulator overflows for tokens with more than 18 decimals"}
	]}`
)

// scriptedRunner answers calls from a canned table keyed "scope|call", with
// a plain call-name fallback shared across tasks.
type scriptedRunner struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	requests  []agent.Request
}

func (f *scriptedRunner) Run(_ context.Context, req agent.Request) (*agent.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	key := req.Scope + "|" + req.Call
	if err, ok := f.errs[key]; ok {
		return &agent.Result{ExitMode: "error"}, err
	}
	out, ok := f.responses[key]
	if !ok {
		out, ok = f.responses[req.Call]
	}
	if !ok {
		return nil, fmt.Errorf("unexpected call %q for %q", req.Call, req.Scope)
	}
	return &agent.Result{Stdout: out, ExitMode: "ok", ArtifactDir: "/logs/" + req.Call}, nil
}

func (f *scriptedRunner) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := make([]string, len(f.requests))
	for i, req := range f.requests {
		order[i] = req.Scope + "|" + req.Call
	}
	return order
}

type fakeLoopStore struct {
	mu         sync.Mutex
	tasks      []store.Task
	results    map[int64]string
	shorts     map[int64]string
	scans      map[int64]string
	findings   map[int64][]*store.Finding
	replaceErr error
}

func newFakeLoopStore(tasks ...store.Task) *fakeLoopStore {
	return &fakeLoopStore{
		tasks:    tasks,
		results:  make(map[int64]string),
		shorts:   make(map[int64]string),
		scans:    make(map[int64]string),
		findings: make(map[int64][]*store.Finding),
	}
}

func (f *fakeLoopStore) ListTasks(context.Context, string) ([]store.Task, error) {
	return f.tasks, nil
}

func (f *fakeLoopStore) UpdateTaskResult(_ context.Context, taskID int64, result string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[taskID] = result
	return nil
}

func (f *fakeLoopStore) SetTaskShortResult(_ context.Context, taskID int64, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shorts[taskID] = v
	return nil
}

func (f *fakeLoopStore) UpdateTaskScanRecord(_ context.Context, taskID int64, record string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans[taskID] = record
	return nil
}

func (f *fakeLoopStore) ReplaceTaskFindings(_ context.Context, taskID int64, findings []*store.Finding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.findings[taskID] = findings
	return nil
}

func testTask(id int64, group string) store.Task {
	return store.Task{
		ID:               id,
		UUID:             fmt.Sprintf("u-%d", id),
		ProjectID:        "p1",
		Name:             fmt.Sprintf("Fi:%s trade [access_control]", group),
		RuleKey:          "access_control",
		Rule:             `{"checklist":["every state-changing entry point checks the caller"]}`,
		BusinessFlowCode: "function withdraw() { ... }",
		RelativeFilePath: "src/Vault.sol",
		StartLine:        "10",
		Group:            group,
	}
}

func newTestLoop(t *testing.T, config Config, runner *scriptedRunner, tasks *fakeLoopStore) *Loop {
	t.Helper()
	l, err := NewLoop(config, runner, tasks, nil)
	require.NoError(t, err)
	return l
}

func TestRunTaskZeroFindingsStopsAndSplits(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{"round-1": emptyResultJSON}}
	st := newFakeLoopStore()
	l := newTestLoop(t, DefaultConfig(), runner, st)

	task := testTask(1, "F1")
	out, err := l.RunTask(context.Background(), &task, "/ws/p1")
	require.NoError(t, err)

	assert.Equal(t, 1, out.Rounds)
	assert.Equal(t, 0, out.Findings)
	assert.True(t, out.SplitDone)

	// A zero-finding run is a real result: stored, split, and marked done.
	assert.JSONEq(t, emptyResultJSON, st.results[1])
	assert.Equal(t, store.ShortResultSplitDone, st.shorts[1])
	replaced, ok := st.findings[1]
	require.True(t, ok, "findings must be replaced even when empty")
	assert.Empty(t, replaced)

	// Reasoner runs read-only unless PoC execution is on.
	assert.Equal(t, agent.SandboxReadOnly, runner.requests[0].Sandbox)
	assert.Equal(t, "reason", runner.requests[0].Stage)
	assert.Equal(t, "task-u-1", runner.requests[0].Scope)
}

func TestRunTaskSplitsOneFindingPerVulnerability(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{
		"round-1": twoVulnJSON,
		"round-2": emptyResultJSON,
	}}
	st := newFakeLoopStore()
	l := newTestLoop(t, DefaultConfig(), runner, st)

	task := testTask(7, "F1")
	out, err := l.RunTask(context.Background(), &task, "/ws/p1")
	require.NoError(t, err)

	assert.Equal(t, 2, out.Rounds)
	assert.Equal(t, 2, out.Findings)
	assert.True(t, out.SplitDone)

	rows := st.findings[7]
	require.Len(t, rows, 2)
	seen := map[string]bool{}
	for _, f := range rows {
		assert.Equal(t, int64(7), f.TaskID)
		assert.Equal(t, "u-7", f.TaskUUID)
		assert.Equal(t, "p1", f.ProjectID)
		assert.Equal(t, "access_control", f.RuleKey)
		assert.Equal(t, task.BusinessFlowCode, f.TaskBusinessFlowCode)
		assert.Equal(t, "src/Vault.sol", f.TaskRelativeFilePath)
		assert.False(t, seen[f.UUID], "finding UUIDs are unique")
		seen[f.UUID] = true

		var doc struct {
			Vulnerabilities []struct {
				Description string `json:"description"`
			} `json:"vulnerabilities"`
		}
		require.NoError(t, json.Unmarshal([]byte(f.FindingJSON), &doc))
		require.Len(t, doc.Vulnerabilities, 1, "finding_json carries exactly one vulnerability")
	}
}

func TestRunTaskSkipsWhenSplitDone(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{}}
	st := newFakeLoopStore()
	l := newTestLoop(t, DefaultConfig(), runner, st)

	task := testTask(1, "F1")
	task.ShortResult = store.ShortResultSplitDone
	out, err := l.RunTask(context.Background(), &task, "/ws/p1")
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Empty(t, runner.requests)
}

func TestRunTaskResumesStraightToSplit(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{}}
	st := newFakeLoopStore()
	l := newTestLoop(t, DefaultConfig(), runner, st)

	// A crash after the result write but before the split leaves result set
	// and short_result empty. The resume re-splits without an agent call
	// and produces the same set.
	task := testTask(3, "F1")
	task.Result = twoVulnJSON
	out, err := l.RunTask(context.Background(), &task, "/ws/p1")
	require.NoError(t, err)

	assert.True(t, out.Resumed)
	assert.True(t, out.SplitDone)
	assert.Equal(t, 2, out.Findings)
	assert.Empty(t, runner.requests, "resume must not re-run the agent")
	require.Len(t, st.findings[3], 2)
	assert.Equal(t, store.ShortResultSplitDone, st.shorts[3])
}

func TestRunTaskUnparseableStoredResultReReasons(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{"round-1": emptyResultJSON}}
	st := newFakeLoopStore()
	l := newTestLoop(t, DefaultConfig(), runner, st)

	task := testTask(4, "F1")
	task.Result = "the model apologized instead of emitting JSON"
	out, err := l.RunTask(context.Background(), &task, "/ws/p1")
	require.NoError(t, err)
	assert.False(t, out.Resumed)
	assert.Equal(t, 1, out.Rounds)
	assert.True(t, out.SplitDone)
}

func TestRunTaskMalformedRoundKeepsRawAndStaysIncomplete(t *testing.T) {
	raw := "I found several issues:\n1. missing access check\n"
	runner := &scriptedRunner{responses: map[string]string{"round-1": raw}}
	st := newFakeLoopStore()
	l := newTestLoop(t, DefaultConfig(), runner, st)

	task := testTask(5, "F1")
	out, err := l.RunTask(context.Background(), &task, "/ws/p1")
	require.NoError(t, err)

	// Raw text is kept for inspection; no split happened, so the next run
	// re-attempts from scratch.
	assert.Equal(t, raw, st.results[5])
	assert.Empty(t, st.shorts[5])
	_, replaced := st.findings[5]
	assert.False(t, replaced)
	assert.False(t, out.SplitDone)

	var trace Trace
	require.NoError(t, json.Unmarshal([]byte(st.scans[5]), &trace))
	require.Len(t, trace.Rounds, 1)
	assert.NotEmpty(t, trace.Rounds[0].ParseError)
}

func TestRunTaskTransientExecFailureIsRecorded(t *testing.T) {
	runner := &scriptedRunner{
		responses: map[string]string{},
		errs: map[string]error{
			"task-u-6|round-1": &agent.ExecError{Stage: "reason", ExitCode: 1, Stderr: "boom"},
		},
	}
	st := newFakeLoopStore()
	l := newTestLoop(t, DefaultConfig(), runner, st)

	task := testTask(6, "F1")
	out, err := l.RunTask(context.Background(), &task, "/ws/p1")
	require.NoError(t, err, "a failed round is not a task error")

	assert.Equal(t, 1, out.Rounds)
	assert.False(t, out.SplitDone)
	assert.Empty(t, st.shorts[6])

	var trace Trace
	require.NoError(t, json.Unmarshal([]byte(st.scans[6]), &trace))
	require.Len(t, trace.Rounds, 1)
	assert.Contains(t, trace.Rounds[0].ExecError, "exit code 1")
}

func TestRunTaskInfrastructureFailureAborts(t *testing.T) {
	infraErr := &agent.ExecError{Stage: "reason", Err: fmt.Errorf("codex binary missing")}
	runner := &scriptedRunner{
		responses: map[string]string{},
		errs:      map[string]error{"task-u-8|round-1": infraErr},
	}
	st := newFakeLoopStore()
	l := newTestLoop(t, DefaultConfig(), runner, st)

	task := testTask(8, "F1")
	_, err := l.RunTask(context.Background(), &task, "/ws/p1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "codex binary missing")
}

func TestRunTaskPivotConsultsIdeator(t *testing.T) {
	ideation := `{"new_hypotheses":["the price oracle can be read mid-update"],
	              "suggested_probes":["grep -n oracle src/"],
	              "expected_evidence":["a read of price without the sequencer check"]}`
	runner := &scriptedRunner{responses: map[string]string{
		"round-1":  `{"schema_version":"1.0","vulnerabilities":[{"description":"first issue"}]}`,
		"round-2":  `{"schema_version":"1.0","vulnerabilities":[{"description":"second issue"}]}`,
		"round-3":  emptyResultJSON,
		"ideate-3": ideation,
		"round-4":  emptyResultJSON,
		"ideate-4": ideation,
		"round-5":  emptyResultJSON,
	}}
	st := newFakeLoopStore()
	config := DefaultConfig()
	config.MaxRounds = 5
	l := newTestLoop(t, config, runner, st)

	task := testTask(9, "F1")
	out, err := l.RunTask(context.Background(), &task, "/ws/p1")
	require.NoError(t, err)

	assert.Equal(t, 5, out.Rounds)
	assert.Equal(t, 2, out.Findings)
	assert.True(t, out.SplitDone)

	// The post-pivot round carries the ideated hypotheses in its prompt.
	var round4 *agent.Request
	for i := range runner.requests {
		if runner.requests[i].Call == "round-4" {
			round4 = &runner.requests[i]
		}
	}
	require.NotNil(t, round4)
	assert.Contains(t, round4.Prompt, "the price oracle can be read mid-update")
	assert.Contains(t, round4.Prompt, "grep -n oracle src/")

	var trace Trace
	require.NoError(t, json.Unmarshal([]byte(st.scans[9]), &trace))
	require.Len(t, trace.Rounds, 5)
	assert.NotNil(t, trace.Rounds[2].Ideation)
	assert.Equal(t, "pivot", trace.Rounds[2].Decision.Decision)
	assert.Equal(t, "stop", trace.Rounds[4].Decision.Decision)

	// The first ideated lead yielded nothing by the second pivot; the
	// re-ideated copy was still open when the budget ran out.
	require.Len(t, trace.Hypotheses, 2)
	assert.Equal(t, schema.Hypothesis{
		Statement: "the price oracle can be read mid-update",
		State:     schema.HypothesisRefuted,
	}, trace.Hypotheses[0])
	assert.Equal(t, schema.HypothesisPending, trace.Hypotheses[1].State)
}

func TestRunTaskDeduplicatesAcrossRounds(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{
		"round-1": `{"schema_version":"1.0","vulnerabilities":[{"description":"Missing  Auth Check"}]}`,
		"round-2": `{"schema_version":"1.0","vulnerabilities":[{"description":"missing auth check"}]}`,
	}}
	st := newFakeLoopStore()
	l := newTestLoop(t, DefaultConfig(), runner, st)

	task := testTask(10, "F1")
	out, err := l.RunTask(context.Background(), &task, "/ws/p1")
	require.NoError(t, err)
	// Round two restates round one's finding: zero new, nothing pending,
	// stop with a single aggregated finding.
	assert.Equal(t, 2, out.Rounds)
	assert.Equal(t, 1, out.Findings)
	require.Len(t, st.findings[10], 1)
}

func TestRunTaskSplitFailureMarksTask(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{}}
	st := newFakeLoopStore()
	st.replaceErr = fmt.Errorf("connection reset")
	l := newTestLoop(t, DefaultConfig(), runner, st)

	task := testTask(11, "F1")
	task.Result = twoVulnJSON
	_, err := l.RunTask(context.Background(), &task, "/ws/p1")
	require.Error(t, err)
	assert.Equal(t, store.ShortResultSplitFailed, st.shorts[11])
	assert.Equal(t, store.ShortResultSplitFailed, task.ShortResult)
}

func TestRunTaskPoCExecutionUsesWorkspaceWrite(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{"round-1": emptyResultJSON}}
	st := newFakeLoopStore()
	config := DefaultConfig()
	config.PoCExecution = true
	l := newTestLoop(t, config, runner, st)

	task := testTask(12, "F1")
	_, err := l.RunTask(context.Background(), &task, "/ws/p1")
	require.NoError(t, err)
	assert.Equal(t, agent.SandboxWorkspaceWrite, runner.requests[0].Sandbox)
}

func TestRunProjectGroupsRunSerially(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{"round-1": emptyResultJSON}}
	st := newFakeLoopStore(testTask(1, "F1"), testTask(2, "F1"), testTask(3, "F2"))
	config := DefaultConfig()
	config.MaxParallel = 2
	l := newTestLoop(t, config, runner, st)

	outcome, err := l.RunProject(context.Background(), "p1", "/ws/p1")
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.Tasks)
	assert.Equal(t, 3, outcome.Reasoned)
	assert.Equal(t, 0, outcome.Skipped)
	assert.Equal(t, 0, outcome.Errors)

	// Tasks of one flow share agent state in the workspace, so within a
	// group they must run in insertion order even when groups interleave.
	order := runner.callOrder()
	first, second := -1, -1
	for i, key := range order {
		switch key {
		case "task-u-1|round-1":
			first = i
		case "task-u-2|round-1":
			second = i
		}
	}
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second)
}

func TestRunProjectCountsFailedTasks(t *testing.T) {
	runner := &scriptedRunner{
		responses: map[string]string{"round-1": emptyResultJSON},
		errs: map[string]error{
			"task-u-2|round-1": &agent.ExecError{Stage: "reason", Err: fmt.Errorf("exec format error")},
		},
	}
	st := newFakeLoopStore(testTask(1, "F1"), testTask(2, "F2"), testTask(3, "F3"))
	l := newTestLoop(t, DefaultConfig(), runner, st)

	outcome, err := l.RunProject(context.Background(), "p1", "/ws/p1")
	require.NoError(t, err, "one broken task does not fail the project")
	assert.Equal(t, 2, outcome.Reasoned)
	assert.Equal(t, 1, outcome.Errors)
}

func TestRunProjectSkipsFinishedTasks(t *testing.T) {
	done := testTask(1, "F1")
	done.ShortResult = store.ShortResultSplitDone
	runner := &scriptedRunner{responses: map[string]string{"round-1": emptyResultJSON}}
	st := newFakeLoopStore(done, testTask(2, "F2"))
	l := newTestLoop(t, DefaultConfig(), runner, st)

	outcome, err := l.RunProject(context.Background(), "p1", "/ws/p1")
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Skipped)
	assert.Equal(t, 1, outcome.Reasoned)
	for _, key := range runner.callOrder() {
		assert.False(t, strings.HasPrefix(key, "task-u-1|"), "finished task must not run")
	}
}
