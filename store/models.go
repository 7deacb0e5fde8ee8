package store

// Task.short_result values. Empty means the split has not happened yet.
const (
	ShortResultSplitDone   = "split_done"
	ShortResultSplitFailed = "split_failed"
)

// Finding.dedup_status values. Empty and kept both mean "not deleted".
const (
	DedupKept   = "kept"
	DedupDelete = "delete"
)

// Task is one unit of reasoning work: one business flow crossed with one
// rule key, bound to the concatenated function bodies. Created only by
// planning; result, scan_record, and short_result are written only by the
// reasoning loop.
type Task struct {
	ID        int64  `db:"id"`
	UUID      string `db:"uuid"`
	ProjectID string `db:"project_id"`
	Name      string `db:"name"`

	// Content and the line/file columns snapshot the flow's first matched
	// function so exports have a concrete anchor.
	Content          string `db:"content"`
	Rule             string `db:"rule"`
	RuleKey          string `db:"rule_key"`
	Result           string `db:"result"`
	ContractCode     string `db:"contract_code"`
	StartLine        string `db:"start_line"`
	EndLine          string `db:"end_line"`
	RelativeFilePath string `db:"relative_file_path"`
	AbsoluteFilePath string `db:"absolute_file_path"`
	Recommendation   string `db:"recommendation"`
	BusinessFlowCode string `db:"business_flow_code"`
	ScanRecord       string `db:"scan_record"`
	ShortResult      string `db:"short_result"`
	Group            string `db:"group"`
}

// Finding is a single-vulnerability record split out of a task result. The
// task snapshot columns make it self-contained for validation and export;
// task_id remains the lineage anchor. Validation columns are written only
// by the validator.
type Finding struct {
	ID        int64  `db:"id"`
	UUID      string `db:"uuid"`
	ProjectID string `db:"project_id"`
	TaskID    int64  `db:"task_id"`
	TaskUUID  string `db:"task_uuid"`
	RuleKey   string `db:"rule_key"`

	// FindingJSON holds exactly one vulnerability in the reasoning schema.
	FindingJSON string `db:"finding_json"`

	TaskName             string `db:"task_name"`
	TaskContent          string `db:"task_content"`
	TaskBusinessFlowCode string `db:"task_business_flow_code"`
	TaskContractCode     string `db:"task_contract_code"`
	TaskStartLine        string `db:"task_start_line"`
	TaskEndLine          string `db:"task_end_line"`
	TaskRelativeFilePath string `db:"task_relative_file_path"`
	TaskAbsoluteFilePath string `db:"task_absolute_file_path"`
	TaskRule             string `db:"task_rule"`
	TaskGroup            string `db:"task_group"`

	DedupStatus      string `db:"dedup_status"`
	ValidationStatus string `db:"validation_status"`
	ValidationRecord string `db:"validation_record"`
}

// SnapshotFrom denormalizes the task context onto the finding.
func (f *Finding) SnapshotFrom(t *Task) {
	f.ProjectID = t.ProjectID
	f.TaskID = t.ID
	f.TaskUUID = t.UUID
	f.RuleKey = t.RuleKey
	f.TaskName = t.Name
	f.TaskContent = t.Content
	f.TaskBusinessFlowCode = t.BusinessFlowCode
	f.TaskContractCode = t.ContractCode
	f.TaskStartLine = t.StartLine
	f.TaskEndLine = t.EndLine
	f.TaskRelativeFilePath = t.RelativeFilePath
	f.TaskAbsoluteFilePath = t.AbsoluteFilePath
	f.TaskRule = t.Rule
	f.TaskGroup = t.Group
}
