package domain

import (
	"strings"
	"time"
)

type TaskState string

const (
	StateProcessing TaskState = "processing"
	StateCompleted  TaskState = "completed"
	StateFailed     TaskState = "failed"
)

func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type PayloadKind string

const (
	KindCSV     PayloadKind = "csv"
	KindTSV     PayloadKind = "tsv"
	KindJSON    PayloadKind = "json"
	KindJSONL   PayloadKind = "jsonl"
	KindUnknown PayloadKind = "unknown"
)

// ParseKind normalizes a declared kind. Anything outside the known set maps to
// KindUnknown; the raw value stays on the descriptor for error messages.
func ParseKind(raw string) PayloadKind {
	switch k := PayloadKind(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "."))); k {
	case KindCSV, KindTSV, KindJSON, KindJSONL:
		return k
	default:
		return KindUnknown
	}
}

// PayloadDescriptor describes one uploaded results file. The coordinator
// never looks inside it; only the pipeline stages do.
type PayloadDescriptor struct {
	Kind         PayloadKind `json:"kind"`
	DeclaredKind string      `json:"declared_kind,omitempty"`
	Name         string      `json:"name"`
	Size         int64       `json:"size"`
}

func NewPayload(kind, name string, size int64) PayloadDescriptor {
	return PayloadDescriptor{Kind: ParseKind(kind), DeclaredKind: kind, Name: name, Size: size}
}

type ValidationResult struct {
	Kind     PayloadKind `json:"kind"`
	Accepted bool        `json:"accepted"`
}

type CompressionResult struct {
	OriginalBytes   int64   `json:"original_bytes"`
	CompressedBytes int64   `json:"compressed_bytes"`
	Ratio           float64 `json:"ratio"`
	Summary         string  `json:"summary"`
}

type ScanVerdict string

const (
	VerdictPass ScanVerdict = "pass"
	VerdictFail ScanVerdict = "fail"
)

type ScanResult struct {
	Verdict  ScanVerdict `json:"verdict"`
	Findings []string    `json:"findings"`
}

type StageResults struct {
	Validation  ValidationResult  `json:"validation"`
	Compression CompressionResult `json:"compression"`
	Scan        ScanResult        `json:"scan"`
}

// TaskRecord is the lifecycle state of one submitted upload. Results and
// FailureReason are mutually exclusive and only set once State is terminal.
type TaskRecord struct {
	ID            string            `json:"task_id"`
	OwnerID       string            `json:"owner_id"`
	State         TaskState         `json:"state"`
	Payload       PayloadDescriptor `json:"payload"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
	Results       *StageResults     `json:"results,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
}

// Clone returns a deep copy so callers can't mutate stored state.
func (t TaskRecord) Clone() TaskRecord {
	out := t
	if t.FinishedAt != nil {
		ft := *t.FinishedAt
		out.FinishedAt = &ft
	}
	if t.Results != nil {
		r := *t.Results
		if t.Results.Scan.Findings != nil {
			r.Scan.Findings = append([]string(nil), t.Results.Scan.Findings...)
		}
		out.Results = &r
	}
	return out
}

// Latency is zero while the task is still processing.
func (t TaskRecord) Latency() time.Duration {
	if t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(t.SubmittedAt)
}

type SubmitResult struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type BatchResult struct {
	BatchID string   `json:"batch_id"`
	TaskIDs []string `json:"task_ids"`
}

// StateNotFound is reported per task in a batch aggregate when the id is
// unknown, usually because the janitor already evicted it.
const StateNotFound TaskState = "not_found"

type BatchTaskStatus struct {
	TaskID string      `json:"task_id"`
	State  TaskState   `json:"state"`
	Task   *TaskRecord `json:"task,omitempty"`
}

type BatchStatus struct {
	Total        int               `json:"total"`
	Completed    int               `json:"completed"`
	Failed       int               `json:"failed"`
	Processing   int               `json:"processing"`
	NotFound     int               `json:"not_found"`
	FractionDone float64           `json:"fraction_done"`
	Tasks        []BatchTaskStatus `json:"tasks"`
}
