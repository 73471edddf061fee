package batch

import (
	"crypto/md5" //nolint:gosec // fingerprint for duplicate detection, not security
	"encoding/hex"
	"io"
	"os"
	"time"
)

// Priority orders tasks in the dispatch queue. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// ParsePriority maps a priority name to its value. Unknown names fall back
// to PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// Status is the task lifecycle state. Transitions only move forward:
// pending -> queued -> processing -> {completed | failed | cancelled | retrying},
// with retrying re-entering queued after the backoff delay.
type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRetrying   Status = "retrying"
)

// statuses lists every state for per-status bucket initialization.
var statuses = []Status{
	StatusPending, StatusQueued, StatusProcessing,
	StatusCompleted, StatusFailed, StatusCancelled, StatusRetrying,
}

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DefaultMaxRetries is the retry budget applied when the caller does not
// choose one.
const DefaultMaxRetries = 3

// fingerprintPrefix bounds how much of a file is hashed for duplicate
// detection.
const fingerprintPrefix = 1 << 20 // 1 MiB

// Task is one request to convert a single input file. Tasks are created by
// the processor and mutated only by it; callers observe copies.
type Task struct {
	ID           string    `json:"id"`
	InputPath    string    `json:"input_path"`
	OutputPath   string    `json:"output_path,omitempty"`
	Priority     Priority  `json:"priority"`
	Status       Status    `json:"status"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	CreatedAt    time.Time `json:"created_at"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	CompletedAt  time.Time `json:"completed_at,omitzero"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ResultText   string    `json:"-"`
	Fingerprint  string    `json:"-"`

	// seq is the queue arrival order, the tie-breaker within a priority band.
	seq uint64
}

// before orders tasks for the dispatch queue: priority descending, then
// arrival order ascending.
func (t *Task) before(other *Task) bool {
	if t.Priority != other.Priority {
		return t.Priority > other.Priority
	}
	return t.seq < other.seq
}

// fingerprintFile hashes the first 1 MiB of the file at path. An unreadable
// file yields an empty fingerprint, which disables duplicate detection for
// that task rather than failing admission.
func fingerprintFile(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // caller-supplied input path
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // not a security boundary
	if _, err := io.CopyN(h, f, fingerprintPrefix); err != nil && err != io.EOF {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
