package domain

import "time"

// TaskStatus is the lifecycle state of an ingestion task.
type TaskStatus string

const (
	// TaskPending means the task is queued and not yet picked up.
	TaskPending TaskStatus = "pending"
	// TaskProcessing means the single ingestion worker is on it.
	TaskProcessing TaskStatus = "processing"
	// TaskCompleted is terminal: chunks, embeddings and index entries written.
	TaskCompleted TaskStatus = "completed"
	// TaskError is terminal: the task failed; ErrorMessage is set.
	TaskError TaskStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskError
}

// ProcessingTask tracks one document through the ingestion pipeline.
// Mutated only by the ingestion worker; terminal states are final for the
// task instance (re-ingestion creates a new task).
type ProcessingTask struct {
	ID           string
	DocumentID   string
	Status       TaskStatus
	Progress     int // 0..100
	ErrorMessage string
	ChunkCount   int
	EnqueuedAt   time.Time
	FinishedAt   time.Time
}
