package discovery

import (
	"errors"
	"time"

	"github.com/JakeFAU/sitewatcher/internal/workerclient"
)

// ErrQueueClosed is returned by Dequeue once a closed queue is drained.
var ErrQueueClosed = errors.New("queue closed")

// TaskKind selects the worker operation a task runs.
type TaskKind string

// Task kinds.
const (
	TaskDiscover TaskKind = "discover"
	TaskProfile  TaskKind = "profile"
)

// Task is one unit of batch work.
type Task struct {
	Kind       TaskKind `json:"kind" yaml:"kind"`
	URL        string   `json:"url,omitempty" yaml:"url,omitempty"`
	Profile    string   `json:"profile,omitempty" yaml:"profile,omitempty"`
	MonthsBack *int     `json:"months_back,omitempty" yaml:"months_back,omitempty"`
}

// Target names what the task points at: the site URL, or profile:<name>.
func (t Task) Target() string {
	if t.Kind == TaskProfile {
		return profilePrefix + t.Profile
	}
	return t.URL
}

// QueueItem wraps a task ready to run.
type QueueItem struct {
	BatchID   string
	TaskID    string
	Index     int
	Task      Task
	Submitted time.Time
}

// ResultStatus is the terminal state of a task.
type ResultStatus string

// Result status values.
const (
	StatusSucceeded ResultStatus = "succeeded"
	StatusFailed    ResultStatus = "failed"
)

// Result is one line of the batch report.
type Result struct {
	BatchID     string                 `json:"batch_id" yaml:"batch_id"`
	TaskID      string                 `json:"task_id" yaml:"task_id"`
	Index       int                    `json:"index" yaml:"index"`
	Task        Task                   `json:"task" yaml:"task"`
	Status      ResultStatus           `json:"status" yaml:"status"`
	Response    *workerclient.Response `json:"response,omitempty" yaml:"response,omitempty"`
	ContentHash string                 `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
	ErrorKind   string                 `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error       string                 `json:"error,omitempty" yaml:"error,omitempty"`
	StatusCode  int                    `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Retryable   bool                   `json:"retryable,omitempty" yaml:"retryable,omitempty"`
	EventID     string                 `json:"event_id,omitempty" yaml:"event_id,omitempty"`
	StartedAt   time.Time              `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time              `json:"finished_at" yaml:"finished_at"`
	DurationMs  int64                  `json:"duration_ms" yaml:"duration_ms"`
}

// Event is published once per finished task.
type Event struct {
	BatchID     string       `json:"batch_id"`
	TaskID      string       `json:"task_id"`
	Target      string       `json:"target"`
	Status      ResultStatus `json:"status"`
	Source      string       `json:"source,omitempty"`
	Count       int          `json:"count"`
	Links       []string     `json:"links,omitempty"`
	Feeds       []string     `json:"feeds,omitempty"`
	ContentHash string       `json:"content_hash,omitempty"`
	ErrorKind   string       `json:"error_kind,omitempty"`
	Error       string       `json:"error,omitempty"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// EventFor builds the event announcing r.
func EventFor(r Result) Event {
	ev := Event{
		BatchID:     r.BatchID,
		TaskID:      r.TaskID,
		Target:      r.Task.Target(),
		Status:      r.Status,
		ContentHash: r.ContentHash,
		ErrorKind:   r.ErrorKind,
		Error:       r.Error,
		FinishedAt:  r.FinishedAt,
	}
	if r.Response != nil {
		ev.Source = r.Response.Source
		ev.Count = r.Response.Count
		ev.Links = r.Response.Links
		ev.Feeds = r.Response.Feeds
	}
	return ev
}
