// Package features manages the persisted feature list: the ordered set
// of tasks the harness hands to the agent one at a time.
package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fentz26/warden/internal/models"
)

// ErrTaskNotFound indicates the task ID is not present in the list.
var ErrTaskNotFound = errors.New("task not found in feature list")

// List is an in-memory snapshot of feature_list.json. It is loaded at
// phase boundaries and written back atomically; it is never shared
// between processes without the session lease held.
type List struct {
	path  string
	Tasks []models.Task
}

// Load reads and validates the feature list at path. Task IDs must be
// unique; list order is the selection order.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature list: %w", err)
	}
	var tasks []models.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parse feature list: %w", err)
	}
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("feature list contains a task with no id")
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate task id %q in feature list", t.ID)
		}
		seen[t.ID] = true
	}
	return &List{path: path, Tasks: tasks}, nil
}

// Save writes the list back atomically (write-to-temp + rename) so a
// crash mid-write cannot corrupt the document.
func (l *List) Save() error {
	data, err := json.MarshalIndent(l.Tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode feature list: %w", err)
	}
	data = append(data, '\n')

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write feature list: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace feature list: %w", err)
	}
	return nil
}

// Path returns the file the list was loaded from.
func (l *List) Path() string {
	return l.path
}

// SelectNext returns the first task that is still pending under the
// given retry limit, or nil when no task is selectable. Selection is
// deterministic: list order, tasks over the retry limit skipped.
func (l *List) SelectNext(maxRetries int) *models.Task {
	for i := range l.Tasks {
		if l.Tasks[i].Status(maxRetries) == models.TaskStatusPending {
			return &l.Tasks[i]
		}
	}
	return nil
}

// Get returns the task with the given ID.
func (l *List) Get(id string) (*models.Task, error) {
	for i := range l.Tasks {
		if l.Tasks[i].ID == id {
			return &l.Tasks[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// PendingCount counts tasks still pending under the retry limit.
func (l *List) PendingCount(maxRetries int) int {
	n := 0
	for _, t := range l.Tasks {
		if t.Status(maxRetries) == models.TaskStatusPending {
			n++
		}
	}
	return n
}

// AllPass reports whether every task in the list passes.
func (l *List) AllPass() bool {
	for _, t := range l.Tasks {
		if !t.Passes {
			return false
		}
	}
	return true
}

// Exhausted reports whether any task failed out by exhausting retries
// while not all tasks pass. The harness uses this to distinguish
// "done" from "stuck".
func (l *List) Exhausted(maxRetries int) bool {
	for _, t := range l.Tasks {
		if t.Status(maxRetries) == models.TaskStatusFailed {
			return true
		}
	}
	return false
}

// IncrementRetry bumps the retry counter for one task and persists the
// list. Only the named task is touched.
func (l *List) IncrementRetry(id string) error {
	t, err := l.Get(id)
	if err != nil {
		return err
	}
	t.RetryCount++
	return l.Save()
}

// ResetRetries clears the retry counter for one task and persists the
// list. Operator tooling for un-sticking a failed task.
func (l *List) ResetRetries(id string) error {
	t, err := l.Get(id)
	if err != nil {
		return err
	}
	t.RetryCount = 0
	return l.Save()
}

// Append adds a new pending task to the end of the list and persists it.
func (l *List) Append(task models.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if _, err := l.Get(task.ID); err == nil {
		return fmt.Errorf("duplicate task id %q", task.ID)
	}
	l.Tasks = append(l.Tasks, task)
	return l.Save()
}

// Init creates an empty feature list at path if none exists.
func Init(path string) (*List, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create feature list directory: %w", err)
	}
	l := &List{path: path, Tasks: []models.Task{}}
	if err := l.Save(); err != nil {
		return nil, err
	}
	return l, nil
}
