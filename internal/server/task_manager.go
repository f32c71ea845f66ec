package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// TaskStatus defines the possible states of a task.
type TaskStatus string

const (
	TaskStatusStarted   TaskStatus = "started"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// maxTrackedTasks bounds the task registry; the oldest tasks are forgotten first.
const maxTrackedTasks = 256

// Task represents a long-running administrative operation (snapshot, repair).
type Task struct {
	mu       sync.RWMutex
	id       string
	kind     string
	status   TaskStatus
	result   any
	err      string
	started  time.Time
	finished time.Time
}

// TaskView is the JSON form of a Task.
type TaskView struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Status   TaskStatus `json:"status"`
	Result   any        `json:"result,omitempty"`
	Error    string     `json:"error,omitempty"`
	Started  time.Time  `json:"started"`
	Finished *time.Time `json:"finished,omitempty"`
}

// TaskManager tracks asynchronous tasks.
type TaskManager struct {
	tasks *lru.Cache[string, *Task]
	wg    sync.WaitGroup
}

func NewTaskManager() *TaskManager {
	tasks, _ := lru.New[string, *Task](maxTrackedTasks)
	return &TaskManager{tasks: tasks}
}

// Start registers a task and runs fn in its own goroutine.
func (tm *TaskManager) Start(kind string, fn func() (any, error)) *Task {
	task := &Task{
		id:      uuid.New().String(),
		kind:    kind,
		status:  TaskStatusStarted,
		started: time.Now().UTC(),
	}
	tm.tasks.Add(task.id, task)

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		task.setStatus(TaskStatusRunning)
		result, err := fn()
		task.finish(result, err)
	}()
	return task
}

// GetTask retrieves a task by its ID.
func (tm *TaskManager) GetTask(id string) (*Task, bool) {
	return tm.tasks.Get(id)
}

// Wait blocks until every started task returned.
func (tm *TaskManager) Wait() {
	tm.wg.Wait()
}

func (t *Task) ID() string { return t.id }

func (t *Task) setStatus(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
}

func (t *Task) finish(result any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = time.Now().UTC()
	t.result = result
	if err != nil {
		t.status = TaskStatusFailed
		t.err = err.Error()
		return
	}
	t.status = TaskStatusCompleted
}

func (t *Task) View() TaskView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v := TaskView{ID: t.id, Kind: t.kind, Status: t.status, Result: t.result, Error: t.err, Started: t.started}
	if !t.finished.IsZero() {
		f := t.finished
		v.Finished = &f
	}
	return v
}
