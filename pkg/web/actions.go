package web

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openstage/go-microscope/internal/log"
)

// ActionStatus is the lifecycle state of a long-running action.
type ActionStatus string

const (
	ActionRunning   ActionStatus = "running"
	ActionCompleted ActionStatus = "completed"
	ActionCancelled ActionStatus = "cancelled"
	ActionFailed    ActionStatus = "failed"
)

// maxFinishedActions bounds how many terminated actions are kept for
// clients still polling their results.
const maxFinishedActions = 64

// ActionFunc is the body of a long-running action. It must honor ctx: an
// observed cancellation should return promptly with whatever partial result
// is safe. progress accepts a completion percentage.
type ActionFunc func(ctx context.Context, progress func(float64)) (any, error)

// Action is one asynchronous operation: an autofocus run, a tile scan. The
// HTTP layer returns its ID immediately and clients poll or cancel by ID.
type Action struct {
	id      string
	name    string
	started time.Time

	mu       sync.Mutex
	status   ActionStatus
	progress float64
	result   any
	err      string
	ended    time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// ActionView is the JSON shape of an action's state.
type ActionView struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Status   ActionStatus `json:"status"`
	Progress float64      `json:"progress"`
	Result   any          `json:"result,omitempty"`
	Error    string       `json:"error,omitempty"`
	Started  time.Time    `json:"started"`
	Ended    *time.Time   `json:"ended,omitempty"`
}

// View snapshots the action for serialization.
func (a *Action) View() ActionView {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := ActionView{
		ID:       a.id,
		Name:     a.name,
		Status:   a.status,
		Progress: a.progress,
		Result:   a.result,
		Error:    a.err,
		Started:  a.started,
	}
	if !a.ended.IsZero() {
		ended := a.ended
		v.Ended = &ended
	}
	return v
}

// Wait blocks until the action terminates. Test helper and shutdown aid.
func (a *Action) Wait() {
	<-a.done
}

func (a *Action) setProgress(p float64) {
	a.mu.Lock()
	if a.status == ActionRunning {
		a.progress = p
	}
	a.mu.Unlock()
}

// Registry tracks every launched action by ID.
type Registry struct {
	mu      sync.Mutex
	actions map[string]*Action
}

// NewRegistry returns an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Action)}
}

// Launch starts fn in its own goroutine and returns the tracking handle
// immediately.
func (r *Registry) Launch(name string, fn ActionFunc) *Action {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Action{
		id:      uuid.NewString(),
		name:    name,
		started: time.Now(),
		status:  ActionRunning,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	r.prune()
	r.actions[a.id] = a
	r.mu.Unlock()

	go func() {
		defer cancel()
		defer close(a.done)

		result, err := fn(ctx, a.setProgress)

		a.mu.Lock()
		a.ended = time.Now()
		a.result = result
		switch {
		case err != nil:
			a.status = ActionFailed
			a.err = err.Error()
			log.Error("action failed", "action", name, "id", a.id, "err", err)
		case ctx.Err() != nil:
			a.status = ActionCancelled
			log.Info("action cancelled", "action", name, "id", a.id)
		default:
			a.status = ActionCompleted
			a.progress = 100
		}
		a.mu.Unlock()
	}()

	log.Info("action started", "action", name, "id", a.id)
	return a
}

// Get looks up an action by ID.
func (r *Registry) Get(id string) (*Action, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[id]
	return a, ok
}

// List returns every tracked action, oldest first.
func (r *Registry) List() []ActionView {
	r.mu.Lock()
	actions := make([]*Action, 0, len(r.actions))
	for _, a := range r.actions {
		actions = append(actions, a)
	}
	r.mu.Unlock()

	sort.Slice(actions, func(i, j int) bool {
		return actions[i].started.Before(actions[j].started)
	})
	views := make([]ActionView, len(actions))
	for i, a := range actions {
		views[i] = a.View()
	}
	return views
}

// Cancel requests cooperative cancellation of a running action. Reports
// whether the ID was known; cancelling a terminated action is a no-op.
func (r *Registry) Cancel(id string) bool {
	a, ok := r.Get(id)
	if !ok {
		return false
	}
	a.cancel()
	return true
}

// prune drops the oldest terminated actions once the map grows past the
// retention cap. Caller holds r.mu.
func (r *Registry) prune() {
	finished := make([]*Action, 0, len(r.actions))
	for _, a := range r.actions {
		a.mu.Lock()
		if a.status != ActionRunning {
			finished = append(finished, a)
		}
		a.mu.Unlock()
	}
	if len(finished) < maxFinishedActions {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].started.Before(finished[j].started)
	})
	for _, a := range finished[:len(finished)-maxFinishedActions+1] {
		delete(r.actions, a.id)
	}
}
