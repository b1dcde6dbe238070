package hooks

import (
	"fmt"

	"github.com/conduit-lang/docengine/internal/orm/store"
)

// Action is a lifecycle action callbacks attach to
type Action string

const (
	// ActionCreate runs when a document is created
	ActionCreate Action = "create"
	// ActionUpdate runs when a document is updated
	ActionUpdate Action = "update"
	// ActionDelete runs when a document is deleted
	ActionDelete Action = "delete"
	// ActionSave runs for both create and update, ahead of their own hooks
	ActionSave Action = "save"
)

// Stage is a phase of a pipeline invocation
type Stage string

const (
	// StageBeforeValidation runs before schema validation
	StageBeforeValidation Stage = "beforeValidation"
	// StageAfterValidation runs after schema validation
	StageAfterValidation Stage = "afterValidation"
	// StageBefore runs right before the document is persisted or removed
	StageBefore Stage = "before"
	// StageAfter runs once the write is committed
	StageAfter Stage = "after"
)

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionSave:
		return a, nil
	}
	return "", fmt.Errorf("unknown callback action %q", s)
}

// ParseStage validates a stage name
func ParseStage(s string) (Stage, error) {
	switch st := Stage(s); st {
	case StageBeforeValidation, StageAfterValidation, StageBefore, StageAfter:
		return st, nil
	}
	return "", fmt.Errorf("unknown callback stage %q", s)
}

// HookFunc is a lifecycle hook. It may return a document whose fields are
// merged over the current one, or nil to leave the document unchanged.
type HookFunc func(ctx *Context, doc store.Document) (store.Document, error)

// Hook is a named hook
type Hook struct {
	Name string
	Fn   HookFunc
	// Async hooks in the after stage run on the async queue with a copy of the document
	Async bool
}

// Callbacks holds the ordered hooks of a model per action and stage
type Callbacks struct {
	hooks map[Action]map[Stage][]*Hook
}

// NewCallbacks creates an empty callback set
func NewCallbacks() *Callbacks {
	return &Callbacks{hooks: make(map[Action]map[Stage][]*Hook)}
}

// Register appends a hook to action and stage. Registering the same hook
// twice runs it twice.
func (c *Callbacks) Register(action Action, stage Stage, hook *Hook) {
	stages, ok := c.hooks[action]
	if !ok {
		stages = make(map[Stage][]*Hook)
		c.hooks[action] = stages
	}
	stages[stage] = append(stages[stage], hook)
}

// Hooks returns the hooks of action and stage in registration order
func (c *Callbacks) Hooks(action Action, stage Stage) []*Hook {
	return c.hooks[action][stage]
}

// Has returns true if any hook is registered for action and stage
func (c *Callbacks) Has(action Action, stage Stage) bool {
	return len(c.hooks[action][stage]) > 0
}

// Names returns the hook names of action and stage
func (c *Callbacks) Names(action Action, stage Stage) []string {
	hooks := c.Hooks(action, stage)
	names := make([]string, len(hooks))
	for i, h := range hooks {
		names[i] = h.Name
	}
	return names
}
