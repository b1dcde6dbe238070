package hooks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/util/values"
)

// ValidateFunc is the built-in validation step of a save
type ValidateFunc func(ctx *Context, doc store.Document) error

// PersistFunc writes the document and returns it as stored
type PersistFunc func(ctx *Context, doc store.Document) (store.Document, error)

// RemoveFunc deletes the document
type RemoveFunc func(ctx *Context, doc store.Document) error

// Pipeline runs the callbacks of one model around its writes.
//
// A save runs beforeValidation, the built-in validation, afterValidation,
// before, the write, then after. Each stage runs the save hooks first and the
// create or update hooks second. A delete runs before, the removal, then
// after. Within a stage hooks run in registration order and the first failure
// aborts the invocation. After hooks run once the write is committed: their
// failures are logged and recorded on the context but never fail the
// operation.
type Pipeline struct {
	callbacks  *Callbacks
	queue      *AsyncQueue
	appendOnly map[string]bool
}

// NewPipeline creates a pipeline. queue may be nil, in which case async hooks
// run inline.
func NewPipeline(callbacks *Callbacks, queue *AsyncQueue) *Pipeline {
	if callbacks == nil {
		callbacks = NewCallbacks()
	}
	return &Pipeline{callbacks: callbacks, queue: queue, appendOnly: AppendOnlyFields}
}

// Callbacks returns the callback set the pipeline runs
func (p *Pipeline) Callbacks() *Callbacks {
	return p.callbacks
}

// Save runs a create or update invocation
func (p *Pipeline) Save(ctx *Context, doc store.Document, validate ValidateFunc, persist PersistFunc) (store.Document, error) {
	if ctx.Action != ActionCreate && ctx.Action != ActionUpdate {
		return nil, fmt.Errorf("save pipeline cannot run action %q", ctx.Action)
	}
	actions := []Action{ActionSave, ctx.Action}

	var err error
	if doc, err = p.runStage(ctx, actions, StageBeforeValidation, doc); err != nil {
		return nil, err
	}
	if validate != nil {
		if err := validate(ctx, doc); err != nil {
			return nil, err
		}
	}
	if doc, err = p.runStage(ctx, actions, StageAfterValidation, doc); err != nil {
		return nil, err
	}
	if doc, err = p.runStage(ctx, actions, StageBefore, doc); err != nil {
		return nil, err
	}

	stored, err := persist(ctx, doc)
	if err != nil {
		return nil, surface(ctx, err)
	}

	p.runAfter(ctx, actions, stored)
	return stored, nil
}

// Delete runs a delete invocation
func (p *Pipeline) Delete(ctx *Context, doc store.Document, remove RemoveFunc) error {
	actions := []Action{ActionDelete}

	doc, err := p.runStage(ctx, actions, StageBefore, doc)
	if err != nil {
		return err
	}
	if err := remove(ctx, doc); err != nil {
		return surface(ctx, err)
	}

	p.runAfter(ctx, actions, doc)
	return nil
}

func (p *Pipeline) runStage(ctx *Context, actions []Action, stage Stage, doc store.Document) (store.Document, error) {
	for _, action := range actions {
		for _, h := range p.callbacks.Hooks(action, stage) {
			out, err := h.Fn(ctx, doc)
			if err != nil {
				ctx.logger().Debug("hook failed",
					zap.String("model", ctx.ModelName()),
					zap.String("action", string(action)),
					zap.String("stage", string(stage)),
					zap.String("hook", h.Name),
					zap.Error(err))
				return nil, err
			}
			if out != nil {
				doc = Merge(doc, out, p.appendOnly)
			}
		}
	}
	return doc, nil
}

func (p *Pipeline) runAfter(ctx *Context, actions []Action, doc store.Document) {
	for _, action := range actions {
		for _, h := range p.callbacks.Hooks(action, StageAfter) {
			if h.Async && p.queue != nil {
				p.enqueue(ctx, h, doc)
				continue
			}

			out, err := h.Fn(ctx, doc)
			if err != nil {
				ctx.recordAfterFailure(fmt.Errorf("after hook %s: %w", h.Name, err))
				ctx.logger().Warn("after hook failed; write is kept",
					zap.String("model", ctx.ModelName()),
					zap.String("action", string(action)),
					zap.String("hook", h.Name),
					zap.Error(err))
				continue
			}
			if out != nil {
				doc = Merge(doc, out, p.appendOnly)
			}
		}
	}
}

func (p *Pipeline) enqueue(ctx *Context, h *Hook, doc store.Document) {
	snapshot := values.CopyDocument(doc)
	forked := ctx.Fork(context.Background())
	task := AsyncTask{
		Model: ctx.ModelName(),
		Hook:  h.Name,
		Fn: func(taskCtx context.Context) error {
			forked.Context = taskCtx
			_, err := h.Fn(forked, snapshot)
			return err
		},
	}
	if err := p.queue.Enqueue(task); err != nil {
		ctx.recordAfterFailure(fmt.Errorf("enqueue after hook %s: %w", h.Name, err))
		ctx.logger().Warn("failed to enqueue async hook",
			zap.String("model", ctx.ModelName()),
			zap.String("hook", h.Name),
			zap.Error(err))
	}
}

// surface types a write failure. Store errors are already typed; anything
// else is reported as unavailability of the store.
func surface(ctx *Context, err error) error {
	if ormerrors.IsConflict(err) || ormerrors.IsUnavailable(err) ||
		ormerrors.IsValidation(err) || ormerrors.IsAccess(err) || ormerrors.IsNotFound(err) {
		return err
	}
	return &ormerrors.StoreUnavailableError{Op: string(ctx.Action), Err: err}
}
