package automation

import (
	"context"
	"fmt"
	"sync"

	"github.com/deskflow/automation/internal/logger"
)

// Handler performs one action type's side effect. Handlers may retry
// or make external calls internally; the executor normalizes their
// errors and panics, so a handler returning an error is enough.
type Handler interface {
	Execute(ctx context.Context, action Action, ectx *ExecutionContext) (*ActionResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, action Action, ectx *ExecutionContext) (*ActionResult, error)

func (f HandlerFunc) Execute(ctx context.Context, action Action, ectx *ExecutionContext) (*ActionResult, error) {
	return f(ctx, action, ectx)
}

// Executor is the action-dispatch port. It never lets a fault escape:
// unknown types, handler errors and handler panics all become failure
// results.
type Executor interface {
	Execute(ctx context.Context, action Action, ectx *ExecutionContext) ActionResult
	ExecuteActions(ctx context.Context, actions []Action, ectx *ExecutionContext) []ActionResult
	CanExecute(actionType string) bool
}

// DispatchExecutor routes actions to registered handlers. New action
// types register a handler; the dispatch loop itself never changes.
type DispatchExecutor struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatchExecutor() *DispatchExecutor {
	return &DispatchExecutor{handlers: make(map[string]Handler)}
}

// Register installs (or replaces) the handler for an action type.
func (e *DispatchExecutor) Register(actionType string, h Handler) {
	e.mu.Lock()
	e.handlers[actionType] = h
	e.mu.Unlock()
}

// CanExecute reports whether a handler is registered for the type.
// Used by configuration validation, independent of execution.
func (e *DispatchExecutor) CanExecute(actionType string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.handlers[actionType]
	return ok
}

// Execute dispatches one action and always returns a result. The
// error-normalizing boundary lives here, once, instead of in every
// handler.
func (e *DispatchExecutor) Execute(ctx context.Context, action Action, ectx *ExecutionContext) ActionResult {
	e.mu.RLock()
	h, ok := e.handlers[action.Type]
	e.mu.RUnlock()

	if !ok {
		logger.ActionFailure()
		return ActionResult{
			ActionID: action.ID,
			Type:     action.Type,
			Success:  false,
			Error:    fmt.Sprintf("unsupported action type %q", action.Type),
		}
	}

	result := e.run(ctx, h, action, ectx)
	result.ActionID = action.ID
	result.Type = action.Type
	if !result.Success {
		logger.ActionFailure()
		logger.Warn("action failed",
			"actionType", action.Type,
			"ruleId", ectx.RuleID,
			"tenantId", ectx.TenantID,
			"error", result.Error)
	}
	return result
}

// run invokes the handler behind a recover so no handler fault can
// cross the executor boundary.
func (e *DispatchExecutor) run(ctx context.Context, h Handler, action Action, ectx *ExecutionContext) (result ActionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = ActionResult{
				Success: false,
				Error:   fmt.Sprintf("action handler panicked: %v", rec),
			}
		}
	}()

	res, err := h.Execute(ctx, action, ectx)
	if err != nil {
		result = ActionResult{Success: false, Error: err.Error()}
		if res != nil && res.Message != "" {
			result.Message = res.Message
		}
		return result
	}
	if res == nil {
		return ActionResult{Success: true, Message: "action completed"}
	}
	return *res
}

// ExecuteActions runs the batch in order and returns exactly one
// result per input action; a failing action never aborts the rest.
func (e *DispatchExecutor) ExecuteActions(ctx context.Context, actions []Action, ectx *ExecutionContext) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, action := range actions {
		results = append(results, e.Execute(ctx, action, ectx))
	}
	return results
}
