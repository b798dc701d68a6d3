// Package workflow runs multi-step operations against external systems as
// sagas: ordered steps, each optionally paired with an undo. When a step
// fails, the undos of the steps that already completed run in reverse order.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vaidashi/quote-service/pkg/logger"
	"github.com/vaidashi/quote-service/pkg/metrics"
)

// compensationTimeout bounds the undo phase, which runs even when the
// caller's context is already cancelled
const compensationTimeout = 30 * time.Second

// Step is one unit of a saga
type Step struct {
	Name string
	Run  func(ctx context.Context) error
	// Compensate undoes Run. Nil means the step has nothing to undo.
	Compensate func(ctx context.Context) error
}

// StepError reports the step that failed and any undo that failed after it
type StepError struct {
	Workflow string
	Step     string
	Err      error
	UndoErr  error
}

func (e *StepError) Error() string {
	if e.UndoErr != nil {
		return fmt.Sprintf("%s: step %s failed: %v (compensation failed: %v)", e.Workflow, e.Step, e.Err, e.UndoErr)
	}
	return fmt.Sprintf("%s: step %s failed: %v", e.Workflow, e.Step, e.Err)
}

// Unwrap exposes the step error first, then the undo error
func (e *StepError) Unwrap() []error {
	if e.UndoErr == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.UndoErr}
}

// Saga is an ordered list of steps
type Saga struct {
	name    string
	steps   []Step
	logger  logger.Logger
	metrics *metrics.WorkflowMetrics
}

// New creates an empty saga
func New(name string, logger logger.Logger, m *metrics.WorkflowMetrics) *Saga {
	return &Saga{
		name:    name,
		logger:  logger.With("workflow", name),
		metrics: m,
	}
}

// Step appends a step
func (s *Saga) Step(name string, run, compensate func(ctx context.Context) error) *Saga {
	s.steps = append(s.steps, Step{Name: name, Run: run, Compensate: compensate})
	return s
}

// Then appends another saga's steps
func (s *Saga) Then(other *Saga) *Saga {
	s.steps = append(s.steps, other.steps...)
	return s
}

// Run executes the steps in order
func (s *Saga) Run(ctx context.Context) error {
	done := make([]Step, 0, len(s.steps))

	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, step.Name, err, done)
		}

		if err := step.Run(ctx); err != nil {
			return s.fail(ctx, step.Name, err, done)
		}
		done = append(done, step)
	}

	s.metrics.WorkflowRun(s.name, "completed")
	return nil
}

func (s *Saga) fail(ctx context.Context, failed string, err error, done []Step) error {
	s.logger.Warn("Workflow step failed, compensating", "step", failed, "error", err, "completed", len(done))

	undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	var undoErrs []error
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}

		if uerr := step.Compensate(undoCtx); uerr != nil {
			s.logger.Error("Compensation failed", "step", step.Name, "error", uerr)
			s.metrics.Compensation(s.name, step.Name, "failed")
			undoErrs = append(undoErrs, fmt.Errorf("undo %s: %w", step.Name, uerr))
			continue
		}
		s.metrics.Compensation(s.name, step.Name, "ok")
	}

	s.metrics.WorkflowRun(s.name, "compensated")

	return &StepError{
		Workflow: s.name,
		Step:     failed,
		Err:      err,
		UndoErr:  errors.Join(undoErrs...),
	}
}
