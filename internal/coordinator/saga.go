package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Step is a single unit of work in a decision. Each step must be able to
// undo its effects through Compensate.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// StepError reports the step that failed and any compensation that could
// not be applied afterwards.
type StepError struct {
	Step         string
	Err          error
	Compensation []error
}

func (e *StepError) Error() string {
	if len(e.Compensation) == 0 {
		return fmt.Sprintf("step %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("step %s: %v (compensation: %v)", e.Step, e.Err, errors.Join(e.Compensation...))
}

func (e *StepError) Unwrap() error { return e.Err }

// Orchestrator runs Steps in order.
type Orchestrator struct {
	steps []Step
	// onCompensated is called for every step rolled back successfully.
	onCompensated func(ctx context.Context, step string)
}

func NewOrchestrator(steps ...Step) *Orchestrator {
	return &Orchestrator{steps: steps}
}

// Start runs the steps sequentially. If one fails, every step that already
// succeeded is compensated in reverse order and a *StepError is returned.
func (o *Orchestrator) Start(ctx context.Context) error {
	var done []Step

	for _, step := range o.steps {
		slog.DebugContext(ctx, "executing step", "step", step.Name())
		if err := step.Execute(ctx); err != nil {
			slog.ErrorContext(ctx, "step failed, starting rollback", "step", step.Name(), "error", err)
			return &StepError{Step: step.Name(), Err: err, Compensation: o.rollback(ctx, done)}
		}
		done = append(done, step)
	}
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, steps []Step) []error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		slog.InfoContext(ctx, "compensating step", "step", step.Name())
		if err := step.Compensate(ctx); err != nil {
			slog.ErrorContext(ctx, "CRITICAL: failed to compensate step", "step", step.Name(), "error", err)
			errs = append(errs, fmt.Errorf("compensate %s: %w", step.Name(), err))
			continue
		}
		if o.onCompensated != nil {
			o.onCompensated(ctx, step.Name())
		}
	}
	return errs
}
