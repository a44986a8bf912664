package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/model"
)

// Recorder receives workflow metrics. Implemented by observability.Metrics.
type Recorder interface {
	RecordStepSubmission(kind string, step int, outcome string)
	RecordFinalization(kind string, success bool)
	RecordExpiredInstances(count int)
}

// Engine drives step submissions against the registered workflow
// definitions. It owns instance lifecycle: a first-step success opens an
// instance, intermediate successes advance it, and the last step's finalizer
// closes it.
type Engine struct {
	registry *Registry
	sessions SessionStore
	ttl      time.Duration
	logger   *zap.Logger
	metrics  Recorder
	now      func() time.Time
}

// NewEngine creates a workflow engine. A zero ttl disables instance expiry.
// metrics may be nil.
func NewEngine(registry *Registry, sessions SessionStore, ttl time.Duration, logger *zap.Logger, metrics Recorder) *Engine {
	return &Engine{
		registry: registry,
		sessions: sessions,
		ttl:      ttl,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SubmitStep processes one step submission. Validation and check failures
// return a rejected outcome and leave the instance untouched; sequencing and
// infrastructure failures return an error.
func (e *Engine) SubmitStep(ctx context.Context, kind, instanceID string, stepNumber int, fields map[string]string) (model.StepOutcome, error) {
	// 1. Resolve the workflow definition and the addressed step.
	def, ok := e.registry.Get(kind)
	if !ok {
		return model.StepOutcome{}, model.NewStepNotFoundError(
			fmt.Sprintf("unknown workflow kind %q", kind),
		)
	}
	step, ok := def.Step(stepNumber)
	if !ok {
		return model.StepOutcome{}, model.NewStepNotFoundError(
			fmt.Sprintf("workflow %q has no step %d", kind, stepNumber),
		)
	}

	// 2. Resolve the instance. The first step opens a fresh one; later steps
	// load the caller's, which must be active, unexpired, and at exactly the
	// addressed step.
	var inst model.WorkflowInstance
	if stepNumber == def.FirstStep() {
		inst = e.newInstance(kind, stepNumber)
	} else {
		if instanceID == "" {
			return model.StepOutcome{}, model.NewBadRequestError("instance_id is required")
		}
		var err error
		inst, err = e.sessions.Get(ctx, instanceID)
		if err != nil {
			return model.StepOutcome{}, err
		}
		if inst.Kind != kind {
			// An instance of another kind must look absent, not leak.
			return model.StepOutcome{}, model.NewInstanceNotFoundError(
				fmt.Sprintf("workflow instance %q not found", instanceID),
			)
		}
		if inst.Status != model.InstanceStatusActive {
			return model.StepOutcome{}, model.NewInstanceNotActiveError(
				fmt.Sprintf("workflow instance %q is %s", instanceID, inst.Status),
			)
		}
		if inst.Expired(e.now()) {
			e.markExpired(ctx, inst)
			return model.StepOutcome{}, model.NewInstanceExpiredError(
				fmt.Sprintf("workflow instance %q has expired", instanceID),
			)
		}
		if inst.CurrentStep != stepNumber {
			return model.StepOutcome{}, model.NewStepOutOfOrderError(
				fmt.Sprintf("workflow instance %q is at step %d, not %d",
					instanceID, inst.CurrentStep, stepNumber),
			)
		}
	}

	// 3. Validate the submitted fields. Rejection never mutates the instance,
	// so the caller can resubmit the same step.
	if errs := step.Rules.Validate(fields); len(errs) > 0 {
		e.record(kind, stepNumber, model.OutcomeRejected)
		return model.Rejected(instanceID, errs), nil
	}

	// 4. Cross-entity checks.
	if step.Check != nil {
		errs, err := step.Check(ctx, &inst, fields)
		if err != nil {
			return model.StepOutcome{}, err
		}
		if len(errs) > 0 {
			e.record(kind, stepNumber, model.OutcomeRejected)
			return model.Rejected(instanceID, errs), nil
		}
	}

	// 5. Merge the step's owned fields into the accumulated state.
	if inst.State == nil {
		inst.State = make(map[string]string)
	}
	for _, field := range step.Persist {
		inst.State[field] = strings.TrimSpace(fields[field])
	}

	// 6. Side effects, for example issuing a verification code.
	if step.SideEffect != nil {
		if err := step.SideEffect(ctx, &inst, fields); err != nil {
			return model.StepOutcome{}, err
		}
	}

	// 7. Finalize on the last step; otherwise advance and persist.
	if stepNumber == def.LastStep() {
		message, result, err := def.Finalize(ctx, &inst)
		if err != nil {
			e.recordFinalization(kind, false)
			return model.StepOutcome{}, err
		}

		// The instance is spent. A failure to remove it is harmless: it
		// either expires or stays refusable at its now-passed step.
		if stepNumber != def.FirstStep() {
			if delErr := e.sessions.Delete(ctx, inst.ID); delErr != nil {
				e.logger.Warn("failed to delete finalized workflow instance",
					zap.String("instance_id", inst.ID), zap.Error(delErr))
			}
		}

		e.record(kind, stepNumber, model.OutcomeFinalized)
		e.recordFinalization(kind, true)
		return model.Finalized(inst.ID, message, result), nil
	}

	inst.CurrentStep = stepNumber + 1
	if stepNumber == def.FirstStep() {
		if err := e.sessions.Create(ctx, inst); err != nil {
			return model.StepOutcome{}, err
		}
	} else {
		if err := e.sessions.Update(ctx, inst); err != nil {
			return model.StepOutcome{}, err
		}
	}

	e.record(kind, stepNumber, model.OutcomeAdvance)
	return model.Advance(inst.ID, inst.CurrentStep), nil
}

// StepDescriptor describes one step of a workflow to clients.
type StepDescriptor struct {
	Kind   string   `json:"kind"`
	Step   int      `json:"step"`
	Fields []string `json:"fields"`
	Final  bool     `json:"final"`
}

// DescribeStep returns the descriptor for a workflow step.
func (e *Engine) DescribeStep(kind string, stepNumber int) (StepDescriptor, error) {
	def, ok := e.registry.Get(kind)
	if !ok {
		return StepDescriptor{}, model.NewStepNotFoundError(
			fmt.Sprintf("unknown workflow kind %q", kind),
		)
	}
	step, ok := def.Step(stepNumber)
	if !ok {
		return StepDescriptor{}, model.NewStepNotFoundError(
			fmt.Sprintf("workflow %q has no step %d", kind, stepNumber),
		)
	}

	return StepDescriptor{
		Kind:   kind,
		Step:   stepNumber,
		Fields: step.Rules.Fields(),
		Final:  stepNumber == def.LastStep(),
	}, nil
}

// ProcessExpired marks active instances past their deadline as expired and
// returns how many were swept.
func (e *Engine) ProcessExpired(ctx context.Context) (int, error) {
	expired, err := e.sessions.FindExpired(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("find expired instances: %w", err)
	}

	swept := 0
	for _, inst := range expired {
		inst.Status = model.InstanceStatusExpired
		if err := e.sessions.Update(ctx, inst); err != nil {
			// A concurrent submission may have advanced or removed it.
			e.logger.Debug("skipping contended expired instance",
				zap.String("instance_id", inst.ID), zap.Error(err))
			continue
		}
		swept++
	}

	if swept > 0 {
		e.logger.Info("expired workflow instances swept", zap.Int("count", swept))
		if e.metrics != nil {
			e.metrics.RecordExpiredInstances(swept)
		}
	}
	return swept, nil
}

// RunExpirySweeper periodically sweeps expired instances until the context is
// canceled. Intended to run on its own goroutine.
func (e *Engine) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ProcessExpired(ctx); err != nil {
				e.logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) newInstance(kind string, firstStep int) model.WorkflowInstance {
	now := e.now().UTC()
	inst := model.WorkflowInstance{
		ID:          uuid.New().String(),
		Kind:        kind,
		CurrentStep: firstStep,
		Status:      model.InstanceStatusActive,
		State:       make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if e.ttl > 0 {
		deadline := now.Add(e.ttl)
		inst.ExpiresAt = &deadline
	}
	return inst
}

// markExpired flips an overdue instance to expired on read. Best effort: the
// sweeper will catch it otherwise.
func (e *Engine) markExpired(ctx context.Context, inst model.WorkflowInstance) {
	inst.Status = model.InstanceStatusExpired
	if err := e.sessions.Update(ctx, inst); err != nil {
		e.logger.Debug("failed to mark instance expired",
			zap.String("instance_id", inst.ID), zap.Error(err))
	}
}

func (e *Engine) record(kind string, step int, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordStepSubmission(kind, step, outcome)
	}
}

func (e *Engine) recordFinalization(kind string, success bool) {
	if e.metrics != nil {
		e.metrics.RecordFinalization(kind, success)
	}
}
