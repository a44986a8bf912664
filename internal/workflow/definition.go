package workflow

import (
	"context"
	"sort"

	"github.com/pitabwire/onboard/internal/validation"
	"github.com/pitabwire/onboard/model"
)

// CheckFunc runs a step's cross-entity checks after field validation passes,
// for example verifying an organization exists or a code matches the one
// issued earlier. Returned field errors reject the submission; a non-nil
// error aborts it.
type CheckFunc func(ctx context.Context, inst *model.WorkflowInstance, fields map[string]string) ([]model.FieldError, error)

// SideEffectFunc runs after a step's fields are merged into the accumulated
// state. It may add derived state entries or dispatch notifications.
type SideEffectFunc func(ctx context.Context, inst *model.WorkflowInstance, fields map[string]string) error

// FinalizeFunc completes a workflow on its last step, creating the domain
// entities from the accumulated state. It returns the terminal success
// message and the identities created.
type FinalizeFunc func(ctx context.Context, inst *model.WorkflowInstance) (string, *model.FinalizationResult, error)

// Step is one step of a workflow definition.
type Step struct {
	// Number is the step's position, starting at 1.
	Number int

	// Rules validates the submitted fields.
	Rules validation.RuleSet

	// Persist lists the fields merged into the accumulated state when the
	// step succeeds. Fields not listed here are used by the step but never
	// stored.
	Persist []string

	// Check runs cross-entity checks, if any.
	Check CheckFunc

	// SideEffect runs after a successful merge, if any.
	SideEffect SideEffectFunc
}

// Definition describes one workflow kind: its ordered steps and the finalizer
// that runs when the last step succeeds.
type Definition struct {
	Kind     string
	Steps    []Step
	Finalize FinalizeFunc
}

// Step returns the step with the given number.
func (d *Definition) Step(number int) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].Number == number {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// FirstStep returns the lowest step number.
func (d *Definition) FirstStep() int {
	first := 0
	for i := range d.Steps {
		if first == 0 || d.Steps[i].Number < first {
			first = d.Steps[i].Number
		}
	}
	return first
}

// LastStep returns the highest step number.
func (d *Definition) LastStep() int {
	last := 0
	for i := range d.Steps {
		if d.Steps[i].Number > last {
			last = d.Steps[i].Number
		}
	}
	return last
}

// Registry holds the workflow definitions the engine can run, keyed by kind.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry creates a registry from the given definitions.
func NewRegistry(defs ...*Definition) *Registry {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		r.defs[d.Kind] = d
	}
	return r
}

// Get returns the definition for a workflow kind.
func (r *Registry) Get(kind string) (*Definition, bool) {
	d, ok := r.defs[kind]
	return d, ok
}

// Kinds returns the registered workflow kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.defs))
	for k := range r.defs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
