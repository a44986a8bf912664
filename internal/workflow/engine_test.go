package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/validation"
	"github.com/pitabwire/onboard/model"
)

// invitationDefinition is a three-step workflow exercising every engine
// feature: validation, state accumulation, a side effect issuing a code, a
// cross-check against accumulated state, and a finalizer.
func invitationDefinition(finalized *int) *Definition {
	return &Definition{
		Kind: "invitation",
		Steps: []Step{
			{
				Number: 1,
				Rules: validation.RuleSet{
					{Field: "email", Rules: []validation.Rule{validation.Required{}, validation.Email{}}},
				},
				Persist: []string{"email"},
				SideEffect: func(_ context.Context, inst *model.WorkflowInstance, _ map[string]string) error {
					inst.State["code"] = "424242"
					return nil
				},
			},
			{
				Number: 2,
				Rules: validation.RuleSet{
					{Field: "code", Rules: []validation.Rule{validation.Required{}}},
				},
				Check: func(_ context.Context, inst *model.WorkflowInstance, fields map[string]string) ([]model.FieldError, error) {
					if fields["code"] != inst.State["code"] {
						return []model.FieldError{{
							Field:   "code",
							Code:    "MISMATCH",
							Message: "The code does not match.",
						}}, nil
					}
					return nil, nil
				},
			},
			{
				Number: 3,
				Rules: validation.RuleSet{
					{Field: "display_name", Rules: []validation.Rule{validation.Required{}}},
				},
				Persist: []string{"display_name"},
			},
		},
		Finalize: func(_ context.Context, inst *model.WorkflowInstance) (string, *model.FinalizationResult, error) {
			if inst.State["email"] == "" || inst.State["display_name"] == "" {
				return "", nil, errors.New("incomplete state")
			}
			*finalized++
			return fmt.Sprintf("Welcome, %s!", inst.State["display_name"]),
				&model.FinalizationResult{UserID: "user-1"}, nil
		},
	}
}

func newTestEngine(t *testing.T, ttl time.Duration) (*Engine, *MemorySessionStore, *int) {
	t.Helper()
	finalized := new(int)
	sessions := NewMemorySessionStore()
	engine := NewEngine(
		NewRegistry(invitationDefinition(finalized)),
		sessions, ttl, zap.NewNop(), nil,
	)
	return engine, sessions, finalized
}

func TestEngine_SubmitStep_unknown_kind(t *testing.T) {
	engine, _, _ := newTestEngine(t, time.Hour)

	_, err := engine.SubmitStep(context.Background(), "takeover", "", 1, nil)
	assert.True(t, model.HasCode(err, model.ErrStepNotFound))
}

func TestEngine_SubmitStep_unknown_step(t *testing.T) {
	engine, _, _ := newTestEngine(t, time.Hour)

	_, err := engine.SubmitStep(context.Background(), "invitation", "", 9, nil)
	assert.True(t, model.HasCode(err, model.ErrStepNotFound))
}

func TestEngine_SubmitStep_first_step_rejection_opens_nothing(t *testing.T) {
	ctx := context.Background()
	engine, sessions, _ := newTestEngine(t, time.Hour)

	outcome, err := engine.SubmitStep(ctx, "invitation", "", 1,
		map[string]string{"email": "not-an-address"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, outcome.Outcome)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, "email", outcome.Errors[0].Field)
	assert.Zero(t, sessions.Len(), "rejected first step must not open an instance")
}

func TestEngine_SubmitStep_first_step_opens_instance(t *testing.T) {
	ctx := context.Background()
	engine, sessions, _ := newTestEngine(t, time.Hour)

	outcome, err := engine.SubmitStep(ctx, "invitation", "", 1,
		map[string]string{"email": "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAdvance, outcome.Outcome)
	assert.Equal(t, 2, outcome.NextStep)
	require.NotEmpty(t, outcome.InstanceID)

	inst, err := sessions.Get(ctx, outcome.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, 2, inst.CurrentStep)
	assert.Equal(t, "ada@example.com", inst.State["email"])
	assert.Equal(t, "424242", inst.State["code"], "side effect state must persist")
	require.NotNil(t, inst.ExpiresAt)
}

func TestEngine_SubmitStep_later_step_requires_instance(t *testing.T) {
	engine, _, _ := newTestEngine(t, time.Hour)

	_, err := engine.SubmitStep(context.Background(), "invitation", "", 2,
		map[string]string{"code": "424242"})
	assert.True(t, model.HasCode(err, model.ErrBadRequest))
}

func TestEngine_SubmitStep_out_of_order(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, time.Hour)

	opened, err := engine.SubmitStep(ctx, "invitation", "", 1,
		map[string]string{"email": "ada@example.com"})
	require.NoError(t, err)

	// Skipping ahead to the last step is refused.
	_, err = engine.SubmitStep(ctx, "invitation", opened.InstanceID, 3,
		map[string]string{"display_name": "Ada"})
	assert.True(t, model.HasCode(err, model.ErrStepOutOfOrder))
}

func TestEngine_SubmitStep_check_rejection_is_retryable(t *testing.T) {
	ctx := context.Background()
	engine, sessions, _ := newTestEngine(t, time.Hour)

	opened, err := engine.SubmitStep(ctx, "invitation", "", 1,
		map[string]string{"email": "ada@example.com"})
	require.NoError(t, err)

	rejected, err := engine.SubmitStep(ctx, "invitation", opened.InstanceID, 2,
		map[string]string{"code": "000000"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, rejected.Outcome)

	// The instance stays at step 2, so the same step can be resubmitted.
	inst, err := sessions.Get(ctx, opened.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, 2, inst.CurrentStep)

	retried, err := engine.SubmitStep(ctx, "invitation", opened.InstanceID, 2,
		map[string]string{"code": "424242"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAdvance, retried.Outcome)
	assert.Equal(t, 3, retried.NextStep)
}

func TestEngine_SubmitStep_finalize(t *testing.T) {
	ctx := context.Background()
	engine, sessions, finalized := newTestEngine(t, time.Hour)

	opened, err := engine.SubmitStep(ctx, "invitation", "", 1,
		map[string]string{"email": "ada@example.com"})
	require.NoError(t, err)
	_, err = engine.SubmitStep(ctx, "invitation", opened.InstanceID, 2,
		map[string]string{"code": "424242"})
	require.NoError(t, err)

	outcome, err := engine.SubmitStep(ctx, "invitation", opened.InstanceID, 3,
		map[string]string{"display_name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFinalized, outcome.Outcome)
	assert.Equal(t, "Welcome, Ada!", outcome.Message)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, "user-1", outcome.Result.UserID)
	assert.Equal(t, 1, *finalized)

	// The spent instance is gone.
	assert.Zero(t, sessions.Len())
	_, err = engine.SubmitStep(ctx, "invitation", opened.InstanceID, 3,
		map[string]string{"display_name": "Ada"})
	assert.True(t, model.HasCode(err, model.ErrInstanceNotFound))
}

func TestEngine_SubmitStep_expired_instance(t *testing.T) {
	ctx := context.Background()
	engine, sessions, _ := newTestEngine(t, time.Hour)

	opened, err := engine.SubmitStep(ctx, "invitation", "", 1,
		map[string]string{"email": "ada@example.com"})
	require.NoError(t, err)

	engine.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = engine.SubmitStep(ctx, "invitation", opened.InstanceID, 2,
		map[string]string{"code": "424242"})
	assert.True(t, model.HasCode(err, model.ErrInstanceExpired))

	inst, err := sessions.Get(ctx, opened.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusExpired, inst.Status)
}

func TestEngine_SubmitStep_kind_mismatch(t *testing.T) {
	ctx := context.Background()
	finalized := new(int)
	sessions := NewMemorySessionStore()
	other := &Definition{
		Kind: "transfer",
		Steps: []Step{
			{Number: 1, Rules: validation.RuleSet{
				{Field: "email", Rules: []validation.Rule{validation.Required{}}},
			}},
			{Number: 2},
		},
		Finalize: func(context.Context, *model.WorkflowInstance) (string, *model.FinalizationResult, error) {
			return "", nil, nil
		},
	}
	engine := NewEngine(
		NewRegistry(invitationDefinition(finalized), other),
		sessions, time.Hour, zap.NewNop(), nil,
	)

	opened, err := engine.SubmitStep(ctx, "invitation", "", 1,
		map[string]string{"email": "ada@example.com"})
	require.NoError(t, err)

	// An invitation instance must be invisible to the transfer workflow.
	_, err = engine.SubmitStep(ctx, "transfer", opened.InstanceID, 2, nil)
	assert.True(t, model.HasCode(err, model.ErrInstanceNotFound))
}

func TestEngine_ProcessExpired(t *testing.T) {
	ctx := context.Background()
	engine, sessions, _ := newTestEngine(t, time.Hour)

	opened, err := engine.SubmitStep(ctx, "invitation", "", 1,
		map[string]string{"email": "ada@example.com"})
	require.NoError(t, err)

	engine.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	swept, err := engine.ProcessExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	inst, err := sessions.Get(ctx, opened.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusExpired, inst.Status)

	// A second sweep finds nothing.
	swept, err = engine.ProcessExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestEngine_DescribeStep(t *testing.T) {
	engine, _, _ := newTestEngine(t, time.Hour)

	desc, err := engine.DescribeStep("invitation", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"display_name"}, desc.Fields)
	assert.True(t, desc.Final)

	desc, err = engine.DescribeStep("invitation", 1)
	require.NoError(t, err)
	assert.False(t, desc.Final)

	_, err = engine.DescribeStep("invitation", 9)
	assert.True(t, model.HasCode(err, model.ErrStepNotFound))
}
