// Package onboarding defines the two onboarding workflows: registering a new
// organization with its founding user, and joining an existing organization
// as a pending member.
package onboarding

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/onboard/internal/notify"
	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/internal/validation"
	"github.com/pitabwire/onboard/internal/workflow"
	"github.com/pitabwire/onboard/model"
)

// Accumulated state keys. Field names double as state keys for fields that
// persist verbatim; password never enters state, only its hash does.
const (
	stateEmail            = "email"
	stateValidationKey    = "validation_key"
	stateFirstName        = "first_name"
	stateLastName         = "last_name"
	statePasswordHash     = "password_hash"
	stateOrganizationName = "organization_name"
	stateOrganizationID   = "organization_id"
	stateDescription      = "description"
)

// Error codes for cross-entity check failures.
const (
	codeMismatch  = "MISMATCH"
	codeTaken     = "TAKEN"
	codeExists    = "EXISTS"
	codeNotMember = "NOT_MEMBER"
)

const (
	maxNameLength     = 15
	minPasswordLength = 6
)

// defaultCategories is the fixed set created for every new organization.
var defaultCategories = []string{
	"Engineering",
	"New Employee Onboarding",
	"Marketing",
	"Product",
	"Human Resources",
	"Sales",
}

const registrationSuccessMessage = "Organization created successfully. Now sign in to your organization!"

// Registry builds the workflow registry holding both onboarding workflows.
func Registry(entities store.Store, notifier notify.Notifier, logger *zap.Logger) *workflow.Registry {
	return workflow.NewRegistry(
		RegistrationDefinition(entities, notifier, logger),
		JoinDefinition(entities, logger),
	)
}

// RegistrationDefinition builds the four-step organization registration
// workflow: email capture, email verification, founder profile, and the
// organization itself. The last step atomically creates the founding user,
// the organization, and its default categories.
func RegistrationDefinition(entities store.Store, notifier notify.Notifier, logger *zap.Logger) *workflow.Definition {
	return &workflow.Definition{
		Kind: model.KindRegister,
		Steps: []workflow.Step{
			{
				Number: 1,
				Rules: validation.RuleSet{
					{Field: stateEmail, Rules: []validation.Rule{validation.Required{}, validation.Email{}}},
				},
				Persist: []string{stateEmail},
				SideEffect: func(_ context.Context, inst *model.WorkflowInstance, fields map[string]string) error {
					code, err := generateVerificationCode()
					if err != nil {
						return fmt.Errorf("generate verification code: %w", err)
					}
					inst.State[stateValidationKey] = code

					// Delivery must never block or fail the step.
					notify.Dispatch(notifier, logger, strings.TrimSpace(fields[stateEmail]), code)
					return nil
				},
			},
			{
				Number: 2,
				Rules: validation.RuleSet{
					{Field: stateValidationKey, Rules: []validation.Rule{validation.Required{}}},
				},
				Check: func(_ context.Context, inst *model.WorkflowInstance, fields map[string]string) ([]model.FieldError, error) {
					if strings.TrimSpace(fields[stateValidationKey]) != inst.State[stateValidationKey] {
						return []model.FieldError{{
							Field:   stateValidationKey,
							Code:    codeMismatch,
							Message: "Validation key mismatch.",
						}}, nil
					}
					return nil, nil
				},
			},
			{
				Number: 3,
				Rules: validation.RuleSet{
					{Field: stateFirstName, Rules: []validation.Rule{validation.Required{}, validation.MaxLen{N: maxNameLength}}},
					{Field: stateLastName, Rules: []validation.Rule{validation.Required{}, validation.MaxLen{N: maxNameLength}}},
					{Field: "password", Rules: []validation.Rule{validation.Required{}, validation.MinLen{N: minPasswordLength}, validation.Confirmed{}}},
				},
				Persist:    []string{stateFirstName, stateLastName},
				SideEffect: hashPassword,
			},
			{
				Number: 4,
				Rules: validation.RuleSet{
					{Field: stateOrganizationName, Rules: []validation.Rule{validation.Required{}}},
				},
				Persist: []string{stateOrganizationName, stateDescription},
				Check: func(ctx context.Context, _ *model.WorkflowInstance, fields map[string]string) ([]model.FieldError, error) {
					name := strings.TrimSpace(fields[stateOrganizationName])
					_, err := entities.FindOrganizationByName(ctx, name)
					switch {
					case err == nil:
						return []model.FieldError{{
							Field:   stateOrganizationName,
							Code:    codeTaken,
							Message: "The organization name has already been taken.",
						}}, nil
					case model.HasCode(err, model.ErrNotFound):
						return nil, nil
					default:
						return nil, err
					}
				},
			},
		},
		Finalize: func(ctx context.Context, inst *model.WorkflowInstance) (string, *model.FinalizationResult, error) {
			var result model.FinalizationResult

			err := entities.InTx(ctx, func(tx store.Store) error {
				user := &model.User{
					ID:           uuid.New().String(),
					FirstName:    inst.State[stateFirstName],
					LastName:     inst.State[stateLastName],
					Email:        inst.State[stateEmail],
					PasswordHash: inst.State[statePasswordHash],
					Active:       true,
				}
				if err := tx.CreateUser(ctx, user); err != nil {
					return err
				}

				org := &model.Organization{
					ID:          uuid.New().String(),
					Name:        inst.State[stateOrganizationName],
					Description: inst.State[stateDescription],
					OwnerID:     user.ID,
				}
				if err := tx.CreateOrganization(ctx, org); err != nil {
					return err
				}

				for _, name := range defaultCategories {
					category := &model.Category{
						ID:             uuid.New().String(),
						Name:           name,
						UserID:         user.ID,
						OrganizationID: org.ID,
					}
					if err := tx.CreateCategory(ctx, category); err != nil {
						return err
					}
				}

				result = model.FinalizationResult{UserID: user.ID, OrganizationID: org.ID}
				return nil
			})
			if err != nil {
				return "", nil, err
			}

			logger.Info("organization registered",
				zap.String("organization_id", result.OrganizationID),
				zap.String("user_id", result.UserID))
			return registrationSuccessMessage, &result, nil
		},
	}
}

// hashPassword derives a bcrypt hash from the submitted password and stores
// only the hash. The plaintext never reaches the session store.
func hashPassword(_ context.Context, inst *model.WorkflowInstance, fields map[string]string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(fields["password"]), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	inst.State[statePasswordHash] = string(hash)
	return nil
}

// generateVerificationCode returns a uniformly random 6-digit code.
func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}
