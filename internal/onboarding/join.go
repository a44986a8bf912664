package onboarding

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/internal/validation"
	"github.com/pitabwire/onboard/internal/workflow"
	"github.com/pitabwire/onboard/model"
)

// JoinDefinition builds the two-step workflow for joining an existing
// organization. Step one pins the target organization; step two verifies the
// applicant's email belongs to it and creates a pending user. No
// organization or category records are created on this path.
func JoinDefinition(entities store.Store, logger *zap.Logger) *workflow.Definition {
	return &workflow.Definition{
		Kind: model.KindJoin,
		Steps: []workflow.Step{
			{
				Number: 1,
				Rules: validation.RuleSet{
					{Field: stateOrganizationName, Rules: []validation.Rule{validation.Required{}}},
				},
				Persist: []string{stateOrganizationName},
				Check: func(ctx context.Context, inst *model.WorkflowInstance, fields map[string]string) ([]model.FieldError, error) {
					name := strings.TrimSpace(fields[stateOrganizationName])
					org, err := entities.FindOrganizationByName(ctx, name)
					if err != nil {
						if model.HasCode(err, model.ErrNotFound) {
							return []model.FieldError{{
								Field:   stateOrganizationName,
								Code:    codeExists,
								Message: "Specified organization does not exist.",
							}}, nil
						}
						return nil, err
					}

					// Pin the resolved organization so the membership check
					// in step two cannot drift if it is renamed meanwhile.
					inst.State[stateOrganizationID] = org.ID
					return nil, nil
				},
			},
			{
				Number: 2,
				Rules: validation.RuleSet{
					{Field: stateEmail, Rules: []validation.Rule{validation.Required{}, validation.Email{}}},
					{Field: "password", Rules: []validation.Rule{validation.Required{}, validation.Confirmed{}}},
				},
				Persist: []string{stateEmail, stateFirstName, stateLastName},
				Check: func(ctx context.Context, inst *model.WorkflowInstance, fields map[string]string) ([]model.FieldError, error) {
					email := strings.TrimSpace(fields[stateEmail])
					member, err := entities.EmailInOrganization(ctx, inst.State[stateOrganizationID], email)
					if err != nil {
						return nil, err
					}
					if !member {
						return []model.FieldError{{
							Field:   stateEmail,
							Code:    codeNotMember,
							Message: "The email does not belong to this organization.",
						}}, nil
					}
					return nil, nil
				},
				SideEffect: hashPassword,
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
					Active:       false,
				}
				if err := tx.CreateUser(ctx, user); err != nil {
					return err
				}
				result = model.FinalizationResult{UserID: user.ID}
				return nil
			})
			if err != nil {
				return "", nil, err
			}

			logger.Info("membership request recorded",
				zap.String("user_id", result.UserID),
				zap.String("organization_id", inst.State[stateOrganizationID]))
			message := fmt.Sprintf(
				"A request is sent to admins for joining this %s organization. You will be notified on your email.",
				inst.State[stateOrganizationName],
			)
			return message, &result, nil
		},
	}
}
