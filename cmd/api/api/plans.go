package api

import (
	"context"
	"strings"

	"github.com/onkernel/layerbuild/lib/builds"
	"github.com/onkernel/layerbuild/lib/builds/templates"
	"github.com/onkernel/layerbuild/lib/dockerfile"
	"github.com/onkernel/layerbuild/lib/oapi"
)

// CreatePlan compiles a recipe against its inspected base image without
// building it
func (s *ApiService) CreatePlan(ctx context.Context, request oapi.CreatePlanRequestObject) (oapi.CreatePlanResponseObject, error) {
	recipe := request.Body.Recipe()
	if err := builds.ValidateRecipe(recipe); err != nil {
		if body, ok := stepFailure(err); ok {
			return oapi.CreatePlan422JSONResponse(body), nil
		}
		return oapi.CreatePlan400JSONResponse(errorBody("invalid_request", err)), nil
	}

	plan, _, err := builds.ResolvePlan(ctx, s.Inspector, recipe)
	if err != nil {
		if body, ok := stepFailure(err); ok {
			return oapi.CreatePlan422JSONResponse(body), nil
		}
		return nil, err
	}

	rendered, err := templates.Render(plan)
	if err != nil {
		return nil, err
	}
	return oapi.CreatePlan200JSONResponse{
		Base:         plan.Base.Pinned(),
		BaseDigest:   plan.Base.Digest,
		Steps:        plan.Steps,
		Summary:      plan.Summary(),
		FinalUser:    plan.FinalPrivilege().String(),
		Dockerfile:   rendered.Dockerfile,
		Instructions: rendered.Instructions,
	}, nil
}

// LintDockerfile checks a Dockerfile for privilege and ordering problems
func (s *ApiService) LintDockerfile(ctx context.Context, request oapi.LintDockerfileRequestObject) (oapi.LintDockerfileResponseObject, error) {
	instructions, err := dockerfile.Parse(strings.NewReader(request.Body.Dockerfile))
	if err != nil {
		return oapi.LintDockerfile400JSONResponse(errorBody("invalid_dockerfile", err)), nil
	}

	findings := dockerfile.Lint(instructions)
	if findings == nil {
		findings = []dockerfile.Finding{}
	}
	return oapi.LintDockerfile200JSONResponse{
		Findings:  findings,
		HasErrors: dockerfile.HasErrors(findings),
	}, nil
}
