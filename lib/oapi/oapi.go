// Package oapi holds the server side of openapi.yaml in the shape
// oapi-codegen's chi strict server produces: models, request and response
// objects per operation, the chi router binding and the strict handler.
// Schemas marked x-go-type in openapi.yaml are the domain types themselves.
package oapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/onkernel/layerbuild"
	"github.com/onkernel/layerbuild/lib/builds"
	"github.com/onkernel/layerbuild/lib/builds/templates"
	"github.com/onkernel/layerbuild/lib/dockerfile"
	"github.com/onkernel/layerbuild/lib/images"
	"github.com/onkernel/layerbuild/lib/layers"
)

const (
	BearerAuthScopes = "bearerAuth.Scopes"
)

// Build defines model for Build.
type Build = builds.Build

// CreateBuildRequest defines model for CreateBuildRequest.
type CreateBuildRequest = builds.CreateBuildRequest

// Finding defines model for Finding.
type Finding = dockerfile.Finding

// Instruction defines model for Instruction.
type Instruction = templates.Instruction

// Step defines model for Step.
type Step = layers.Step

// BaseImageInfo defines model for BaseImageInfo.
type BaseImageInfo struct {
	*images.BaseImageInfo
	PackageManager images.PackageManager `json:"package_manager,omitempty"`
}

// Error defines model for Error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Step    *int   `json:"step,omitempty"`
}

// Health defines model for Health.
type Health struct {
	Status string `json:"status"`
}

// InspectRequest defines model for InspectRequest.
type InspectRequest struct {
	Image string `json:"image"`
}

// LintRequest defines model for LintRequest.
type LintRequest struct {
	Dockerfile string `json:"dockerfile"`
}

// LintResponse defines model for LintResponse.
type LintResponse struct {
	Findings  []Finding `json:"findings"`
	HasErrors bool      `json:"has_errors"`
}

// PlanResponse defines model for PlanResponse.
type PlanResponse struct {
	Base         string        `json:"base"`
	BaseDigest   string        `json:"base_digest,omitempty"`
	Steps        []Step        `json:"steps"`
	Summary      []string      `json:"summary"`
	FinalUser    string        `json:"final_user"`
	Dockerfile   string        `json:"dockerfile"`
	Instructions []Instruction `json:"instructions"`
}

// GetBuildLogsParams defines parameters for GetBuildLogs.
type GetBuildLogsParams struct {
	// Follow Upgrade to a websocket that streams log lines until the build finishes.
	Follow *bool `form:"follow,omitempty" json:"follow,omitempty"`
}

// CreateBuildJSONRequestBody defines body for CreateBuild for application/json ContentType.
type CreateBuildJSONRequestBody = CreateBuildRequest

// CreatePlanJSONRequestBody defines body for CreatePlan for application/json ContentType.
type CreatePlanJSONRequestBody = CreateBuildRequest

// InspectImageJSONRequestBody defines body for InspectImage for application/json ContentType.
type InspectImageJSONRequestBody = InspectRequest

// LintDockerfileJSONRequestBody defines body for LintDockerfile for application/json ContentType.
type LintDockerfileJSONRequestBody = LintRequest

// GetSwagger parses and validates the embedded OpenAPI document. Servers
// are dropped so that request validation matches on paths only.
func GetSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromData(layerbuild.OpenAPIYAML)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := swagger.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	swagger.Servers = nil
	return swagger, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, text string) error {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, err := io.WriteString(w, text)
	return err
}

type GetHealthRequestObject struct {
}

type GetHealthResponseObject interface {
	VisitGetHealthResponse(w http.ResponseWriter) error
}

type GetHealth200JSONResponse Health

func (response GetHealth200JSONResponse) VisitGetHealthResponse(w http.ResponseWriter) error {
	return writeJSON(w, 200, response)
}

type CreatePlanRequestObject struct {
	Body *CreatePlanJSONRequestBody
}

type CreatePlanResponseObject interface {
	VisitCreatePlanResponse(w http.ResponseWriter) error
}

type CreatePlan200JSONResponse PlanResponse

func (response CreatePlan200JSONResponse) VisitCreatePlanResponse(w http.ResponseWriter) error {
	return writeJSON(w, 200, response)
}

type CreatePlan400JSONResponse Error

func (response CreatePlan400JSONResponse) VisitCreatePlanResponse(w http.ResponseWriter) error {
	return writeJSON(w, 400, response)
}

type CreatePlan422JSONResponse Error

func (response CreatePlan422JSONResponse) VisitCreatePlanResponse(w http.ResponseWriter) error {
	return writeJSON(w, 422, response)
}

type LintDockerfileRequestObject struct {
	Body *LintDockerfileJSONRequestBody
}

type LintDockerfileResponseObject interface {
	VisitLintDockerfileResponse(w http.ResponseWriter) error
}

type LintDockerfile200JSONResponse LintResponse

func (response LintDockerfile200JSONResponse) VisitLintDockerfileResponse(w http.ResponseWriter) error {
	return writeJSON(w, 200, response)
}

type LintDockerfile400JSONResponse Error

func (response LintDockerfile400JSONResponse) VisitLintDockerfileResponse(w http.ResponseWriter) error {
	return writeJSON(w, 400, response)
}

type InspectImageRequestObject struct {
	Body *InspectImageJSONRequestBody
}

type InspectImageResponseObject interface {
	VisitInspectImageResponse(w http.ResponseWriter) error
}

type InspectImage200JSONResponse BaseImageInfo

func (response InspectImage200JSONResponse) VisitInspectImageResponse(w http.ResponseWriter) error {
	return writeJSON(w, 200, response)
}

type InspectImage400JSONResponse Error

func (response InspectImage400JSONResponse) VisitInspectImageResponse(w http.ResponseWriter) error {
	return writeJSON(w, 400, response)
}

type InspectImage404JSONResponse Error

func (response InspectImage404JSONResponse) VisitInspectImageResponse(w http.ResponseWriter) error {
	return writeJSON(w, 404, response)
}

type InspectImage502JSONResponse Error

func (response InspectImage502JSONResponse) VisitInspectImageResponse(w http.ResponseWriter) error {
	return writeJSON(w, 502, response)
}

type ListBuildsRequestObject struct {
}

type ListBuildsResponseObject interface {
	VisitListBuildsResponse(w http.ResponseWriter) error
}

type ListBuilds200JSONResponse []Build

func (response ListBuilds200JSONResponse) VisitListBuildsResponse(w http.ResponseWriter) error {
	return writeJSON(w, 200, response)
}

type CreateBuildRequestObject struct {
	Body *CreateBuildJSONRequestBody
}

type CreateBuildResponseObject interface {
	VisitCreateBuildResponse(w http.ResponseWriter) error
}

type CreateBuild202JSONResponse Build

func (response CreateBuild202JSONResponse) VisitCreateBuildResponse(w http.ResponseWriter) error {
	return writeJSON(w, 202, response)
}

type CreateBuild400JSONResponse Error

func (response CreateBuild400JSONResponse) VisitCreateBuildResponse(w http.ResponseWriter) error {
	return writeJSON(w, 400, response)
}

type CreateBuild422JSONResponse Error

func (response CreateBuild422JSONResponse) VisitCreateBuildResponse(w http.ResponseWriter) error {
	return writeJSON(w, 422, response)
}

type CancelBuildRequestObject struct {
	Id string `json:"id"`
}

type CancelBuildResponseObject interface {
	VisitCancelBuildResponse(w http.ResponseWriter) error
}

type CancelBuild200JSONResponse Build

func (response CancelBuild200JSONResponse) VisitCancelBuildResponse(w http.ResponseWriter) error {
	return writeJSON(w, 200, response)
}

type CancelBuild404JSONResponse Error

func (response CancelBuild404JSONResponse) VisitCancelBuildResponse(w http.ResponseWriter) error {
	return writeJSON(w, 404, response)
}

type CancelBuild409JSONResponse Error

func (response CancelBuild409JSONResponse) VisitCancelBuildResponse(w http.ResponseWriter) error {
	return writeJSON(w, 409, response)
}

type GetBuildRequestObject struct {
	Id string `json:"id"`
}

type GetBuildResponseObject interface {
	VisitGetBuildResponse(w http.ResponseWriter) error
}

type GetBuild200JSONResponse Build

func (response GetBuild200JSONResponse) VisitGetBuildResponse(w http.ResponseWriter) error {
	return writeJSON(w, 200, response)
}

type GetBuild404JSONResponse Error

func (response GetBuild404JSONResponse) VisitGetBuildResponse(w http.ResponseWriter) error {
	return writeJSON(w, 404, response)
}

type GetBuildDockerfileRequestObject struct {
	Id string `json:"id"`
}

type GetBuildDockerfileResponseObject interface {
	VisitGetBuildDockerfileResponse(w http.ResponseWriter) error
}

type GetBuildDockerfile200TextResponse string

func (response GetBuildDockerfile200TextResponse) VisitGetBuildDockerfileResponse(w http.ResponseWriter) error {
	return writeText(w, 200, string(response))
}

type GetBuildDockerfile404JSONResponse Error

func (response GetBuildDockerfile404JSONResponse) VisitGetBuildDockerfileResponse(w http.ResponseWriter) error {
	return writeJSON(w, 404, response)
}

type GetBuildEventsRequestObject struct {
	Id string `json:"id"`
}

type GetBuildEventsResponseObject interface {
	VisitGetBuildEventsResponse(w http.ResponseWriter) error
}

type GetBuildEvents200TexteventStreamResponse struct {
	Body          io.Reader
	ContentLength int64
}

func (response GetBuildEvents200TexteventStreamResponse) VisitGetBuildEventsResponse(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "text/event-stream")
	if response.ContentLength != 0 {
		w.Header().Set("Content-Length", fmt.Sprint(response.ContentLength))
	}
	w.WriteHeader(200)

	if closer, ok := response.Body.(io.ReadCloser); ok {
		defer closer.Close()
	}
	_, err := io.Copy(w, response.Body)
	return err
}

type GetBuildEvents404JSONResponse Error

func (response GetBuildEvents404JSONResponse) VisitGetBuildEventsResponse(w http.ResponseWriter) error {
	return writeJSON(w, 404, response)
}

type GetBuildLogsRequestObject struct {
	Id     string `json:"id"`
	Params GetBuildLogsParams
}

type GetBuildLogsResponseObject interface {
	VisitGetBuildLogsResponse(w http.ResponseWriter) error
}

type GetBuildLogs200TextResponse string

func (response GetBuildLogs200TextResponse) VisitGetBuildLogsResponse(w http.ResponseWriter) error {
	return writeText(w, 200, string(response))
}

type GetBuildLogs404JSONResponse Error

func (response GetBuildLogs404JSONResponse) VisitGetBuildLogsResponse(w http.ResponseWriter) error {
	return writeJSON(w, 404, response)
}
