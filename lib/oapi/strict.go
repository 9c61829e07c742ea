package oapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	strictnethttp "github.com/oapi-codegen/runtime/strictmiddleware/nethttp"
)

type StrictHandlerFunc = strictnethttp.StrictHTTPHandlerFunc
type StrictMiddlewareFunc = strictnethttp.StrictHTTPMiddlewareFunc

type StrictHTTPServerOptions struct {
	RequestErrorHandlerFunc  func(w http.ResponseWriter, r *http.Request, err error)
	ResponseErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// StrictServerInterface represents all server handlers.
type StrictServerInterface interface {

	// (GET /builds)
	ListBuilds(ctx context.Context, request ListBuildsRequestObject) (ListBuildsResponseObject, error)

	// (POST /builds)
	CreateBuild(ctx context.Context, request CreateBuildRequestObject) (CreateBuildResponseObject, error)

	// (DELETE /builds/{id})
	CancelBuild(ctx context.Context, request CancelBuildRequestObject) (CancelBuildResponseObject, error)

	// (GET /builds/{id})
	GetBuild(ctx context.Context, request GetBuildRequestObject) (GetBuildResponseObject, error)

	// (GET /builds/{id}/dockerfile)
	GetBuildDockerfile(ctx context.Context, request GetBuildDockerfileRequestObject) (GetBuildDockerfileResponseObject, error)

	// (GET /builds/{id}/events)
	GetBuildEvents(ctx context.Context, request GetBuildEventsRequestObject) (GetBuildEventsResponseObject, error)

	// (GET /builds/{id}/logs)
	GetBuildLogs(ctx context.Context, request GetBuildLogsRequestObject) (GetBuildLogsResponseObject, error)

	// (GET /health)
	GetHealth(ctx context.Context, request GetHealthRequestObject) (GetHealthResponseObject, error)

	// (POST /images/inspect)
	InspectImage(ctx context.Context, request InspectImageRequestObject) (InspectImageResponseObject, error)

	// (POST /lint)
	LintDockerfile(ctx context.Context, request LintDockerfileRequestObject) (LintDockerfileResponseObject, error)

	// (POST /plans)
	CreatePlan(ctx context.Context, request CreatePlanRequestObject) (CreatePlanResponseObject, error)
}

func NewStrictHandler(ssi StrictServerInterface, middlewares []StrictMiddlewareFunc) ServerInterface {
	return &strictHandler{ssi: ssi, middlewares: middlewares, options: StrictHTTPServerOptions{
		RequestErrorHandlerFunc: func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		},
		ResponseErrorHandlerFunc: func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		},
	}}
}

func NewStrictHandlerWithOptions(ssi StrictServerInterface, middlewares []StrictMiddlewareFunc, options StrictHTTPServerOptions) ServerInterface {
	return &strictHandler{ssi: ssi, middlewares: middlewares, options: options}
}

type strictHandler struct {
	ssi         StrictServerInterface
	middlewares []StrictMiddlewareFunc
	options     StrictHTTPServerOptions
}

// handle runs call behind the strict middlewares and returns its response,
// reporting errors through the response error handler.
func (sh *strictHandler) handle(w http.ResponseWriter, r *http.Request, operationID string, request any, call StrictHandlerFunc) any {
	handler := call
	for _, middleware := range sh.middlewares {
		handler = middleware(handler, operationID)
	}
	response, err := handler(r.Context(), w, r, request)
	if err != nil {
		sh.options.ResponseErrorHandlerFunc(w, r, err)
		return nil
	}
	return response
}

func (sh *strictHandler) unexpected(w http.ResponseWriter, r *http.Request, response any) {
	if response != nil {
		sh.options.ResponseErrorHandlerFunc(w, r, fmt.Errorf("unexpected response type: %T", response))
	}
}

func (sh *strictHandler) visited(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		sh.options.ResponseErrorHandlerFunc(w, r, err)
	}
}

// decodeBody decodes the JSON body into body, reporting failures through
// the request error handler.
func (sh *strictHandler) decodeBody(w http.ResponseWriter, r *http.Request, body any) bool {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		sh.options.RequestErrorHandlerFunc(w, r, fmt.Errorf("can't decode JSON body: %w", err))
		return false
	}
	return true
}

// ListBuilds operation middleware
func (sh *strictHandler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	var request ListBuildsRequestObject

	response := sh.handle(w, r, "ListBuilds", request, func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
		return sh.ssi.ListBuilds(ctx, request.(ListBuildsRequestObject))
	})
	if validResponse, ok := response.(ListBuildsResponseObject); ok {
		sh.visited(w, r, validResponse.VisitListBuildsResponse(w))
	} else {
		sh.unexpected(w, r, response)
	}
}

// CreateBuild operation middleware
func (sh *strictHandler) CreateBuild(w http.ResponseWriter, r *http.Request) {
	var request CreateBuildRequestObject

	var body CreateBuildJSONRequestBody
	if !sh.decodeBody(w, r, &body) {
		return
	}
	request.Body = &body

	response := sh.handle(w, r, "CreateBuild", request, func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
		return sh.ssi.CreateBuild(ctx, request.(CreateBuildRequestObject))
	})
	if validResponse, ok := response.(CreateBuildResponseObject); ok {
		sh.visited(w, r, validResponse.VisitCreateBuildResponse(w))
	} else {
		sh.unexpected(w, r, response)
	}
}

// CancelBuild operation middleware
func (sh *strictHandler) CancelBuild(w http.ResponseWriter, r *http.Request, id string) {
	var request CancelBuildRequestObject

	request.Id = id

	response := sh.handle(w, r, "CancelBuild", request, func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
		return sh.ssi.CancelBuild(ctx, request.(CancelBuildRequestObject))
	})
	if validResponse, ok := response.(CancelBuildResponseObject); ok {
		sh.visited(w, r, validResponse.VisitCancelBuildResponse(w))
	} else {
		sh.unexpected(w, r, response)
	}
}

// GetBuild operation middleware
func (sh *strictHandler) GetBuild(w http.ResponseWriter, r *http.Request, id string) {
	var request GetBuildRequestObject

	request.Id = id

	response := sh.handle(w, r, "GetBuild", request, func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
		return sh.ssi.GetBuild(ctx, request.(GetBuildRequestObject))
	})
	if validResponse, ok := response.(GetBuildResponseObject); ok {
		sh.visited(w, r, validResponse.VisitGetBuildResponse(w))
	} else {
		sh.unexpected(w, r, response)
	}
}

// GetBuildDockerfile operation middleware
func (sh *strictHandler) GetBuildDockerfile(w http.ResponseWriter, r *http.Request, id string) {
	var request GetBuildDockerfileRequestObject

	request.Id = id

	response := sh.handle(w, r, "GetBuildDockerfile", request, func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
		return sh.ssi.GetBuildDockerfile(ctx, request.(GetBuildDockerfileRequestObject))
	})
	if validResponse, ok := response.(GetBuildDockerfileResponseObject); ok {
		sh.visited(w, r, validResponse.VisitGetBuildDockerfileResponse(w))
	} else {
		sh.unexpected(w, r, response)
	}
}

// GetBuildEvents operation middleware
func (sh *strictHandler) GetBuildEvents(w http.ResponseWriter, r *http.Request, id string) {
	var request GetBuildEventsRequestObject

	request.Id = id

	response := sh.handle(w, r, "GetBuildEvents", request, func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
		return sh.ssi.GetBuildEvents(ctx, request.(GetBuildEventsRequestObject))
	})
	if validResponse, ok := response.(GetBuildEventsResponseObject); ok {
		sh.visited(w, r, validResponse.VisitGetBuildEventsResponse(w))
	} else {
		sh.unexpected(w, r, response)
	}
}

// GetBuildLogs operation middleware
func (sh *strictHandler) GetBuildLogs(w http.ResponseWriter, r *http.Request, id string, params GetBuildLogsParams) {
	var request GetBuildLogsRequestObject

	request.Id = id
	request.Params = params

	response := sh.handle(w, r, "GetBuildLogs", request, func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
		return sh.ssi.GetBuildLogs(ctx, request.(GetBuildLogsRequestObject))
	})
	if validResponse, ok := response.(GetBuildLogsResponseObject); ok {
		sh.visited(w, r, validResponse.VisitGetBuildLogsResponse(w))
	} else {
		sh.unexpected(w, r, response)
	}
}

// GetHealth operation middleware
func (sh *strictHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	var request GetHealthRequestObject

	response := sh.handle(w, r, "GetHealth", request, func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
		return sh.ssi.GetHealth(ctx, request.(GetHealthRequestObject))
	})
	if validResponse, ok := response.(GetHealthResponseObject); ok {
		sh.visited(w, r, validResponse.VisitGetHealthResponse(w))
	} else {
		sh.unexpected(w, r, response)
	}
}

// InspectImage operation middleware
func (sh *strictHandler) InspectImage(w http.ResponseWriter, r *http.Request) {
	var request InspectImageRequestObject

	var body InspectImageJSONRequestBody
	if !sh.decodeBody(w, r, &body) {
		return
	}
	request.Body = &body

	response := sh.handle(w, r, "InspectImage", request, func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
		return sh.ssi.InspectImage(ctx, request.(InspectImageRequestObject))
	})
	if validResponse, ok := response.(InspectImageResponseObject); ok {
		sh.visited(w, r, validResponse.VisitInspectImageResponse(w))
	} else {
		sh.unexpected(w, r, response)
	}
}

// LintDockerfile operation middleware
func (sh *strictHandler) LintDockerfile(w http.ResponseWriter, r *http.Request) {
	var request LintDockerfileRequestObject

	var body LintDockerfileJSONRequestBody
	if !sh.decodeBody(w, r, &body) {
		return
	}
	request.Body = &body

	response := sh.handle(w, r, "LintDockerfile", request, func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
		return sh.ssi.LintDockerfile(ctx, request.(LintDockerfileRequestObject))
	})
	if validResponse, ok := response.(LintDockerfileResponseObject); ok {
		sh.visited(w, r, validResponse.VisitLintDockerfileResponse(w))
	} else {
		sh.unexpected(w, r, response)
	}
}

// CreatePlan operation middleware
func (sh *strictHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var request CreatePlanRequestObject

	var body CreatePlanJSONRequestBody
	if !sh.decodeBody(w, r, &body) {
		return
	}
	request.Body = &body

	response := sh.handle(w, r, "CreatePlan", request, func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
		return sh.ssi.CreatePlan(ctx, request.(CreatePlanRequestObject))
	})
	if validResponse, ok := response.(CreatePlanResponseObject); ok {
		sh.visited(w, r, validResponse.VisitCreatePlanResponse(w))
	} else {
		sh.unexpected(w, r, response)
	}
}
