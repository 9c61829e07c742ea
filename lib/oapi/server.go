package oapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {

	// (GET /builds)
	ListBuilds(w http.ResponseWriter, r *http.Request)

	// (POST /builds)
	CreateBuild(w http.ResponseWriter, r *http.Request)

	// (DELETE /builds/{id})
	CancelBuild(w http.ResponseWriter, r *http.Request, id string)

	// (GET /builds/{id})
	GetBuild(w http.ResponseWriter, r *http.Request, id string)

	// (GET /builds/{id}/dockerfile)
	GetBuildDockerfile(w http.ResponseWriter, r *http.Request, id string)

	// (GET /builds/{id}/events)
	GetBuildEvents(w http.ResponseWriter, r *http.Request, id string)

	// (GET /builds/{id}/logs)
	GetBuildLogs(w http.ResponseWriter, r *http.Request, id string, params GetBuildLogsParams)

	// (GET /health)
	GetHealth(w http.ResponseWriter, r *http.Request)

	// (POST /images/inspect)
	InspectImage(w http.ResponseWriter, r *http.Request)

	// (POST /lint)
	LintDockerfile(w http.ResponseWriter, r *http.Request)

	// (POST /plans)
	CreatePlan(w http.ResponseWriter, r *http.Request)
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

type MiddlewareFunc func(http.Handler) http.Handler

// serve runs h behind the handler middlewares. The last middleware is the
// outermost.
func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, h http.HandlerFunc) {
	handler := http.Handler(h)
	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}
	handler.ServeHTTP(w, r)
}

func withBearerScopes(r *http.Request) *http.Request {
	ctx := context.WithValue(r.Context(), BearerAuthScopes, []string{})
	return r.WithContext(ctx)
}

// bindID binds the {id} path parameter.
func (siw *ServerInterfaceWrapper) bindID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id, runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return "", false
	}
	return id, true
}

// ListBuilds operation middleware
func (siw *ServerInterfaceWrapper) ListBuilds(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, withBearerScopes(r), func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListBuilds(w, r)
	})
}

// CreateBuild operation middleware
func (siw *ServerInterfaceWrapper) CreateBuild(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, withBearerScopes(r), func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.CreateBuild(w, r)
	})
}

// CancelBuild operation middleware
func (siw *ServerInterfaceWrapper) CancelBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}
	siw.serve(w, withBearerScopes(r), func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.CancelBuild(w, r, id)
	})
}

// GetBuild operation middleware
func (siw *ServerInterfaceWrapper) GetBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}
	siw.serve(w, withBearerScopes(r), func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetBuild(w, r, id)
	})
}

// GetBuildDockerfile operation middleware
func (siw *ServerInterfaceWrapper) GetBuildDockerfile(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}
	siw.serve(w, withBearerScopes(r), func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetBuildDockerfile(w, r, id)
	})
}

// GetBuildEvents operation middleware
func (siw *ServerInterfaceWrapper) GetBuildEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}
	siw.serve(w, withBearerScopes(r), func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetBuildEvents(w, r, id)
	})
}

// GetBuildLogs operation middleware
func (siw *ServerInterfaceWrapper) GetBuildLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}

	// Parameter object where we will unmarshal all parameters from the context
	var params GetBuildLogsParams

	err := runtime.BindQueryParameter("form", true, false, "follow", r.URL.Query(), &params.Follow)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "follow", Err: err})
		return
	}

	siw.serve(w, withBearerScopes(r), func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetBuildLogs(w, r, id, params)
	})
}

// GetHealth operation middleware
func (siw *ServerInterfaceWrapper) GetHealth(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetHealth(w, r)
	})
}

// InspectImage operation middleware
func (siw *ServerInterfaceWrapper) InspectImage(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, withBearerScopes(r), func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.InspectImage(w, r)
	})
}

// LintDockerfile operation middleware
func (siw *ServerInterfaceWrapper) LintDockerfile(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, withBearerScopes(r), func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.LintDockerfile(w, r)
	})
}

// CreatePlan operation middleware
func (siw *ServerInterfaceWrapper) CreatePlan(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, withBearerScopes(r), func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.CreatePlan(w, r)
	})
}

type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// Handler creates http.Handler with routing matching openapi.yaml.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

// HandlerWithOptions creates http.Handler with additional options
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter

	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/builds", wrapper.ListBuilds)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/builds", wrapper.CreateBuild)
	})
	r.Group(func(r chi.Router) {
		r.Delete(options.BaseURL+"/builds/{id}", wrapper.CancelBuild)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/builds/{id}", wrapper.GetBuild)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/builds/{id}/dockerfile", wrapper.GetBuildDockerfile)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/builds/{id}/events", wrapper.GetBuildEvents)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/builds/{id}/logs", wrapper.GetBuildLogs)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/health", wrapper.GetHealth)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/images/inspect", wrapper.InspectImage)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/lint", wrapper.LintDockerfile)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/plans", wrapper.CreatePlan)
	})

	return r
}
