package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	nethttpmiddleware "github.com/oapi-codegen/nethttp-middleware"

	"github.com/onkernel/layerbuild/cmd/api/config"
	"github.com/onkernel/layerbuild/lib/builds"
	"github.com/onkernel/layerbuild/lib/images"
	"github.com/onkernel/layerbuild/lib/layers"
	"github.com/onkernel/layerbuild/lib/logger"
	"github.com/onkernel/layerbuild/lib/oapi"
)

// ApiService implements the oapi.StrictServerInterface
type ApiService struct {
	Config       *config.Config
	BuildManager builds.Manager
	Inspector    builds.Inspector
}

var _ oapi.StrictServerInterface = (*ApiService)(nil)

// New creates a new ApiService
func New(
	config *config.Config,
	buildManager builds.Manager,
	inspector builds.Inspector,
) *ApiService {
	return &ApiService{
		Config:       config,
		BuildManager: buildManager,
		Inspector:    inspector,
	}
}

// requestTimeout bounds every operation except the streaming ones.
const requestTimeout = 60 * time.Second

// Routes mounts the API on r. auth, when non-nil, guards every operation
// that declares bearer security. Requests are validated against the
// OpenAPI document once authenticated.
func (s *ApiService) Routes(r chi.Router, auth func(http.Handler) http.Handler) error {
	swagger, err := oapi.GetSwagger()
	if err != nil {
		return err
	}
	validator := nethttpmiddleware.OapiRequestValidatorWithOptions(swagger, &nethttpmiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			writeError(w, statusCode, "invalid_request", message)
		},
		SilenceServersWarning: true,
	})

	middlewares := []oapi.MiddlewareFunc{validator}
	if auth != nil {
		middlewares = append(middlewares, requireBearer(auth))
	}

	strict := oapi.NewStrictHandlerWithOptions(s,
		[]oapi.StrictMiddlewareFunc{withTimeout(requestTimeout, "GetBuildEvents", "GetBuildLogs")},
		oapi.StrictHTTPServerOptions{
			RequestErrorHandlerFunc:  requestError,
			ResponseErrorHandlerFunc: responseError,
		})
	oapi.HandlerWithOptions(&server{ServerInterface: strict, svc: s}, oapi.ChiServerOptions{
		BaseRouter:  r,
		Middlewares: middlewares,
		ErrorHandlerFunc: func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		},
	})
	return nil
}

// server routes followed log requests to the websocket handler; everything
// else goes through the strict handler.
type server struct {
	oapi.ServerInterface
	svc *ApiService
}

func (s *server) GetBuildLogs(w http.ResponseWriter, r *http.Request, id string, params oapi.GetBuildLogsParams) {
	if params.Follow != nil && *params.Follow {
		s.svc.FollowBuildLogs(w, r, id)
		return
	}
	s.ServerInterface.GetBuildLogs(w, r, id, params)
}

// requireBearer applies auth to operations that carry bearer scopes.
func requireBearer(auth func(http.Handler) http.Handler) oapi.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		guarded := auth(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Value(oapi.BearerAuthScopes).([]string); ok {
				guarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withTimeout bounds the context of every operation not listed in skip.
func withTimeout(d time.Duration, skip ...string) oapi.StrictMiddlewareFunc {
	return func(f oapi.StrictHandlerFunc, operationID string) oapi.StrictHandlerFunc {
		if slices.Contains(skip, operationID) {
			return f
		}
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request, request interface{}) (interface{}, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return f(ctx, w, r, request)
		}
	}
}

// GetHealth reports liveness
func (s *ApiService) GetHealth(ctx context.Context, request oapi.GetHealthRequestObject) (oapi.GetHealthResponseObject, error) {
	return oapi.GetHealth200JSONResponse{Status: "ok"}, nil
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(oapi.Error{Code: code, Message: message})
}

// requestError reports a body that could not be decoded.
func requestError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
}

// responseError writes an error a handler did not map to a typed response.
func responseError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func errorResponse(err error) (int, oapi.Error) {
	if body, ok := stepFailure(err); ok {
		return http.StatusUnprocessableEntity, body
	}

	switch {
	case errors.Is(err, builds.ErrNotFound):
		return http.StatusNotFound, errorBody("not_found", err)
	case errors.Is(err, builds.ErrNotRendered):
		return http.StatusNotFound, errorBody("not_rendered", err)
	case errors.Is(err, builds.ErrAlreadyCompleted):
		return http.StatusConflict, errorBody("already_completed", err)
	case isInvalid(err):
		return http.StatusBadRequest, errorBody("invalid_request", err)
	case errors.Is(err, images.ErrNotFound):
		return http.StatusNotFound, errorBody("image_not_found", err)
	case errors.Is(err, images.ErrUnauthorized):
		return http.StatusBadGateway, errorBody("registry_unauthorized", err)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody("timeout", err)
	default:
		return http.StatusInternalServerError, errorBody("internal_error", err)
	}
}

// stepFailure converts an error raised at a plan step into its body. The
// code and step come from the build error taxonomy.
func stepFailure(err error) (oapi.Error, bool) {
	if _, ok := layers.AsStepError(err); !ok {
		return oapi.Error{}, false
	}
	be := builds.NewBuildError(err)
	return oapi.Error{Code: be.Code, Message: firstLine(err), Step: be.Step}, true
}

func isInvalid(err error) bool {
	return errors.Is(err, builds.ErrInvalidRequest) || errors.Is(err, images.ErrInvalidName)
}

func errorBody(code string, err error) oapi.Error {
	return oapi.Error{Code: code, Message: firstLine(err)}
}

func firstLine(err error) string {
	line, _, _ := strings.Cut(err.Error(), "\n")
	return line
}
