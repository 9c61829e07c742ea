package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/onkernel/layerbuild/lib/builds"
	"github.com/onkernel/layerbuild/lib/logger"
	"github.com/onkernel/layerbuild/lib/oapi"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// CreateBuild validates the recipe and queues a build
func (s *ApiService) CreateBuild(ctx context.Context, request oapi.CreateBuildRequestObject) (oapi.CreateBuildResponseObject, error) {
	build, err := s.BuildManager.CreateBuild(ctx, *request.Body)
	if err != nil {
		if body, ok := stepFailure(err); ok {
			return oapi.CreateBuild422JSONResponse(body), nil
		}
		if isInvalid(err) {
			return oapi.CreateBuild400JSONResponse(errorBody("invalid_request", err)), nil
		}
		return nil, err
	}
	return oapi.CreateBuild202JSONResponse(*build), nil
}

// ListBuilds lists all builds
func (s *ApiService) ListBuilds(ctx context.Context, request oapi.ListBuildsRequestObject) (oapi.ListBuildsResponseObject, error) {
	list, err := s.BuildManager.ListBuilds(ctx)
	if err != nil {
		return nil, err
	}
	return oapi.ListBuilds200JSONResponse(lo.FromSlicePtr(list)), nil
}

// GetBuild gets build details
func (s *ApiService) GetBuild(ctx context.Context, request oapi.GetBuildRequestObject) (oapi.GetBuildResponseObject, error) {
	build, err := s.BuildManager.GetBuild(ctx, request.Id)
	if err != nil {
		if errors.Is(err, builds.ErrNotFound) {
			return oapi.GetBuild404JSONResponse(errorBody("not_found", err)), nil
		}
		return nil, err
	}
	return oapi.GetBuild200JSONResponse(*build), nil
}

// CancelBuild cancels a queued or running build and returns its final state
func (s *ApiService) CancelBuild(ctx context.Context, request oapi.CancelBuildRequestObject) (oapi.CancelBuildResponseObject, error) {
	if err := s.BuildManager.CancelBuild(ctx, request.Id); err != nil {
		switch {
		case errors.Is(err, builds.ErrNotFound):
			return oapi.CancelBuild404JSONResponse(errorBody("not_found", err)), nil
		case errors.Is(err, builds.ErrAlreadyCompleted):
			return oapi.CancelBuild409JSONResponse(errorBody("already_completed", err)), nil
		default:
			return nil, err
		}
	}
	build, err := s.BuildManager.GetBuild(ctx, request.Id)
	if err != nil {
		return nil, err
	}
	return oapi.CancelBuild200JSONResponse(*build), nil
}

// GetBuildDockerfile returns the rendered Dockerfile of a build
func (s *ApiService) GetBuildDockerfile(ctx context.Context, request oapi.GetBuildDockerfileRequestObject) (oapi.GetBuildDockerfileResponseObject, error) {
	dockerfile, err := s.BuildManager.GetDockerfile(ctx, request.Id)
	if err != nil {
		switch {
		case errors.Is(err, builds.ErrNotFound):
			return oapi.GetBuildDockerfile404JSONResponse(errorBody("not_found", err)), nil
		case errors.Is(err, builds.ErrNotRendered):
			return oapi.GetBuildDockerfile404JSONResponse(errorBody("not_rendered", err)), nil
		default:
			return nil, err
		}
	}
	return oapi.GetBuildDockerfile200TextResponse(dockerfile), nil
}

// GetBuildEvents streams progress updates as server-sent events until the
// build finishes or the client goes away
func (s *ApiService) GetBuildEvents(ctx context.Context, request oapi.GetBuildEventsRequestObject) (oapi.GetBuildEventsResponseObject, error) {
	updates, err := s.BuildManager.Subscribe(ctx, request.Id)
	if err != nil {
		if errors.Is(err, builds.ErrNotFound) {
			return oapi.GetBuildEvents404JSONResponse(errorBody("not_found", err)), nil
		}
		return nil, err
	}
	return eventStream{body: builds.ToSSEReader(updates)}, nil
}

// eventStream writes server-sent events, flushing after each write so
// every event reaches the client as soon as it is produced.
type eventStream struct {
	body io.ReadCloser
}

func (e eventStream) VisitGetBuildEventsResponse(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	defer e.body.Close()
	// a client going away ends the stream; headers are already out
	io.Copy(&flushWriter{w: w, rc: http.NewResponseController(w)}, e.body)
	return nil
}

type flushWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if err := f.rc.Flush(); err != nil {
		return n, err
	}
	return n, nil
}

// GetBuildLogs returns the engine output of a build
func (s *ApiService) GetBuildLogs(ctx context.Context, request oapi.GetBuildLogsRequestObject) (oapi.GetBuildLogsResponseObject, error) {
	data, err := s.BuildManager.GetBuildLogs(ctx, request.Id)
	if err != nil {
		if errors.Is(err, builds.ErrNotFound) {
			return oapi.GetBuildLogs404JSONResponse(errorBody("not_found", err)), nil
		}
		return nil, err
	}
	return oapi.GetBuildLogs200TextResponse(data), nil
}

// FollowBuildLogs upgrades the connection to a websocket that carries one
// text message per log line and closes normally when the build finishes.
func (s *ApiService) FollowBuildLogs(w http.ResponseWriter, r *http.Request, id string) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	lines, err := s.BuildManager.StreamBuildLogs(ctx, id)
	if err != nil {
		responseError(w, r, err)
		return
	}

	log := logger.FromContext(ctx)
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// the client never sends; a failed read means it closed the connection
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for line := range lines {
		if ctx.Err() != nil {
			return
		}
		ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := ws.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			log.DebugContext(ctx, "log stream client went away", "id", id, "error", err)
			return
		}
	}

	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "build finished"),
		time.Now().Add(time.Second))
}
