package builds

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nrednav/cuid2"
	gotel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/onkernel/layerbuild/lib/builds/templates"
	"github.com/onkernel/layerbuild/lib/images"
	"github.com/onkernel/layerbuild/lib/layers"
	"github.com/onkernel/layerbuild/lib/logger"
	"github.com/onkernel/layerbuild/lib/paths"
)

// BuildIDLabel is set on every image the manager builds.
const BuildIDLabel = "dev.layerbuild.build-id"

// Inspector resolves and inspects base images.
type Inspector interface {
	Inspect(ctx context.Context, ref *images.NormalizedRef) (*images.BaseImageInfo, error)
}

// Manager interface for the build system
type Manager interface {
	// CreateBuild validates the recipe and queues a build
	CreateBuild(ctx context.Context, req CreateBuildRequest) (*Build, error)

	// GetBuild returns a build by ID
	GetBuild(ctx context.Context, id string) (*Build, error)

	// ListBuilds returns all builds, oldest first
	ListBuilds(ctx context.Context) ([]*Build, error)

	// CancelBuild cancels a queued or running build
	CancelBuild(ctx context.Context, id string) error

	// GetBuildLogs returns the engine output of a build
	GetBuildLogs(ctx context.Context, id string) ([]byte, error)

	// StreamBuildLogs returns log lines as they are written until the
	// build finishes or ctx is done
	StreamBuildLogs(ctx context.Context, id string) (<-chan string, error)

	// GetDockerfile returns the rendered Dockerfile of a build
	GetDockerfile(ctx context.Context, id string) (string, error)

	// Subscribe streams progress updates, starting with the current state
	Subscribe(ctx context.Context, id string) (<-chan ProgressUpdate, error)

	// Wait blocks until the build is terminal
	Wait(ctx context.Context, id string) (*Build, error)

	// RecoverPendingBuilds requeues builds left over from a previous run
	RecoverPendingBuilds()
}

// Config holds configuration for the build manager
type Config struct {
	// MaxConcurrentBuilds is the maximum number of concurrent builds
	MaxConcurrentBuilds int

	// DefaultTimeout bounds a build unless the request sets its own
	DefaultTimeout time.Duration
}

// DefaultConfig returns the default build manager configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentBuilds: 2,
		DefaultTimeout:      10 * time.Minute,
	}
}

type manager struct {
	config    Config
	paths     *paths.Paths
	inspector Inspector
	engine    Engine
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	queue     *BuildQueue

	mu       sync.Mutex
	trackers map[string]*ProgressTracker
	cancels  map[string]context.CancelFunc
}

// NewManager creates a new build manager and recovers builds left on disk.
func NewManager(
	p *paths.Paths,
	config Config,
	inspector Inspector,
	engine Engine,
	log *slog.Logger,
	meter metric.Meter,
) (Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}

	m := &manager{
		config:    config,
		paths:     p,
		inspector: inspector,
		engine:    engine,
		logger:    log,
		tracer:    gotel.Tracer("github.com/onkernel/layerbuild/lib/builds"),
		queue:     NewBuildQueue(config.MaxConcurrentBuilds),
		trackers:  make(map[string]*ProgressTracker),
		cancels:   make(map[string]context.CancelFunc),
	}

	if meter != nil {
		metrics, err := NewMetrics(meter, m.queue)
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		m.metrics = metrics
	}

	m.RecoverPendingBuilds()
	return m, nil
}

// CreateBuild validates the recipe and queues a build
func (m *manager) CreateBuild(ctx context.Context, req CreateBuildRequest) (*Build, error) {
	recipe := req.Recipe()
	if err := ValidateRecipe(recipe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("%w: timeout_seconds must not be negative", ErrInvalidRequest)
	}

	id := cuid2.Generate()
	meta := &buildMetadata{
		ID:        id,
		Name:      recipe.Name,
		Status:    StatusQueued,
		Request:   req,
		Tag:       req.Tag,
		CreatedAt: time.Now(),
	}
	if err := writeMetadata(m.paths, meta); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	tracker := m.newTracker(id)
	pos := m.queue.Enqueue(id, func() { m.runBuild(context.Background(), id) })
	if pos > 0 {
		tracker.Update(func(meta *buildMetadata) {
			if meta.Status == StatusQueued {
				meta.QueuePosition = &pos
			}
		})
	}

	logger.FromContext(ctx).InfoContext(ctx, "build queued", "id", id, "name", recipe.Name, "base", recipe.Base, "queue_position", pos)
	return m.GetBuild(ctx, id)
}

func (m *manager) newTracker(id string) *ProgressTracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := NewProgressTracker(id, m.paths)
	m.trackers[id] = t
	return t
}

func (m *manager) tracker(id string) *ProgressTracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackers[id]
}

func (m *manager) release(id string) {
	m.mu.Lock()
	t := m.trackers[id]
	delete(m.trackers, id)
	delete(m.cancels, id)
	m.mu.Unlock()
	if t != nil {
		t.Close()
	}
}

type buildResult struct {
	imageID string
}

// runBuild executes one build. It holds a queue slot until it returns.
func (m *manager) runBuild(ctx context.Context, id string) {
	defer m.queue.MarkComplete(id)
	defer m.release(id)

	// The cancel func is registered before the record is read so that a
	// concurrent CancelBuild either sees it or marks the record first.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()

	meta, err := readMetadata(m.paths, id)
	if err != nil {
		m.logger.Error("failed to read metadata at build start", "id", id, "error", err)
		return
	}
	if isTerminalStatus(meta.Status) {
		m.logger.Info("build already in terminal state, skipping", "id", id, "status", meta.Status)
		return
	}

	timeout := m.config.DefaultTimeout
	if meta.Request.TimeoutSeconds > 0 {
		timeout = time.Duration(meta.Request.TimeoutSeconds) * time.Second
	}
	buildCtx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	buildCtx, span := m.tracer.Start(buildCtx, "build", trace.WithAttributes(
		attribute.String("build.id", id),
		attribute.String("build.base", meta.Request.Base),
	))
	defer span.End()

	log := m.logger.With("id", id)
	buildCtx = logger.AddToContext(buildCtx, log)

	tracker := m.tracker(id)
	if tracker == nil {
		tracker = m.newTracker(id)
	}

	start := time.Now()
	updated, err := tracker.Update(func(meta *buildMetadata) {
		meta.Status = StatusResolving
		meta.QueuePosition = nil
		meta.StartedAt = &start
	})
	if err != nil {
		log.ErrorContext(buildCtx, "failed to record build start", "error", err)
		return
	}
	if !updated {
		log.InfoContext(buildCtx, "build cancelled before start")
		return
	}
	log.InfoContext(buildCtx, "starting build", "timeout", timeout)

	result, err := m.executeBuild(buildCtx, id, meta.Request, tracker)
	m.cleanup(id)
	duration := time.Since(start)
	durationMS := duration.Milliseconds()

	if err != nil {
		if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrBuildTimeout, timeout)
		}
		be := NewBuildError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, be.Message)

		updated, _ := tracker.Update(func(meta *buildMetadata) {
			meta.Status = StatusFailed
			meta.Error = be
			meta.CompletedAt = timePtr(time.Now())
			meta.DurationMS = &durationMS
		})
		if !updated {
			// cancelled while running; CancelBuild already recorded it
			log.InfoContext(buildCtx, "build stopped", "duration", duration)
			m.recordBuild(ctx, StatusCancelled, -1, duration)
			return
		}

		step := -1
		if be.Step != nil {
			step = *be.Step
		}
		log.ErrorContext(buildCtx, "build failed", "error", be.Message, "code", be.Code, "step", step, "duration", duration)
		m.recordBuild(ctx, StatusFailed, step, duration)
		return
	}

	updated, _ = tracker.Update(func(meta *buildMetadata) {
		meta.Status = StatusReady
		meta.ImageID = result.imageID
		meta.CompletedAt = timePtr(time.Now())
		meta.DurationMS = &durationMS
	})
	if !updated {
		m.recordBuild(ctx, StatusCancelled, -1, duration)
		return
	}
	log.InfoContext(buildCtx, "build succeeded", "image_id", result.imageID, "tag", meta.Request.Tag, "duration", duration)
	m.recordBuild(ctx, StatusReady, -1, duration)
}

// executeBuild walks one build from base inspection to the engine run.
func (m *manager) executeBuild(ctx context.Context, id string, req CreateBuildRequest, tracker *ProgressTracker) (*buildResult, error) {
	log := logger.FromContext(ctx)
	recipe := req.Recipe()

	plan, info, err := ResolvePlan(ctx, m.inspector, recipe)
	if plan != nil {
		tracker.Update(func(meta *buildMetadata) {
			meta.BaseDigest = info.Digest
			meta.Steps = plan.Steps
		})
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	log.DebugContext(ctx, "inspected base image", "digest", info.Digest, "os", info.OSID, "user", info.ConfigUser)

	rendered, err := templates.Render(plan)
	if err != nil {
		return nil, err
	}
	dockerfilePath, err := m.paths.BuildDockerfile(id)
	if err != nil {
		return nil, err
	}
	if err := writeBuildFile(dockerfilePath, []byte(rendered.Dockerfile)); err != nil {
		return nil, err
	}

	contextDir, err := m.paths.BuildContext(id)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(contextDir); err != nil {
		return nil, fmt.Errorf("reset build context: %w", err)
	}
	if err := writeBuildFile(filepath.Join(contextDir, "Dockerfile"), []byte(rendered.Dockerfile)); err != nil {
		return nil, err
	}

	logPath, err := m.paths.BuildLog(id)
	if err != nil {
		return nil, err
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create build log: %w", err)
	}
	defer logFile.Close()

	iidPath, err := m.paths.BuildIIDFile(id)
	if err != nil {
		return nil, err
	}

	var output bytes.Buffer
	steps := newStepWriter(func(name string) {
		ins, idx := (&vertex{name: name}).instruction()
		step, ok := rendered.StepFor(ins)
		if !ok && idx > 0 {
			step, ok = vertexStep(rendered, idx)
		}
		if ok {
			tracker.Step(step)
		}
	})
	w := &lockedWriter{w: io.MultiWriter(logFile, &output, steps)}

	updated, err := tracker.Update(func(meta *buildMetadata) {
		meta.Status = StatusBuilding
	})
	if err != nil {
		return nil, err
	}
	if !updated || ctx.Err() != nil {
		// cancelled while resolving; the engine must not run
		return nil, ErrBuildCancelled
	}
	log.InfoContext(ctx, "running engine", "engine", m.engine.Name(), "steps", strings.Join(plan.Summary(), " "))

	imageID, err := m.engine.Build(ctx, BuildOptions{
		ContextDir: contextDir,
		Dockerfile: "Dockerfile",
		Tag:        recipe.Tag,
		IIDFile:    iidPath,
		NoCache:    req.NoCache,
		Labels:     map[string]string{BuildIDLabel: id},
		Stdout:     w,
		Stderr:     w,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Attribute(plan, rendered, output.String(), err)
	}
	return &buildResult{imageID: imageID}, nil
}

func (m *manager) cleanup(id string) {
	if err := deleteBuildContext(m.paths, id); err != nil {
		m.logger.Warn("failed to remove build context", "id", id, "error", err)
	}
}

func (m *manager) recordBuild(ctx context.Context, status string, failedStep int, duration time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordBuild(ctx, status, failedStep, duration)
	}
}

// NewBuildError converts a failure into its recorded form. Step errors
// keep their step index and diagnostic output.
func NewBuildError(err error) *BuildError {
	message, _, _ := strings.Cut(err.Error(), "\n")
	be := &BuildError{Code: CodeInternal, Message: message}

	if se, ok := layers.AsStepError(err); ok {
		step := se.StepIndex()
		be.Step = &step
		be.Output = se.Diagnostic()
		switch {
		case errors.Is(err, layers.ErrBaseImageResolution):
			be.Code = CodeBaseImageResolution
		case errors.Is(err, layers.ErrPackageInstall):
			be.Code = CodePackageInstall
		case errors.Is(err, layers.ErrPrivilegeTransition):
			be.Code = CodePrivilegeTransition
		}
		return be
	}

	var engineErr *EngineError
	switch {
	case errors.Is(err, ErrBuildTimeout):
		be.Code = CodeTimeout
	case errors.As(err, &engineErr), errors.Is(err, ErrUnattributed):
		be.Code = CodeEngine
	}
	return be
}

// GetBuild returns a build by ID
func (m *manager) GetBuild(ctx context.Context, id string) (*Build, error) {
	meta, err := readMetadata(m.paths, id)
	if err != nil {
		return nil, err
	}
	build := meta.toBuild()
	if build.Status == StatusQueued {
		build.QueuePosition = m.queue.GetPosition(id)
	}
	return build, nil
}

// ListBuilds returns all builds
func (m *manager) ListBuilds(ctx context.Context) ([]*Build, error) {
	metas, err := listMetadata(m.paths)
	if err != nil {
		return nil, err
	}

	builds := make([]*Build, 0, len(metas))
	for _, meta := range metas {
		build := meta.toBuild()
		if build.Status == StatusQueued {
			build.QueuePosition = m.queue.GetPosition(meta.ID)
		}
		builds = append(builds, build)
	}
	return builds, nil
}

// CancelBuild cancels a queued or running build
func (m *manager) CancelBuild(ctx context.Context, id string) error {
	meta, err := readMetadata(m.paths, id)
	if err != nil {
		return err
	}
	if isTerminalStatus(meta.Status) {
		return fmt.Errorf("%w with status: %s", ErrAlreadyCompleted, meta.Status)
	}

	// Mark as cancelled first so the running goroutine cannot overwrite it
	cancelled := func(meta *buildMetadata) {
		now := time.Now()
		meta.Status = StatusCancelled
		meta.QueuePosition = nil
		meta.CompletedAt = &now
		meta.Error = &BuildError{Code: CodeCancelled, Message: "build cancelled"}
	}
	tracker := m.tracker(id)
	if tracker == nil {
		tracker = NewProgressTracker(id, m.paths)
	}
	updated, err := tracker.Update(cancelled)
	if err != nil {
		return err
	}
	if !updated {
		return ErrAlreadyCompleted
	}

	if m.queue.Remove(id) {
		m.release(id)
		m.recordBuild(ctx, StatusCancelled, -1, 0)
	} else {
		m.mu.Lock()
		cancel := m.cancels[id]
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	logger.FromContext(ctx).InfoContext(ctx, "build cancelled", "id", id, "previous_status", meta.Status)
	return nil
}

// GetBuildLogs returns the engine output of a build
func (m *manager) GetBuildLogs(ctx context.Context, id string) ([]byte, error) {
	return readBuildFile(m.paths, id, m.paths.BuildLog)
}

// GetDockerfile returns the rendered Dockerfile of a build
func (m *manager) GetDockerfile(ctx context.Context, id string) (string, error) {
	data, err := readBuildFile(m.paths, id, m.paths.BuildDockerfile)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrNotRendered
	}
	return string(data), nil
}

// StreamBuildLogs follows the build log file. Partial lines are held back
// until completed or the build finishes.
func (m *manager) StreamBuildLogs(ctx context.Context, id string) (<-chan string, error) {
	if _, err := readMetadata(m.paths, id); err != nil {
		return nil, err
	}
	logPath, err := m.paths.BuildLog(id)
	if err != nil {
		return nil, err
	}

	out := make(chan string, 100)
	go func() {
		defer close(out)

		var f *os.File
		var reader *bufio.Reader
		defer func() {
			if f != nil {
				f.Close()
			}
		}()

		send := func(line string) bool {
			select {
			case out <- line:
				return true
			case <-ctx.Done():
				return false
			}
		}

		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		var partial string
		for {
			meta, err := readMetadata(m.paths, id)
			done := err != nil || isTerminalStatus(meta.Status)

			if f == nil {
				if opened, err := os.Open(logPath); err == nil {
					f = opened
					reader = bufio.NewReader(f)
				}
			}
			if reader != nil {
				for {
					chunk, err := reader.ReadString('\n')
					partial += chunk
					if err != nil {
						break
					}
					if !send(strings.TrimRight(partial, "\r\n")) {
						return
					}
					partial = ""
				}
			}

			if done {
				if partial != "" {
					send(partial)
				}
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, nil
}

// Subscribe streams progress updates. Finished builds yield their final
// state once.
func (m *manager) Subscribe(ctx context.Context, id string) (<-chan ProgressUpdate, error) {
	meta, err := readMetadata(m.paths, id)
	if err != nil {
		return nil, err
	}
	if tracker := m.tracker(id); tracker != nil && !isTerminalStatus(meta.Status) {
		if ch, err := tracker.Subscribe(ctx); err == nil {
			return ch, nil
		}
		// finished between the read and the subscribe
		if meta, err = readMetadata(m.paths, id); err != nil {
			return nil, err
		}
	}

	ch := make(chan ProgressUpdate, 1)
	ch <- updateFrom(meta, nil)
	close(ch)
	return ch, nil
}

// Wait blocks until the build is terminal or ctx is done
func (m *manager) Wait(ctx context.Context, id string) (*Build, error) {
	updates, err := m.Subscribe(ctx, id)
	if err != nil {
		return nil, err
	}
	for update := range updates {
		if isTerminalStatus(update.Status) {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.GetBuild(ctx, id)
}

// RecoverPendingBuilds requeues builds that never started. Builds that
// were running when the process stopped are marked failed; nothing is
// retried.
func (m *manager) RecoverPendingBuilds() {
	pending, err := listPendingBuilds(m.paths)
	if err != nil {
		m.logger.Error("list pending builds for recovery", "error", err)
		return
	}

	for _, meta := range pending {
		id := meta.ID
		tracker := m.newTracker(id)
		if meta.Status != StatusQueued {
			m.logger.Warn("build interrupted by restart", "id", id, "status", meta.Status)
			tracker.Update(func(meta *buildMetadata) {
				meta.Status = StatusFailed
				meta.CompletedAt = timePtr(time.Now())
				meta.Error = &BuildError{Code: CodeInternal, Message: "build interrupted by service restart"}
			})
			m.release(id)
			m.cleanup(id)
			continue
		}
		m.logger.Info("recovering queued build", "id", id)
		m.queue.Enqueue(id, func() { m.runBuild(context.Background(), id) })
	}

	if len(pending) > 0 {
		m.logger.Info("recovered pending builds", "count", len(pending))
	}
}

// lockedWriter serializes engine stdout and stderr.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
