// Package engine composes the invocation pipeline: validate, resolve the
// session continuation, build the process environment, then drive the
// supervised attempt loop and shape the caller-facing outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/amx/internal/backend"
	"github.com/agentmux/amx/internal/classify"
	"github.com/agentmux/amx/internal/config"
	"github.com/agentmux/amx/internal/environ"
	"github.com/agentmux/amx/internal/events"
	"github.com/agentmux/amx/internal/logging"
	"github.com/agentmux/amx/internal/metrics"
	"github.com/agentmux/amx/internal/retry"
	"github.com/agentmux/amx/internal/session"
	"github.com/agentmux/amx/internal/stream"
	"github.com/agentmux/amx/internal/supervise"
	"github.com/agentmux/amx/internal/telemetry"
)

// Request is one backend invocation as the caller describes it.
type Request struct {
	// Backend selects an entry of the closed registry.
	Backend string
	// Prompt is delivered to the backend on stdin, never via argv.
	Prompt string
	// Workdir is the working directory for the spawned process. Required;
	// it must name an existing directory.
	Workdir string
	// SessionID continues an earlier exchange when it names a recorded
	// session. Unknown identifiers start fresh without error.
	SessionID string
	// Sandbox overrides the backend's default sandbox mode when non-empty.
	Sandbox string
	// Model overrides the configured model when non-empty.
	Model string
	// IdleTimeout overrides the configured idle guard when positive.
	IdleTimeout time.Duration
	// MaxDuration overrides the configured wall-clock cap when positive.
	MaxDuration time.Duration
	// MaxRetries overrides the backend's retry budget. Nil keeps the
	// default; negative values are ignored.
	MaxRetries *int
	// ReturnMetrics embeds the metrics record in the outcome.
	ReturnMetrics bool
	// LogMetrics emits the metrics record as one JSON line on the
	// diagnostic sink.
	LogMetrics bool
}

// ErrorDetail carries the diagnostic payload of a failed invocation.
type ErrorDetail struct {
	Message   string   `json:"message"`
	ExitCode  *int     `json:"exit_code,omitempty"`
	LastLines []string `json:"last_lines,omitempty"`
	Retries   int      `json:"retries"`
}

// Outcome is the caller-facing result of one invocation.
type Outcome struct {
	Success     bool            `json:"success"`
	Output      string          `json:"output,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	Duration    string          `json:"duration"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	ErrorDetail *ErrorDetail    `json:"error_detail,omitempty"`
	Metrics     *metrics.Record `json:"metrics,omitempty"`
}

type settings struct {
	launcher    supervise.Launcher
	sessions    *session.Store
	bus         *events.Bus
	logger      *logging.RuntimeLogger
	metricsSink io.Writer
	baseEnv     []string
	newRunID    func() string
}

// Option customizes engine construction.
type Option func(*settings)

// WithLauncher injects the process launcher. Tests use fakes to script
// backend output and count spawns.
func WithLauncher(launcher supervise.Launcher) Option {
	return func(s *settings) { s.launcher = launcher }
}

// WithSessions injects a shared session store.
func WithSessions(store *session.Store) Option {
	return func(s *settings) { s.sessions = store }
}

// WithEvents injects the lifecycle event bus.
func WithEvents(bus *events.Bus) Option {
	return func(s *settings) { s.bus = bus }
}

// WithLogger injects the runtime logger.
func WithLogger(logger *logging.RuntimeLogger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithMetricsSink redirects emitted metrics records. Default is stderr.
func WithMetricsSink(w io.Writer) Option {
	return func(s *settings) { s.metricsSink = w }
}

// WithBaseEnv replaces the inherited environment for spawned processes.
func WithBaseEnv(env []string) Option {
	return func(s *settings) { s.baseEnv = env }
}

// WithRunIDSource overrides run identifier generation.
func WithRunIDSource(source func() string) Option {
	return func(s *settings) { s.newRunID = source }
}

// Engine is the invocation facade. One engine serves a whole host process;
// invocations may run concurrently.
type Engine struct {
	cfg         *config.Config
	supervisor  *supervise.Supervisor
	sessions    *session.Store
	bus         *events.Bus
	logger      *logging.RuntimeLogger
	metricsSink io.Writer
	baseEnv     []string
	newRunID    func() string
}

// New constructs an engine over the given configuration.
func New(cfg *config.Config, options ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}

	resolved := settings{
		metricsSink: os.Stderr,
		newRunID:    uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(&resolved)
		}
	}

	supervisor := supervise.New()
	if resolved.launcher != nil {
		var err error
		supervisor, err = supervise.NewWithLauncher(resolved.launcher)
		if err != nil {
			return nil, err
		}
	}
	if resolved.sessions == nil {
		resolved.sessions = session.NewStore()
	}
	if resolved.baseEnv == nil {
		resolved.baseEnv = os.Environ()
	}

	return &Engine{
		cfg:         cfg,
		supervisor:  supervisor,
		sessions:    resolved.sessions,
		bus:         resolved.bus,
		logger:      resolved.logger,
		metricsSink: resolved.metricsSink,
		baseEnv:     resolved.baseEnv,
		newRunID:    resolved.newRunID,
	}, nil
}

// Sessions exposes the engine's session store for administrative commands.
func (e *Engine) Sessions() *session.Store {
	if e == nil {
		return nil
	}
	return e.sessions
}

// ClearSession drops one recorded session mapping.
func (e *Engine) ClearSession(backendID, sessionID string) bool {
	if e == nil {
		return false
	}
	return e.sessions.Clear(strings.ToLower(strings.TrimSpace(backendID)), sessionID)
}

// Invoke runs one backend invocation end to end. It never panics and never
// returns a Go error; every failure is expressed through the outcome's
// error taxonomy.
func (e *Engine) Invoke(ctx context.Context, req Request) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = failure(
				classify.KindInternalError,
				fmt.Sprintf("internal failure: %v", r),
				&ErrorDetail{Message: fmt.Sprintf("internal failure: %v", r)},
			)
			outcome.Duration = "0m0s"
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}

	desc, creds, invalid := e.validate(&req)
	if invalid != "" {
		out := failure(classify.KindInvalidInput, invalid, &ErrorDetail{Message: invalid})
		out.Duration = "0m0s"
		return out
	}

	sandbox := desc.DefaultSandbox
	if strings.TrimSpace(req.Sandbox) != "" {
		parsed, err := backend.ParseSandbox(req.Sandbox)
		if err != nil {
			message := err.Error()
			out := failure(classify.KindInvalidInput, message, &ErrorDetail{Message: message})
			out.Duration = "0m0s"
			return out
		}
		sandbox = parsed
	}

	env, err := environ.Build(desc, creds, e.baseEnv)
	if err != nil {
		message := err.Error()
		out := failure(classify.KindConfigurationError, message, &ErrorDetail{Message: message})
		out.Duration = "0m0s"
		return out
	}

	runID := e.newRunID()
	continuation, _ := e.sessions.Resolve(desc.ID, req.SessionID)

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = creds.Model
	}

	idleTimeout := e.cfg.IdleTimeout
	if req.IdleTimeout > 0 {
		idleTimeout = req.IdleTimeout
	}
	if idleTimeout <= 0 {
		idleTimeout = desc.DefaultIdleTimeout
	}
	maxDuration := e.cfg.MaxDuration
	if req.MaxDuration > 0 {
		maxDuration = req.MaxDuration
	}

	meter := metrics.NewCollector(runID, desc.ID, string(sandbox), req.Prompt)
	spanCtx, span := telemetry.StartInvocation(ctx, telemetry.InvocationRequest{
		Backend: desc.ID,
		Model:   model,
		Sandbox: string(sandbox),
		RunID:   runID,
		Prompt:  req.Prompt,
	})

	spec := supervise.Spec{
		Executable: desc.Executable,
		Args: desc.Args(backend.CommandSpec{
			Sandbox:      sandbox,
			Model:        model,
			Continuation: continuation,
		}),
		Env:   env,
		Dir:   req.Workdir,
		Stdin: req.Prompt,
	}

	var lastRun supervise.Outcome
	var lastStream *stream.Collector
	attemptNumber := 0

	result := retry.Do(spanCtx, retry.PolicyFor(desc, req.MaxRetries), func(attemptCtx context.Context) (classify.Kind, bool) {
		attemptNumber++
		e.publish(events.Event{Type: events.TypeAttemptStarted, Backend: desc.ID, RunID: runID, SessionID: req.SessionID})
		e.logInfo(desc.ID, runID, "attempt started", "attempt", attemptNumber)

		collector := stream.NewCollector()
		run := e.supervisor.Run(attemptCtx, spec, supervise.Options{
			IdleTimeout: idleTimeout,
			MaxDuration: maxDuration,
			OnLine:      collector.Feed,
		})
		lastRun = run
		lastStream = collector

		kind, message, ok := judge(run, collector)
		span.RecordAttempt(attemptNumber, errorKindString(kind, ok), run.Duration)
		if !ok {
			e.publish(events.Event{Type: events.TypeAttemptFailed, Backend: desc.ID, RunID: runID, Detail: message})
			e.logInfo(desc.ID, runID, "attempt failed", "attempt", attemptNumber, "error_kind", string(kind), "error", message)
		}
		return kind, ok
	})

	outcome = e.conclude(desc, req, runID, result, lastRun, lastStream, meter)
	span.End(outcome.ErrorKind, outcome.Error, result.Retries)
	e.publish(events.Event{
		Type:      events.TypeInvocationFinished,
		Backend:   desc.ID,
		RunID:     runID,
		SessionID: outcome.SessionID,
		Detail:    outcome.ErrorKind,
	})
	return outcome
}

// validate rejects malformed requests before any process is spawned.
func (e *Engine) validate(req *Request) (backend.Descriptor, config.Backend, string) {
	desc, ok := backend.Lookup(req.Backend)
	if !ok {
		return backend.Descriptor{}, config.Backend{}, fmt.Sprintf(
			"unknown backend %q; supported backends: %s",
			req.Backend, strings.Join(backend.IDs(), ", "),
		)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return desc, config.Backend{}, "prompt must not be empty"
	}
	if strings.TrimSpace(req.Workdir) == "" {
		return desc, config.Backend{}, "working directory is required"
	}
	info, err := os.Stat(req.Workdir)
	if err != nil {
		return desc, config.Backend{}, fmt.Sprintf("working directory %q does not exist", req.Workdir)
	}
	if !info.IsDir() {
		return desc, config.Backend{}, fmt.Sprintf("working directory %q is not a directory", req.Workdir)
	}
	return desc, e.cfg.Backend(desc.ID), ""
}

// judge decides whether one finished attempt satisfied the success contract:
// clean exit, a terminal record, a non-empty result, and a session id.
func judge(run supervise.Outcome, collector *stream.Collector) (classify.Kind, string, bool) {
	if errMessage, hadError := collector.Err(); hadError {
		if run.Cancelled {
			return classify.KindCancelled, "invocation cancelled", false
		}
		return classify.KindUpstreamError, errMessage, false
	}

	kind := classify.Classify(run)
	switch {
	case run.Cancelled:
		return kind, "invocation cancelled", false
	case run.IdleTimedOut:
		return kind, "backend produced no output within the idle timeout", false
	case run.HardTimedOut:
		return kind, "backend exceeded the maximum duration", false
	case run.StartErr != nil:
		return kind, run.StartErr.Error(), false
	case run.WaitErr != nil:
		return kind, run.WaitErr.Error(), false
	case run.ExitCode != 0:
		return kind, fmt.Sprintf("backend exited with code %d", run.ExitCode), false
	}

	// Exit 0 from here on; the stream contract decides.
	switch {
	case !collectorTerminal(collector):
		return classify.KindUpstreamError, "backend exited without a terminal result record", false
	case strings.TrimSpace(collector.Result()) == "":
		return classify.KindUpstreamError, "backend returned an empty result", false
	case collector.SessionID() == "":
		return classify.KindUpstreamError, "backend did not report a session identifier", false
	}
	return "", "", true
}

func collectorTerminal(collector *stream.Collector) bool {
	// Feed("") is a no-op probe; it reports the terminal flag without
	// mutating collector state.
	return collector.Feed("")
}

// conclude folds the attempt loop's final state into the caller outcome and
// records the session mapping on clean success only.
func (e *Engine) conclude(
	desc backend.Descriptor,
	req Request,
	runID string,
	result retry.Result,
	lastRun supervise.Outcome,
	lastStream *stream.Collector,
	meter *metrics.Collector,
) Outcome {
	var exitCode *int
	rawLines := 0
	decodeErrors := 0
	var tail []string
	output := ""
	issuedSession := ""
	failMessage := ""

	if lastStream != nil {
		output = lastStream.Result()
		issuedSession = lastStream.SessionID()
		decodeErrors = lastStream.DecodeErrors()
	}
	if lastRun.StartErr == nil && attemptRan(lastRun) {
		code := lastRun.ExitCode
		exitCode = &code
		rawLines = lastRun.RawLines
		tail = stream.RedactLines(lastRun.Tail)
	}

	outcome := Outcome{Success: result.OK}
	if result.OK {
		sessionKey := req.SessionID
		if sessionKey == "" {
			sessionKey = issuedSession
		}
		e.sessions.Record(desc.ID, sessionKey, issuedSession)
		e.publish(events.Event{Type: events.TypeSessionRecorded, Backend: desc.ID, RunID: runID, SessionID: sessionKey})

		outcome.Output = output
		outcome.SessionID = sessionKey
		e.logInfo(desc.ID, runID, "invocation succeeded", "session_id", sessionKey, "retries", result.Retries)
	} else {
		if lastStream != nil {
			if message, hadError := lastStream.Err(); hadError {
				failMessage = message
			}
		}
		if failMessage == "" {
			_, failMessage, _ = judge(lastRun, orEmpty(lastStream))
		}
		if failMessage == "" {
			failMessage = string(result.Kind)
		}
		if result.Kind == classify.KindCancelled {
			failMessage = "invocation cancelled"
		}

		outcome.Error = failMessage
		outcome.ErrorKind = string(result.Kind)
		outcome.ErrorDetail = &ErrorDetail{
			Message:   failMessage,
			ExitCode:  exitCode,
			LastLines: tail,
			Retries:   result.Retries,
		}
		e.logInfo(desc.ID, runID, "invocation failed", "error_kind", outcome.ErrorKind, "retries", result.Retries)
	}

	meter.Finish(metrics.Outcome{
		Success:      result.OK,
		ErrorKind:    outcome.ErrorKind,
		Result:       output,
		ExitCode:     exitCode,
		Retries:      result.Retries,
		RawLines:     rawLines,
		DecodeErrors: decodeErrors,
	})
	outcome.Duration = meter.DurationHuman()
	if req.ReturnMetrics {
		record := meter.Record()
		outcome.Metrics = &record
	}
	if req.LogMetrics {
		if err := meter.Emit(e.metricsSink); err != nil {
			e.logInfo(desc.ID, runID, "metrics emission failed", "error", err.Error())
		}
	}
	return outcome
}

func attemptRan(run supervise.Outcome) bool {
	return run.Duration > 0 || run.RawLines > 0 || run.ExitCode != -1 ||
		run.Cancelled || run.TimedOut() || run.WaitErr != nil || len(run.Tail) > 0
}

func orEmpty(collector *stream.Collector) *stream.Collector {
	if collector == nil {
		return stream.NewCollector()
	}
	return collector
}

func failure(kind classify.Kind, message string, detail *ErrorDetail) Outcome {
	return Outcome{
		Success:     false,
		Error:       message,
		ErrorKind:   string(kind),
		ErrorDetail: detail,
	}
}

func errorKindString(kind classify.Kind, ok bool) string {
	if ok {
		return ""
	}
	return string(kind)
}

func (e *Engine) publish(event events.Event) {
	if e.bus != nil {
		e.bus.Publish(event)
	}
}

func (e *Engine) logInfo(backendID, runID, message string, keyvals ...any) {
	if e.logger == nil || e.logger.Logger == nil {
		return
	}
	args := append([]any{"backend", backendID, "run_id", runID}, keyvals...)
	e.logger.Logger.Info(message, args...)
}
