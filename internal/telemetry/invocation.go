package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorMessageBytes = 512

var (
	sensitiveInlinePattern = regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret|authorization)\s*[:=]\s*([^\s,;]+)`)
	bearerTokenPattern     = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-]+`)
	apiKeyPattern          = regexp.MustCompile(`\bsk-[A-Za-z0-9]{10,}\b`)
)

// InvocationRequest is the telemetry metadata for one backend invocation.
type InvocationRequest struct {
	Backend string
	Model   string
	Sandbox string
	RunID   string
	Prompt  string
}

// Invocation tracks one backend.invoke span lifecycle.
type Invocation struct {
	span    trace.Span
	started time.Time
	ended   bool
}

// StartInvocation opens a backend.invoke span. The prompt never leaves the
// process; only its hash and length are recorded.
func StartInvocation(ctx context.Context, req InvocationRequest) (context.Context, *Invocation) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := []attribute.KeyValue{
		attribute.String("backend", normalizeOrUnknown(req.Backend)),
		attribute.String("sandbox", normalizeOrUnknown(req.Sandbox)),
		attribute.Int("prompt_chars", len(req.Prompt)),
		attribute.String("prompt_hash", hashPrompt(req.Prompt)),
	}
	if model := strings.TrimSpace(req.Model); model != "" {
		attrs = append(attrs, attribute.String("model", model))
	}
	if runID := strings.TrimSpace(req.RunID); runID != "" {
		attrs = append(attrs, attribute.String("run_id", runID))
	}

	spanCtx, span := otel.Tracer("amx/telemetry").Start(ctx, "backend.invoke", trace.WithAttributes(attrs...))
	return spanCtx, &Invocation{span: span, started: time.Now()}
}

// RecordAttempt adds one attempt event to the active span.
func (i *Invocation) RecordAttempt(attempt int, errorKind string, duration time.Duration) {
	if i == nil || i.span == nil || i.ended {
		return
	}
	durationMS := duration.Milliseconds()
	if durationMS < 0 {
		durationMS = 0
	}
	attrs := []attribute.KeyValue{
		attribute.Int("attempt", attempt),
		attribute.Int64("duration_ms", durationMS),
	}
	if errorKind != "" {
		attrs = append(attrs, attribute.String("error_kind", errorKind))
	}
	i.span.AddEvent("backend.attempt", trace.WithAttributes(attrs...))
}

// End finalizes the span with retries consumed and the failure kind, if any.
func (i *Invocation) End(errorKind string, errorMessage string, retries int) {
	if i == nil || i.span == nil || i.ended {
		return
	}
	i.ended = true

	durationMS := time.Since(i.started).Milliseconds()
	if durationMS < 0 {
		durationMS = 0
	}
	i.span.SetAttributes(
		attribute.Int64("latency_ms", durationMS),
		attribute.Int("retries", retries),
	)

	if errorKind != "" {
		i.span.SetAttributes(attribute.String("error_kind", errorKind))
		i.span.SetStatus(codes.Error, redactSecrets(firstNonEmpty(errorMessage, errorKind)))
	} else {
		i.span.SetStatus(codes.Ok, "invocation completed")
	}
	i.span.End()
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func redactSecrets(input string) string {
	redacted := strings.TrimSpace(input)
	if redacted == "" {
		return ""
	}
	redacted = sensitiveInlinePattern.ReplaceAllString(redacted, "$1=<redacted>")
	redacted = bearerTokenPattern.ReplaceAllString(redacted, "bearer <redacted>")
	redacted = apiKeyPattern.ReplaceAllString(redacted, "<redacted>")
	if len(redacted) > maxErrorMessageBytes {
		return redacted[:maxErrorMessageBytes-len("...[truncated]")] + "...[truncated]"
	}
	return redacted
}

func normalizeOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
