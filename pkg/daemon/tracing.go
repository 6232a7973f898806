package daemon

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/anzal1/unclaude/pkg/daemon"

// Attribute keys used on iteration and tool-call spans.
var (
	attrTaskID    = attribute.Key("unclaude.task.id")
	attrIteration = attribute.Key("unclaude.iteration")
	attrToolName  = attribute.Key("unclaude.tool.name")
	attrToolOK    = attribute.Key("unclaude.tool.success")
)

// TracerProvider owns the process-wide OpenTelemetry SDK provider backing
// the daemon's iteration spans. A Daemon works fine without one installed
// (tracer() falls back to the no-op global tracer), so wiring this up is
// optional for an embedder that wants to inspect iteration timing.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// NewTracerProvider installs a stdout-exporting tracer provider as the
// global OpenTelemetry provider, under the given service name.
func NewTracerProvider(serviceName string) (*TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes and stops the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startIterationSpan opens one span per agent-loop iteration.
func startIterationSpan(ctx context.Context, taskID string, iter int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "daemon.iteration",
		trace.WithAttributes(attrTaskID.String(taskID), attrIteration.Int(iter)),
	)
}

// startToolSpan opens a child span for one tool dispatch within an
// iteration span.
func startToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "daemon.tool_call",
		trace.WithAttributes(attrToolName.String(toolName)),
	)
}
