// Package observability records traces and RED metrics for registry
// operations. Spans and instruments are only produced when OTLP export is
// enabled or an in-process metric reader is attached; otherwise every call is
// a no-op.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const scope = "github.com/Mindburn-Labs/release-registry"

// Config configures export. Enabled turns on OTLP/gRPC export of spans and
// metrics; Reader attaches an extra in-process metric reader.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // host:port of the collector
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool

	Reader sdkmetric.Reader

	// Classify maps an operation error to the outcome label. Nil errors are
	// always "OK".
	Classify func(error) string
}

// Provider owns the trace and meter providers plus the registry instruments.
type Provider struct {
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	traces   *sdktrace.TracerProvider
	metrics  *sdkmetric.MeterProvider
	inst     *instruments
	classify func(error) string
}

type instruments struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
	inFlight   metric.Int64UpDownCounter
	rollbacks  metric.Int64Counter
	mismatches metric.Int64Counter
}

// Disabled returns a Provider that records nothing.
func Disabled() *Provider {
	return &Provider{
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer(scope),
		classify: defaultClassify,
	}
}

func defaultClassify(error) string { return "ERROR" }

// New builds a Provider from cfg.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := Disabled()
	p.cfg = cfg
	p.logger = slog.Default().With("component", "observability")
	if cfg.Classify != nil {
		p.classify = cfg.Classify
	}
	if !cfg.Enabled && cfg.Reader == nil {
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("observability resource: %w", err)
	}

	var readers []sdkmetric.Option
	if cfg.Reader != nil {
		readers = append(readers, sdkmetric.WithReader(cfg.Reader))
	}
	if cfg.Enabled {
		if err := p.startTracing(ctx, res); err != nil {
			return nil, err
		}
		exp, err := otlpmetricgrpc.New(ctx, p.metricOptions()...)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))))
	}

	p.metrics = sdkmetric.NewMeterProvider(append(readers, sdkmetric.WithResource(res))...)
	if cfg.Enabled {
		otel.SetMeterProvider(p.metrics)
	}
	if p.inst, err = newInstruments(p.metrics.Meter(scope, metric.WithInstrumentationVersion(cfg.ServiceVersion))); err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability started",
		"otlp", cfg.Enabled,
		"endpoint", cfg.OTLPEndpoint,
		"environment", cfg.Environment,
	)
	return p, nil
}

func (p *Provider) metricOptions() []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return opts
}

func (p *Provider) startTracing(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.cfg.SampleRate))
	if p.cfg.SampleRate >= 1 {
		sampler = sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	batch := p.cfg.BatchTimeout
	if batch <= 0 {
		batch = 5 * time.Second
	}
	p.traces = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(batch)),
	)
	otel.SetTracerProvider(p.traces)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	p.tracer = p.traces.Tracer(scope, trace.WithInstrumentationVersion(p.cfg.ServiceVersion))
	return nil
}

func newInstruments(m metric.Meter) (*instruments, error) {
	var (
		in   instruments
		errs []error
		err  error
	)
	in.operations, err = m.Int64Counter("relreg.operations",
		metric.WithDescription("Registry operations by outcome"), metric.WithUnit("{operation}"))
	errs = append(errs, err)
	in.duration, err = m.Float64Histogram("relreg.operation.duration",
		metric.WithDescription("Registry operation latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	errs = append(errs, err)
	in.inFlight, err = m.Int64UpDownCounter("relreg.operations.in_flight",
		metric.WithDescription("Registry operations currently running"), metric.WithUnit("{operation}"))
	errs = append(errs, err)
	in.rollbacks, err = m.Int64Counter("relreg.publish.rollbacks",
		metric.WithDescription("Artifacts removed after a failed ledger write"), metric.WithUnit("{artifact}"))
	errs = append(errs, err)
	in.mismatches, err = m.Int64Counter("relreg.integrity.mismatches",
		metric.WithDescription("Bytes whose hash differed from the ledger record"), metric.WithUnit("{artifact}"))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &in, nil
}

// Shutdown flushes pending spans and metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.traces != nil {
		errs = append(errs, p.traces.Shutdown(ctx))
	}
	if p.metrics != nil {
		errs = append(errs, p.metrics.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// TrackOperation opens a span for name and returns the function that closes
// it, recording latency and the outcome of err.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	set := metric.WithAttributes(attrs...)
	if p.inst != nil {
		p.inst.inFlight.Add(ctx, 1, set)
	}

	return ctx, func(err error) {
		defer span.End()
		outcome := "OK"
		if err != nil {
			outcome = p.classify(err)
			span.RecordError(err)
			span.SetAttributes(Outcome(outcome))
		}
		if p.inst == nil {
			return
		}
		withOutcome := metric.WithAttributes(append(attrs[:len(attrs):len(attrs)], Outcome(outcome))...)
		p.inst.inFlight.Add(ctx, -1, set)
		p.inst.operations.Add(ctx, 1, withOutcome)
		p.inst.duration.Record(ctx, time.Since(start).Seconds(), withOutcome)
	}
}

// RecordRollback counts an artifact removed because its ledger write failed.
func (p *Provider) RecordRollback(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.inst != nil {
		p.inst.rollbacks.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordIntegrityMismatch counts bytes that failed verification against the ledger.
func (p *Provider) RecordIntegrityMismatch(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.inst != nil {
		p.inst.mismatches.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
