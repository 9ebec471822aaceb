package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestProvider(t *testing.T) (*Provider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	p, err := New(context.Background(), Config{
		ServiceName: "relreg-test",
		Reader:      reader,
		Classify: func(err error) string {
			if errors.Is(err, context.DeadlineExceeded) {
				return "TRANSIENT"
			}
			return "INTERNAL"
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, reader
}

// sums returns the int64 sum points of the named instrument keyed by outcome.
func sums(t *testing.T, reader *sdkmetric.ManualReader, name string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range data.DataPoints {
				outcome, _ := dp.Attributes.Value("relreg.outcome")
				out[outcome.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestDisabledProviderIsNoop(t *testing.T) {
	p := Disabled()
	ctx, finish := p.TrackOperation(context.Background(), "registrar.publish", ReleaseOperation("publish", "com.acme.lib", "1.0.0")...)
	require.NotNil(t, ctx)
	finish(errors.New("boom"))
	p.RecordRollback(ctx)
	p.RecordIntegrityMismatch(ctx)
	require.NoError(t, p.Shutdown(ctx))
}

func TestNew_WithoutExportOrReader(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)
	require.Nil(t, p.inst)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_OTLPConnectsLazily(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p, err := New(ctx, Config{Enabled: true, Insecure: true, OTLPEndpoint: "127.0.0.1:4317", SampleRate: 0.5, ServiceName: "relreg"})
	require.NoError(t, err)
	_, finish := p.TrackOperation(ctx, "registrar.validate")
	finish(nil)
	// Flushing to an absent collector may fail; only construction matters here.
	_ = p.Shutdown(ctx)
}

func TestTrackOperation_RecordsOutcomes(t *testing.T) {
	p, reader := newTestProvider(t)
	ctx := context.Background()
	attrs := ReleaseOperation("publish", "com.acme.lib", "1.0.0")

	_, finish := p.TrackOperation(ctx, "registrar.publish", attrs...)
	finish(nil)
	_, finish = p.TrackOperation(ctx, "registrar.publish", attrs...)
	finish(context.DeadlineExceeded)
	_, finish = p.TrackOperation(ctx, "registrar.publish", attrs...)
	finish(errors.New("disk full"))

	got := sums(t, reader, "relreg.operations")
	require.Equal(t, map[string]int64{"OK": 1, "TRANSIENT": 1, "INTERNAL": 1}, got)
	require.Len(t, attrs, 3)
}

func TestTrackOperation_InFlightReturnsToZero(t *testing.T) {
	p, reader := newTestProvider(t)
	_, finish := p.TrackOperation(context.Background(), "registrar.download")
	require.Equal(t, int64(1), sums(t, reader, "relreg.operations.in_flight")[""])
	finish(nil)
	require.Equal(t, int64(0), sums(t, reader, "relreg.operations.in_flight")[""])
}

func TestIntegrityCounters(t *testing.T) {
	p, reader := newTestProvider(t)
	ctx := context.Background()
	p.RecordRollback(ctx, ReleaseOperation("publish", "com.acme.lib", "1.0.0")...)
	p.RecordIntegrityMismatch(ctx, ReleaseOperation("download", "com.acme.lib", "1.0.0")...)
	p.RecordIntegrityMismatch(ctx, ReleaseOperation("validate", "com.acme.lib", "1.0.0")...)

	require.Equal(t, int64(1), sums(t, reader, "relreg.publish.rollbacks")[""])
	require.Equal(t, int64(2), sums(t, reader, "relreg.integrity.mismatches")[""])
}

func TestReleaseOperation(t *testing.T) {
	attrs := ReleaseOperation("publish", "com.acme.lib", "1.0.0")
	require.Len(t, attrs, 3)
	require.Equal(t, attribute.Key("relreg.package.id"), attrs[1].Key)
	require.Equal(t, "com.acme.lib", attrs[1].Value.AsString())
}

func TestPackageOperation(t *testing.T) {
	attrs := append(PackageOperation("discontinue_package", "com.acme.lib"), Outcome("OK"))
	require.Len(t, attrs, 3)
	require.Equal(t, attribute.Key("relreg.outcome"), attrs[2].Key)
}
