package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/proxyfetch/internal/config"
)

func TestBuildWithoutProjectKeepsSpansLocal(t *testing.T) {
	reg := prometheus.NewRegistry()

	p, err := build(context.Background(), config.TelemetryConfig{ServiceName: "proxyfetch-test", Version: "t"}, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	assert.False(t, p.Exporting)
	assert.NotNil(t, p.Tracer)
	assert.NotNil(t, p.Meter)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestNilProvidersShutdown(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}
