package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	_, err := InitTracer(Options{
		ServiceName: ServiceName,
		Version:     "test",
		Environment: "ci",
		Output:      &buf,
	})
	require.NoError(t, err)

	_, span := Tracer("evidence/test").Start(context.Background(), "orchestrator.narrative")
	span.End()
	ShutdownTracer(context.Background())

	out := buf.String()
	assert.Contains(t, out, "orchestrator.narrative")
	assert.Contains(t, out, ServiceName)
	assert.Contains(t, out, "deployment.environment")
	assert.Nil(t, TracerProvider)
}

func TestShutdownWithoutProvider(t *testing.T) {
	TracerProvider = nil
	assert.NotPanics(t, func() { ShutdownTracer(context.Background()) })
}
