package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdoutExporterWritesSpans(t *testing.T) {
	var out bytes.Buffer
	p, err := Setup(ExporterStdout, &out)
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "GET /feed")
	assert.True(t, span.IsRecording())
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, out.String(), `"Name":"GET /feed"`)
	assert.Contains(t, out.String(), "picstream")
}

func TestNoneIsNotRecording(t *testing.T) {
	p, err := Setup("", nil)
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "x")
	assert.False(t, span.IsRecording())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestUnknownExporter(t *testing.T) {
	_, err := Setup("jaeger", nil)
	assert.ErrorContains(t, err, "jaeger")
}
