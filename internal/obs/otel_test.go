package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointReturnsNoopShutdown(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	p := Init(context.Background(), "orch-test")
	require.NotNil(t, p.Tracer)
	require.NotNil(t, p.Meter)
	require.NotPanics(t, func() { p.Shutdown(context.Background()) })
}
