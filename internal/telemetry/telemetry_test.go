package telemetry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"NexusChat/internal/telemetry"

	"github.com/stretchr/testify/require"
)

func TestInitLogger_WritesJSONToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, closer, err := telemetry.InitLogger(dir, true)
	require.NoError(t, err)

	logger.Debug("debug line", "k", "v")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(filepath.Join(dir, "nexuschat.log"))
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"debug line"`)
	require.Contains(t, string(b), `"service":"nexuschat"`)
}

func TestInitTelemetry_CreatesProviders(t *testing.T) {
	dir := t.TempDir()

	tracer, meter, cleanup, err := telemetry.InitTelemetry(context.Background(), dir)
	require.NoError(t, err)
	require.NotNil(t, tracer)
	require.NotNil(t, meter)

	_, span := tracer.Start(context.Background(), "test_span")
	span.End()

	counter, err := meter.Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	cleanup()

	_, err = os.Stat(filepath.Join(dir, "nexuschat_traces.log"))
	require.NoError(t, err)
}
