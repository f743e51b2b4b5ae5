package obs

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFromEnvMapsKnownLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"huh":   slog.LevelInfo,
	}
	for env, want := range cases {
		t.Setenv("ORCH_LOG_LEVEL", env)
		require.Equal(t, want, levelFromEnv().Level(), "env=%q", env)
	}
}

func TestInitLoggingSetsComponentAndDefaultLogger(t *testing.T) {
	t.Setenv("ORCH_JSON_LOG", "")
	logger := InitLogging("orch-test")
	require.NotNil(t, logger)
	require.Same(t, logger, slog.Default())
}

func TestInitLoggingJSONModeRecognizesTruthyValues(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "json"} {
		t.Setenv("ORCH_JSON_LOG", v)
		logger := InitLogging("orch-test")
		require.NotNil(t, logger)
		require.IsType(t, &slog.JSONHandler{}, logger.Handler(), "ORCH_JSON_LOG=%q", v)
	}
}
