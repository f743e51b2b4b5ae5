package orcherr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindStringMapping(t *testing.T) {
	require.Equal(t, "PlanError", KindPlan.String())
	require.Equal(t, "StateError", KindState.String())
	require.Equal(t, "RunConflict", KindRunConflict.String())
	require.Equal(t, "OSError", KindOS.String())
	require.Equal(t, "UnknownError", Kind(99).String())
}

func TestErrorMessageIncludesCauseWhenWrapped(t *testing.T) {
	cause := errors.New("disk full")
	err := OSWrap(cause, "write %s", "state.json")
	require.Equal(t, "OSError: write state.json: disk full", err.Error())
	require.ErrorIs(t, err, cause)
}

func TestErrorMessageOmitsCauseWhenBare(t *testing.T) {
	err := Plan("duplicate task id %q", "a")
	require.Equal(t, `PlanError: duplicate task id "a"`, err.Error())
	require.Nil(t, err.Err)
}

func TestAsUnwrapsThroughFmtWrapping(t *testing.T) {
	base := RunConflict("run dir locked")
	wrapped := fmt.Errorf("acquire lock: %w", base)

	got, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, KindRunConflict, got.Kind)
}

func TestAsFailsForUnrelatedError(t *testing.T) {
	_, ok := As(errors.New("plain error"))
	require.False(t, ok)
}
