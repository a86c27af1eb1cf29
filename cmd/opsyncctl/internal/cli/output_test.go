package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError_ErrorMessageIncludesWrapped(t *testing.T) {
	err := WrapExitError(ExitCommandError, "opening storage", errors.New("disk full"))
	assert.Equal(t, "opening storage: disk full", err.Error())
	assert.Equal(t, ExitCommandError, err.Code)
}

func TestExitError_UnwrapReturnsUnderlyingErr(t *testing.T) {
	underlying := errors.New("boom")
	err := WrapExitError(ExitFailure, "sync failed", underlying)
	require.ErrorIs(t, err, underlying)
}

func TestGetExitCode_ExtractsCodeFromExitError(t *testing.T) {
	err := WrapExitError(ExitCommandError, "bad config", errors.New("missing device_id"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode_DefaultsToExitFailureForPlainError(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestGetExitCode_WrapsThroughFmtErrorf(t *testing.T) {
	inner := WrapExitError(ExitCommandError, "loading config", errors.New("not found"))
	wrapped := fmt.Errorf("running command: %w", inner)
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}
