package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigurationError(t *testing.T) {
	cause := errors.New("no such file")
	err := fmt.Errorf("build credentials: %w", Configuration("zitadel", "machine key missing", cause))

	assert.True(t, IsConfiguration(err))
	assert.False(t, IsProvisioning(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `configuration error for "zitadel": machine key missing`)
}

func TestProvisioningError(t *testing.T) {
	err := &ProvisioningError{Op: "AddProject", StatusCode: 409, Message: "already exists"}
	assert.True(t, IsProvisioning(err))
	assert.Equal(t, "admin api AddProject failed (status 409): already exists", err.Error())
}

func TestSubprocessError(t *testing.T) {
	tests := []struct {
		err      *SubprocessError
		expected string
	}{
		{&SubprocessError{Command: "dotnet", Reason: ReasonNonZeroExit, ExitCode: 3}, "dotnet failed with exit code 3"},
		{&SubprocessError{Command: "dotnet", Reason: ReasonTimeout}, "dotnet timed out"},
		{&SubprocessError{Command: "dotnet", Reason: ReasonUnknown}, "dotnet failed for an unknown reason"},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Reason), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
			assert.Equal(t, tt.err.Reason, SubprocessReasonOf(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}

	assert.Equal(t, SubprocessReason(""), SubprocessReasonOf(errors.New("plain")))
}
