// Package errdefs holds the error types shared by the provisioning pipeline.
//
// Every failure in a readiness cycle is fatal for that cycle. The types below only
// classify the failure so callers can report it; none of them carry retry hints.
package errdefs

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a declaration or local-environment problem: a missing key
// file, a malformed connection descriptor, an undersized connection value list.
type ConfigurationError struct {
	Resource string
	Reason   string
	Err      error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Resource != "" {
		msg += fmt.Sprintf(" for %q", e.Resource)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configuration builds a ConfigurationError.
func Configuration(resource, reason string, err error) error {
	return &ConfigurationError{Resource: resource, Reason: reason, Err: err}
}

// ProvisioningError reports a failed administrative API call.
type ProvisioningError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProvisioningError) Error() string {
	msg := fmt.Sprintf("admin api %s failed", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// SubprocessReason discriminates SubprocessError.
type SubprocessReason string

const (
	ReasonNonZeroExit SubprocessReason = "non-zero-exit"
	ReasonTimeout     SubprocessReason = "timeout"
	ReasonUnknown     SubprocessReason = "unknown"
)

// SubprocessError reports a failed external tool invocation.
type SubprocessError struct {
	Command  string
	Reason   SubprocessReason
	ExitCode int
	Err      error
}

func (e *SubprocessError) Error() string {
	switch e.Reason {
	case ReasonNonZeroExit:
		return fmt.Sprintf("%s failed with exit code %d", e.Command, e.ExitCode)
	case ReasonTimeout:
		return fmt.Sprintf("%s timed out", e.Command)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s failed for an unknown reason: %v", e.Command, e.Err)
		}
		return fmt.Sprintf("%s failed for an unknown reason", e.Command)
	}
}

func (e *SubprocessError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err is or wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsProvisioning reports whether err is or wraps a ProvisioningError.
func IsProvisioning(err error) bool {
	var target *ProvisioningError
	return errors.As(err, &target)
}

// SubprocessReasonOf returns the reason of a wrapped SubprocessError, or "" if there is none.
func SubprocessReasonOf(err error) SubprocessReason {
	var target *SubprocessError
	if errors.As(err, &target) {
		return target.Reason
	}
	return ""
}
