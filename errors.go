package dpsdevice

import (
	"errors"
	"fmt"
)

// ErrSessionNotOpen is returned by Session.Send when the session is not in the Open state.
var ErrSessionNotOpen = errors.New("dpsdevice: session is not open")

// ConfigurationError reports a missing or invalid configuration input. It is raised before
// any network activity.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("dpsdevice: configuration %s: %s", e.Field, e.Reason)
}

// ProvisioningError reports a failed registration: the broker was unreachable, rejected
// the registration, returned a malformed response, or the wait was cancelled.
type ProvisioningError struct {
	RegistrationID string
	// Status is the status code the provisioning service answered with, or 0 if it never answered.
	Status int
	Err    error
}

func (e *ProvisioningError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("dpsdevice: provisioning %q failed with status %d: %v", e.RegistrationID, e.Status, e.Err)
	}
	return fmt.Sprintf("dpsdevice: provisioning %q failed: %v", e.RegistrationID, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// ConnectionError reports a failure to open a telemetry session.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("dpsdevice: failed to connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendError reports a failure to publish a telemetry message.
type SendError struct {
	DeviceID string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("dpsdevice: failed to send message for device %q: %v", e.DeviceID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
