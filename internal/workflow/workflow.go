// Package workflow sequences a single provisioning and first-telemetry run:
// register with the provisioning service, build the connection descriptor, open a session
// with the assigned hub, and publish one message. Every step is one-shot; the first
// failure ends the run and is returned unchanged in kind.
package workflow

import (
	"context"
	"log/slog"

	"github.com/mtraver/dpsdevice"
	"github.com/mtraver/dpsdevice/internal/config"
)

// Registerer performs a single registration round trip.
type Registerer interface {
	Register(ctx context.Context) (*dpsdevice.ProvisioningResult, error)
}

// Publisher is an open telemetry session.
type Publisher interface {
	Send(ctx context.Context, msg *dpsdevice.Message) error
	Close() error
}

// Dialer opens telemetry sessions.
type Dialer interface {
	Dial(ctx context.Context, d dpsdevice.ConnectionDescriptor) (Publisher, error)
}

var _ Dialer = SessionDialer{}

// SessionDialer adapts a *dpsdevice.Dialer to Dialer.
type SessionDialer struct {
	*dpsdevice.Dialer
}

func (sd SessionDialer) Dial(ctx context.Context, d dpsdevice.ConnectionDescriptor) (Publisher, error) {
	s, err := sd.Dialer.Dial(ctx, d)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Workflow holds the collaborators of a run. They are supplied by the entry point.
type Workflow struct {
	Log *slog.Logger
	// NewRegisterer builds the provisioning collaborator once configuration has been validated.
	NewRegisterer func(cfg *config.Config) Registerer
	Dialer        Dialer
}

// Run validates cfg, registers the device, and publishes cfg.TelemetryPayload to the assigned hub.
// Configuration problems are reported before any network activity. Both suspension points are
// bounded by cfg's timeout in addition to ctx.
func (w *Workflow) Run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	msg, err := dpsdevice.NewMessage([]byte(cfg.TelemetryPayload))
	if err != nil {
		return &dpsdevice.ConfigurationError{Field: "TELEMETRY_PAYLOAD", Reason: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.TimeoutDuration())
	defer cancel()

	cred := cfg.Credential()
	endpoint := cfg.ProvisioningEndpoint()
	w.Log.Info("registering device", "registration_id", cred.RegistrationID, "endpoint", endpoint.URL(), "id_scope", cfg.IDScope)

	result, err := w.NewRegisterer(cfg).Register(ctx)
	if err != nil {
		return err
	}
	w.Log.Info("registration succeeded", "substatus", result.Substatus)
	w.Log.Info("assigned hub", "hub", result.AssignedHub)
	w.Log.Info("device id", "device_id", result.DeviceID)

	return w.Publish(ctx, dpsdevice.Build(result, cred.Key), msg)
}

// Publish opens a session described by d and sends msg once. Send is never attempted if the session
// fails to open.
func (w *Workflow) Publish(ctx context.Context, d dpsdevice.ConnectionDescriptor, msg *dpsdevice.Message) error {
	w.Log.Debug("connecting", "descriptor", d)

	session, err := w.Dialer.Dial(ctx, d)
	if err != nil {
		return err
	}
	defer session.Close()
	w.Log.Info("client connected", "hub", d.HostName)

	w.Log.Info("sending message", "bytes", len(msg.Payload))
	w.Log.Debug("message payload", "payload", string(msg.Payload))
	if err := session.Send(ctx, msg); err != nil {
		return err
	}
	w.Log.Info("message sent successfully")
	return nil
}

// Send publishes cfg.TelemetryPayload using the connection string in cfg, skipping provisioning.
func (w *Workflow) Send(ctx context.Context, cfg *config.Config) error {
	d, err := cfg.Descriptor()
	if err != nil {
		return err
	}
	msg, err := dpsdevice.NewMessage([]byte(cfg.TelemetryPayload))
	if err != nil {
		return &dpsdevice.ConfigurationError{Field: "TELEMETRY_PAYLOAD", Reason: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.TimeoutDuration())
	defer cancel()
	return w.Publish(ctx, d, msg)
}
