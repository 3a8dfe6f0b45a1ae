package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/mtraver/dpsdevice"
	"github.com/mtraver/dpsdevice/internal/config"
	"github.com/mtraver/dpsdevice/internal/workflow"
)

const usage = `Registers this device with the Azure IoT Hub Device Provisioning Service using a symmetric key,
then connects to the assigned hub and sends one telemetry message.

Configuration is read from PROVISIONING_HOST, ID_SCOPE, REGISTRATION_ID and SYMMETRIC_KEY.`

// buildFunc constructs the collaborators of a run.
type buildFunc func(log *slog.Logger, cfg *config.Config) (*workflow.Workflow, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp(newWorkflow).RunContext(ctx, os.Args); err != nil {
		stop()
		os.Exit(1)
	}
}

func newApp(build buildFunc) *cli.App {
	provision := func(cCtx *cli.Context) error {
		return run(cCtx, build, func(wf *workflow.Workflow, cfg *config.Config) error {
			return wf.Run(cCtx.Context, cfg)
		})
	}

	// The flags are global only. Subcommands read them through the context lineage, so
	// "provision-device --env-file x send" sees x.
	return &cli.App{
		Name:   "provision-device",
		Usage:  usage,
		Flags:  commonFlags,
		Action: provision,
		Commands: []*cli.Command{
			{
				Name:   "provision",
				Usage:  "register with the provisioning service and send one message to the assigned hub",
				Action: provision,
			},
			{
				Name:  "send",
				Usage: "send one message using DEVICE_CONNECTION_STRING, without provisioning",
				Action: func(cCtx *cli.Context) error {
					return run(cCtx, build, func(wf *workflow.Workflow, cfg *config.Config) error {
						return wf.Send(cCtx.Context, cfg)
					})
				},
			},
		},
	}
}

func run(cCtx *cli.Context, build buildFunc, step func(*workflow.Workflow, *config.Config) error) error {
	log := setupLogger(cCtx)

	err := func() error {
		cfg, err := config.Load(cCtx.String(flagEnvFile.Name))
		if err != nil {
			return err
		}
		wf, err := build(log, cfg)
		if err != nil {
			return err
		}
		return step(wf, cfg)
	}()
	if err != nil {
		log.Error("workflow failed", "kind", errorKind(err), "err", err)
		return err
	}
	return nil
}

func newWorkflow(log *slog.Logger, cfg *config.Config) (*workflow.Workflow, error) {
	options := []dpsdevice.Option{dpsdevice.SASTTL(cfg.SASTTLDuration())}
	if cfg.CACerts != "" {
		f, err := os.Open(cfg.CACerts)
		if err != nil {
			return nil, &dpsdevice.ConfigurationError{Field: "CA_CERTS", Reason: err.Error()}
		}
		// CACerts reads f to the end before returning.
		options = append(options, dpsdevice.CACerts(f))
		f.Close()
	}

	return &workflow.Workflow{
		Log: log,
		NewRegisterer: func(cfg *config.Config) workflow.Registerer {
			return dpsdevice.NewProvisioningClient(cfg.ProvisioningEndpoint(), cfg.IDScope, cfg.Credential(), options...)
		},
		Dialer: workflow.SessionDialer{Dialer: &dpsdevice.Dialer{Port: cfg.HubPort, Options: options}},
	}, nil
}

// errorKind names the step that failed, for the diagnostic logged before exiting.
func errorKind(err error) string {
	var (
		cfgErr  *dpsdevice.ConfigurationError
		provErr *dpsdevice.ProvisioningError
		connErr *dpsdevice.ConnectionError
		sendErr *dpsdevice.SendError
	)
	kind := "unknown"
	switch {
	case errors.As(err, &cfgErr):
		kind = "configuration"
	case errors.As(err, &provErr):
		kind = "provisioning"
	case errors.As(err, &connErr):
		kind = "connection"
	case errors.As(err, &sendErr):
		kind = "send"
	}

	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Sprintf("%s (cancelled)", kind)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s (timeout)", kind)
	}
	return kind
}
