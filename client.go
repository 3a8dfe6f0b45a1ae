package dpsdevice

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// disconnectQuiesce is how long, in milliseconds, Disconnect waits for in-flight work.
const disconnectQuiesce = 250

// mqttClient is the subset of mqtt.Client used by this package.
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

func newPahoClient(opts *mqtt.ClientOptions) mqttClient {
	return mqtt.NewClient(opts)
}

// newClientOptions sets up a ClientOptions with the minimal options required to establish a
// connection for the given identity:
//
//   - Broker
//   - Client ID
//   - TLS configuration using the system roots
//   - A credentials provider that creates a new SAS token on each connection attempt
//
// Automatic reconnects and connect retries are disabled; a failed connection is reported to the caller.
func newClientOptions(endpoint Endpoint, id Identity, options []Option) (*mqtt.ClientOptions, error) {
	// Surface a bad key now rather than as an opaque authentication failure.
	if _, err := id.SASToken(time.Now()); err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(endpoint.URL())
	opts.SetClientID(id.ClientID)
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetTLSConfig(&tls.Config{
		ServerName: endpoint.Host,
		MinVersion: tls.VersionTLS12,
	})
	opts.SetCredentialsProvider(id.credentialsProvider(DefaultSASTTL))

	for _, option := range options {
		if err := option(id, opts); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// wait blocks until the token completes or ctx is done.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitOp(ctx context.Context, op string, token mqtt.Token) error {
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
