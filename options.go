package dpsdevice

import (
	"crypto/x509"
	"fmt"
	"io"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Option customizes the ClientOptions used for either the provisioning or the hub connection.
// Options are applied in the order given, after the defaults have been set.
type Option func(Identity, *mqtt.ClientOptions) error

// SASTTL sets the TTL of the shared access signatures created when connecting to the MQTT broker.
func SASTTL(ttl time.Duration) Option {
	return func(id Identity, opts *mqtt.ClientOptions) error {
		if ttl <= 0 {
			return fmt.Errorf("dpsdevice: SAS TTL must be positive, got %v", ttl)
		}
		opts.SetCredentialsProvider(id.credentialsProvider(ttl))
		return nil
	}
}

// ConnectTimeout sets how long paho waits for the CONNACK before giving up.
func ConnectTimeout(t time.Duration) Option {
	return func(_ Identity, opts *mqtt.ClientOptions) error {
		opts.SetConnectTimeout(t)
		return nil
	}
}

// KeepAlive sets the MQTT keepalive interval.
func KeepAlive(t time.Duration) Option {
	return func(_ Identity, opts *mqtt.ClientOptions) error {
		opts.SetKeepAlive(t)
		return nil
	}
}

// CACerts replaces the system root pool with the PEM certificates read from caCerts.
// The reader is consumed when CACerts is called so the option may be applied to more than one client.
func CACerts(caCerts io.Reader) Option {
	pemCerts, readErr := io.ReadAll(caCerts)
	return func(_ Identity, opts *mqtt.ClientOptions) error {
		if readErr != nil {
			return fmt.Errorf("dpsdevice: failed to read CA certs: %v", readErr)
		}
		certpool := x509.NewCertPool()
		if !certpool.AppendCertsFromPEM(pemCerts) {
			return fmt.Errorf("dpsdevice: no certs were parsed from given CA certs")
		}
		if opts.TLSConfig == nil {
			return fmt.Errorf("dpsdevice: no TLS configuration to attach CA certs to")
		}
		opts.TLSConfig.RootCAs = certpool
		return nil
	}
}
