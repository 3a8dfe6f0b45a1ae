// Package config loads the device configuration from the environment and an optional .env file using Viper.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/mtraver/dpsdevice"
)

// DefaultPayload is the telemetry sent when TELEMETRY_PAYLOAD is unset.
const DefaultPayload = `{"test":12345}`

// Config holds device configuration.
type Config struct {
	// ProvisioningHost is the Device Provisioning Service host (e.g. global.azure-devices-provisioning.net).
	ProvisioningHost string `mapstructure:"PROVISIONING_HOST"`
	ProvisioningPort int    `mapstructure:"PROVISIONING_PORT"`
	// IDScope is the ID scope of the provisioning service instance.
	IDScope string `mapstructure:"ID_SCOPE"`
	// RegistrationID identifies the enrollment; it usually becomes the device ID.
	RegistrationID string `mapstructure:"REGISTRATION_ID"`
	// HubPort overrides the MQTT port of the assigned hub.
	HubPort int `mapstructure:"HUB_PORT"`
	// CACerts is the path to a PEM bundle of trusted roots. Empty means the system roots.
	CACerts string `mapstructure:"CA_CERTS"`
	// Timeout bounds provisioning and the telemetry session together (e.g. "60s").
	Timeout string `mapstructure:"TIMEOUT"`
	// SASTTL is the lifetime of the shared access signatures presented on connect.
	SASTTL string `mapstructure:"SAS_TTL"`
	// TelemetryPayload is the JSON object published once the device is connected.
	TelemetryPayload string `mapstructure:"TELEMETRY_PAYLOAD"`

	// SymmetricKey is the base64 enrollment key. It is read outside of Unmarshal so that it never
	// sits in a plain string field.
	SymmetricKey dpsdevice.Secret `mapstructure:"-"`
	// ConnectionString, when set, lets the send command skip provisioning.
	ConnectionString dpsdevice.Secret `mapstructure:"-"`
}

// Load reads envFile (".env" if empty) when present, then builds Config from the environment via Viper.
// Environment variables override the file. Load does not validate; see Validate.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}

	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, &dpsdevice.ConfigurationError{Field: "env file", Reason: err.Error()}
	}

	v.AutomaticEnv()

	v.SetDefault("PROVISIONING_HOST", "")
	v.SetDefault("PROVISIONING_PORT", dpsdevice.DefaultPort)
	v.SetDefault("ID_SCOPE", "")
	v.SetDefault("REGISTRATION_ID", "")
	v.SetDefault("SYMMETRIC_KEY", "")
	v.SetDefault("HUB_PORT", dpsdevice.DefaultPort)
	v.SetDefault("CA_CERTS", "")
	v.SetDefault("TIMEOUT", "60s")
	v.SetDefault("SAS_TTL", "1h")
	v.SetDefault("TELEMETRY_PAYLOAD", DefaultPayload)
	v.SetDefault("DEVICE_CONNECTION_STRING", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &dpsdevice.ConfigurationError{Field: "environment", Reason: err.Error()}
	}
	cfg.SymmetricKey = dpsdevice.NewSecret(v.GetString("SYMMETRIC_KEY"))
	cfg.ConnectionString = dpsdevice.NewSecret(v.GetString("DEVICE_CONNECTION_STRING"))

	return &cfg, nil
}

// isNotFound reports whether err means the env file does not exist, which is not an error.
func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound)
}

// Validate checks everything provisioning needs. The first problem found is returned as a
// *dpsdevice.ConfigurationError.
func (c *Config) Validate() error {
	required := []struct {
		field string
		empty bool
	}{
		{"PROVISIONING_HOST", c.ProvisioningHost == ""},
		{"ID_SCOPE", c.IDScope == ""},
		{"REGISTRATION_ID", c.RegistrationID == ""},
		{"SYMMETRIC_KEY", c.SymmetricKey.IsZero()},
	}
	for _, r := range required {
		if r.empty {
			return missing(r.field)
		}
	}
	return c.validateCommon()
}

// Descriptor parses DEVICE_CONNECTION_STRING for publishing without provisioning.
func (c *Config) Descriptor() (dpsdevice.ConnectionDescriptor, error) {
	if c.ConnectionString.IsZero() {
		return dpsdevice.ConnectionDescriptor{}, missing("DEVICE_CONNECTION_STRING")
	}
	if err := c.validateCommon(); err != nil {
		return dpsdevice.ConnectionDescriptor{}, err
	}
	d, err := dpsdevice.ParseConnectionStringSecret(c.ConnectionString)
	if err != nil {
		return dpsdevice.ConnectionDescriptor{}, &dpsdevice.ConfigurationError{Field: "DEVICE_CONNECTION_STRING", Reason: err.Error()}
	}
	return d, nil
}

func (c *Config) validateCommon() error {
	if c.ProvisioningPort <= 0 || c.ProvisioningPort > 65535 {
		return invalid("PROVISIONING_PORT", "must be a TCP port")
	}
	if c.HubPort <= 0 || c.HubPort > 65535 {
		return invalid("HUB_PORT", "must be a TCP port")
	}
	if d, err := time.ParseDuration(c.Timeout); err != nil || d <= 0 {
		return invalid("TIMEOUT", "must be a positive duration")
	}
	if d, err := time.ParseDuration(c.SASTTL); err != nil || d <= 0 {
		return invalid("SAS_TTL", "must be a positive duration")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(c.TelemetryPayload), &obj); err != nil {
		return invalid("TELEMETRY_PAYLOAD", "must be a JSON object")
	}
	return nil
}

// Credential returns the symmetric key credential the device provisions with.
func (c *Config) Credential() dpsdevice.Credential {
	return dpsdevice.NewCredential(c.RegistrationID, c.SymmetricKey)
}

// ProvisioningEndpoint returns the MQTT endpoint of the provisioning service.
func (c *Config) ProvisioningEndpoint() dpsdevice.Endpoint {
	return dpsdevice.Endpoint{Host: c.ProvisioningHost, Port: c.ProvisioningPort}
}

// TimeoutDuration parses Timeout. Returns 60s if unset or invalid.
func (c *Config) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// SASTTLDuration parses SASTTL. Returns dpsdevice.DefaultSASTTL if unset or invalid.
func (c *Config) SASTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.SASTTL)
	if err != nil || d <= 0 {
		return dpsdevice.DefaultSASTTL
	}
	return d
}

func missing(field string) error {
	return &dpsdevice.ConfigurationError{Field: field, Reason: "must be set"}
}

func invalid(field, reason string) error {
	return &dpsdevice.ConfigurationError{Field: field, Reason: reason}
}
