package dpsdevice

import (
	"encoding/json"
	"log/slog"
)

const redacted = "[REDACTED]"

// Secret holds a sensitive string such as a symmetric key. Every formatting path
// (fmt verbs, slog, JSON) yields a redaction marker instead of the value; only this
// package reads the cleartext, when signing or when composing a connection string.
type Secret struct {
	value string
}

// NewSecret wraps s.
func NewSecret(s string) Secret {
	return Secret{value: s}
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s.value == ""
}

func (s Secret) String() string {
	return redacted
}

func (s Secret) GoString() string {
	return "dpsdevice.Secret{" + redacted + "}"
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

func (s Secret) reveal() string {
	return s.value
}

// Credential is the symmetric key identity a device presents to the provisioning service.
type Credential struct {
	RegistrationID string
	Key            Secret
}

// NewCredential returns a Credential for the given registration ID and base64 encoded symmetric key.
func NewCredential(registrationID string, key Secret) Credential {
	return Credential{RegistrationID: registrationID, Key: key}
}
