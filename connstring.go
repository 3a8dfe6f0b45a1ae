package dpsdevice

import (
	"fmt"
	"log/slog"
	"strings"
)

// ConnectionDescriptor holds the values needed to open a telemetry session with an IoT hub.
type ConnectionDescriptor struct {
	HostName        string
	DeviceID        string
	SharedAccessKey Secret
}

// Build composes the descriptor for the hub and device the provisioning service assigned. It is a pure function.
func Build(result *ProvisioningResult, key Secret) ConnectionDescriptor {
	return ConnectionDescriptor{
		HostName:        result.AssignedHub,
		DeviceID:        result.DeviceID,
		SharedAccessKey: key,
	}
}

// ConnectionString returns the descriptor in IoT Hub connection string form, including the key in cleartext.
// Hand it only to code that authenticates with it; use String for anything that may be logged.
func (d ConnectionDescriptor) ConnectionString() string {
	return d.format(d.SharedAccessKey.reveal())
}

// String returns the connection string with the key redacted.
func (d ConnectionDescriptor) String() string {
	return d.format(redacted)
}

// LogValue implements slog.LogValuer.
func (d ConnectionDescriptor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", d.HostName),
		slog.String("device_id", d.DeviceID),
		slog.Any("shared_access_key", d.SharedAccessKey),
	)
}

func (d ConnectionDescriptor) format(key string) string {
	return fmt.Sprintf("HostName=%s;DeviceId=%s;SharedAccessKey=%s", d.HostName, d.DeviceID, key)
}

// ParseConnectionString parses a device connection string of the form
// HostName=...;DeviceId=...;SharedAccessKey=... . Unknown fields are ignored.
func ParseConnectionString(s string) (ConnectionDescriptor, error) {
	var d ConnectionDescriptor
	for _, part := range strings.Split(strings.TrimSpace(s), ";") {
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionDescriptor{}, fmt.Errorf("dpsdevice: malformed connection string field %q", k)
		}
		switch k {
		case "HostName":
			d.HostName = v
		case "DeviceId":
			d.DeviceID = v
		case "SharedAccessKey":
			d.SharedAccessKey = NewSecret(v)
		}
	}

	switch {
	case d.HostName == "":
		return ConnectionDescriptor{}, fmt.Errorf("dpsdevice: connection string is missing HostName")
	case d.DeviceID == "":
		return ConnectionDescriptor{}, fmt.Errorf("dpsdevice: connection string is missing DeviceId")
	case d.SharedAccessKey.IsZero():
		return ConnectionDescriptor{}, fmt.Errorf("dpsdevice: connection string is missing SharedAccessKey")
	}
	return d, nil
}

// ParseConnectionStringSecret is ParseConnectionString for a connection string held as a Secret.
func ParseConnectionStringSecret(s Secret) (ConnectionDescriptor, error) {
	return ParseConnectionString(s.reveal())
}
