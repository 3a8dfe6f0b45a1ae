package dpsdevice

import "fmt"

// DefaultPort is the port on which both the provisioning service and IoT hubs accept MQTT over TLS.
const DefaultPort = 8883

// DefaultProvisioningEndpoint is the global Device Provisioning Service endpoint.
var DefaultProvisioningEndpoint = Endpoint{
	Host: "global.azure-devices-provisioning.net",
	Port: DefaultPort,
}

// Endpoint represents an MQTT server.
type Endpoint struct {
	Host string
	Port int
}

// HubEndpoint returns the MQTT endpoint of the IoT hub with the given host name.
func HubEndpoint(host string) Endpoint {
	return Endpoint{Host: host, Port: DefaultPort}
}

// URL returns the URL of the MQTT server.
func (e *Endpoint) URL() string {
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("ssl://%v:%v", e.Host, port)
}

// String returns a string representation of the Endpoint.
func (e *Endpoint) String() string {
	return e.URL()
}
