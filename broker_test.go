package dpsdevice

import "testing"

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		e    Endpoint
		want string
	}{
		{DefaultProvisioningEndpoint, "ssl://global.azure-devices-provisioning.net:8883"},
		{HubEndpoint("myhub.azure-devices.net"), "ssl://myhub.azure-devices.net:8883"},
		{Endpoint{Host: "localhost"}, "ssl://localhost:8883"},
		{Endpoint{Host: "localhost", Port: 443}, "ssl://localhost:443"},
	}
	for _, c := range cases {
		if got := c.e.URL(); got != c.want {
			t.Errorf("got %q, want %q", got, c.want)
		}
	}
}
