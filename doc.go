// Package dpsdevice provisions a device through the Azure IoT Hub Device Provisioning Service
// using a symmetric key and then publishes telemetry to the IoT hub the device was assigned to.
// Both legs run over MQTT with TLS. It handles shared access signature generation, the
// provisioning request/poll exchange, and construction of the connection descriptor and
// telemetry topics that IoT Hub expects.
package dpsdevice
