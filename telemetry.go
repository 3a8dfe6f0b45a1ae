package dpsdevice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const hubAPIVersion = "2021-04-12"

// State is the lifecycle state of a Session.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateSending
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateSending:
		return "sending"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Message is a single device-to-cloud telemetry message.
type Message struct {
	Payload []byte
	// Properties are encoded into the publish topic as IoT Hub message properties.
	Properties map[string]string
}

// NewMessage returns a message carrying payload, which must be a JSON object.
// Content type and encoding properties are set so the hub can route on the body.
func NewMessage(payload []byte) (*Message, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("dpsdevice: telemetry payload must be a JSON object: %v", err)
	}
	return &Message{
		Payload: payload,
		Properties: map[string]string{
			"$.ct": "application/json",
			"$.ce": "utf-8",
		},
	}, nil
}

// NewJSONMessage marshals v and returns it as a message.
func NewJSONMessage(v interface{}) (*Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("dpsdevice: failed to marshal telemetry: %v", err)
	}
	return NewMessage(b)
}

// TelemetryTopic returns the MQTT topic to which the device publishes device-to-cloud messages.
func TelemetryTopic(deviceID string, props map[string]string) string {
	return fmt.Sprintf("devices/%v/messages/events/%v", deviceID, encodeProperties(props))
}

func encodeProperties(props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.PathEscape(k)+"="+url.QueryEscape(props[k]))
	}
	return strings.Join(parts, "&")
}

// HubIdentity returns the MQTT identity a device uses to authenticate to its IoT hub.
func HubIdentity(d ConnectionDescriptor) Identity {
	return Identity{
		ClientID: d.DeviceID,
		Username: fmt.Sprintf("%v/%v/?api-version=%v", d.HostName, d.DeviceID, hubAPIVersion),
		Resource: fmt.Sprintf("%v/devices/%v", d.HostName, d.DeviceID),
		Key:      d.SharedAccessKey,
	}
}

// Dialer opens telemetry sessions.
type Dialer struct {
	// Port overrides DefaultPort for the hub connection.
	Port    int
	Options []Option

	newClient func(*mqtt.ClientOptions) mqttClient
}

// Dial opens a telemetry session using a default Dialer.
func Dial(ctx context.Context, d ConnectionDescriptor, options ...Option) (*Session, error) {
	return (&Dialer{Options: options}).Dial(ctx, d)
}

// Dial connects to the hub named by the descriptor and returns an open Session. It blocks until the
// MQTT handshake completes, fails, or ctx is done. Failures are returned as *ConnectionError.
func (dl *Dialer) Dial(ctx context.Context, d ConnectionDescriptor) (*Session, error) {
	s := &Session{deviceID: d.DeviceID, state: StateOpening}
	fail := func(err error) (*Session, error) {
		if s.client != nil {
			// Paho may still be dialing.
			s.close()
		} else {
			s.setState(StateClosed)
		}
		return nil, &ConnectionError{Host: d.HostName, Err: err}
	}

	endpoint := HubEndpoint(d.HostName)
	if dl.Port != 0 {
		endpoint.Port = dl.Port
	}
	opts, err := newClientOptions(endpoint, HubIdentity(d), dl.Options)
	if err != nil {
		return fail(err)
	}

	newClient := dl.newClient
	if newClient == nil {
		newClient = newPahoClient
	}
	s.client = newClient(opts)

	if err := wait(ctx, s.client.Connect()); err != nil {
		return fail(err)
	}
	s.setState(StateOpen)
	return s, nil
}

// Session is an open MQTT connection to an IoT hub. Its state moves
// Closed -> Opening -> Open -> Sending -> Open -> Closed; any failure moves it straight to Closed.
type Session struct {
	client   mqttClient
	deviceID string

	mu    sync.Mutex
	state State
}

// State returns the current state of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DeviceID returns the ID of the device the session authenticated as.
func (s *Session) DeviceID() string {
	return s.deviceID
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Send publishes msg at QoS 1 and waits for the hub's acknowledgement. On failure the session is closed
// and the error is returned as *SendError.
func (s *Session) Send(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	if s.state != StateOpen {
		st := s.state
		s.mu.Unlock()
		return &SendError{DeviceID: s.deviceID, Err: fmt.Errorf("%w (state %v)", ErrSessionNotOpen, st)}
	}
	s.state = StateSending
	s.mu.Unlock()

	if msg == nil {
		s.close()
		return &SendError{DeviceID: s.deviceID, Err: errors.New("nil message")}
	}

	token := s.client.Publish(TelemetryTopic(s.deviceID, msg.Properties), 1, false, msg.Payload)
	if err := wait(ctx, token); err != nil {
		s.close()
		return &SendError{DeviceID: s.deviceID, Err: err}
	}

	s.setState(StateOpen)
	return nil
}

// Close disconnects from the hub. It is safe to call more than once.
func (s *Session) Close() error {
	s.close()
	return nil
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.client.Disconnect(disconnectQuiesce)
}
