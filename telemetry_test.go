package dpsdevice

import (
	"context"
	"errors"
	"testing"
)

var testDescriptor = ConnectionDescriptor{
	HostName:        "myhub.azure-devices.net",
	DeviceID:        "dev-001",
	SharedAccessKey: testKey,
}

func TestTelemetryTopic(t *testing.T) {
	want := "devices/dev-001/messages/events/$.ce=utf-8&$.ct=application%2Fjson"
	got := TelemetryTopic("dev-001", map[string]string{"$.ct": "application/json", "$.ce": "utf-8"})
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	want = "devices/dev-001/messages/events/"
	if got := TelemetryTopic("dev-001", nil); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestHubIdentity(t *testing.T) {
	id := HubIdentity(testDescriptor)
	if want := "myhub.azure-devices.net/dev-001/?api-version=2021-04-12"; id.Username != want {
		t.Errorf("got username %q, want %q", id.Username, want)
	}
	if want := "myhub.azure-devices.net/devices/dev-001"; id.Resource != want {
		t.Errorf("got resource %q, want %q", id.Resource, want)
	}
	if id.KeyName != "" {
		t.Errorf("got key name %q, want none", id.KeyName)
	}
}

func TestNewMessage(t *testing.T) {
	msg, err := NewJSONMessage(map[string]int{"test": 12345})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := string(msg.Payload), `{"test":12345}`; got != want {
		t.Errorf("got payload %q, want %q", got, want)
	}
	if msg.Properties["$.ct"] != "application/json" {
		t.Errorf("got content type %q", msg.Properties["$.ct"])
	}

	for _, p := range []string{`[1,2]`, `12345`, `{`} {
		if _, err := NewMessage([]byte(p)); err == nil {
			t.Errorf("%q: expected error", p)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	fc := &fakeClient{}
	dl := &Dialer{newClient: fc.factory()}

	s, err := dl.Dial(context.Background(), testDescriptor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != StateOpen {
		t.Fatalf("got state %v after dial, want %v", s.State(), StateOpen)
	}
	if fc.opts.Servers[0].String() != "ssl://myhub.azure-devices.net:8883" {
		t.Errorf("got server %v", fc.opts.Servers[0])
	}
	if fc.opts.ClientID != "dev-001" {
		t.Errorf("got client ID %q", fc.opts.ClientID)
	}

	var during State
	fc.onPublish = func(c *fakeClient, topic string, payload []byte) *fakeToken {
		during = s.State()
		return completed(nil)
	}

	msg, _ := NewMessage([]byte(`{"test":12345}`))
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if during != StateSending {
		t.Errorf("got state %v while publishing, want %v", during, StateSending)
	}
	if s.State() != StateOpen {
		t.Errorf("got state %v after send, want %v", s.State(), StateOpen)
	}

	pubs := fc.publications()
	if len(pubs) != 1 || string(pubs[0].payload) != `{"test":12345}` {
		t.Fatalf("got publications %+v", pubs)
	}
	if want := "devices/dev-001/messages/events/$.ce=utf-8&$.ct=application%2Fjson"; pubs[0].topic != want {
		t.Errorf("got topic %q, want %q", pubs[0].topic, want)
	}

	s.Close()
	s.Close()
	if s.State() != StateClosed {
		t.Errorf("got state %v after close, want %v", s.State(), StateClosed)
	}
	if !fc.disconnected {
		t.Error("client was not disconnected")
	}

	err = s.Send(context.Background(), msg)
	if !errors.Is(err, ErrSessionNotOpen) {
		t.Errorf("got %v, want ErrSessionNotOpen", err)
	}
}

func TestDialFailure(t *testing.T) {
	fc := &fakeClient{connectToken: completed(errors.New("not authorized"))}
	dl := &Dialer{newClient: fc.factory()}

	s, err := dl.Dial(context.Background(), testDescriptor)
	if s != nil {
		t.Error("expected nil session")
	}
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want *ConnectionError", err)
	}
	if ce.Host != "myhub.azure-devices.net" {
		t.Errorf("got host %q", ce.Host)
	}
	if !fc.disconnected {
		t.Error("client was not disconnected after a failed connect")
	}
}

func TestDialCancelled(t *testing.T) {
	fc := &fakeClient{connectToken: pending()}
	dl := &Dialer{newClient: fc.factory()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dl.Dial(ctx, testDescriptor)
	var ce *ConnectionError
	if !errors.As(err, &ce) || !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want *ConnectionError wrapping context.Canceled", err)
	}
	if !fc.disconnected {
		t.Error("client abandoned mid-handshake was not disconnected")
	}
}

func TestSendFailureClosesSession(t *testing.T) {
	fc := &fakeClient{
		onPublish: func(c *fakeClient, topic string, payload []byte) *fakeToken {
			return completed(errors.New("connection lost"))
		},
	}
	s, err := (&Dialer{newClient: fc.factory()}).Dial(context.Background(), testDescriptor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg, _ := NewMessage([]byte(`{"test":1}`))
	err = s.Send(context.Background(), msg)
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *SendError", err)
	}
	if s.State() != StateClosed {
		t.Errorf("got state %v, want %v", s.State(), StateClosed)
	}
	if !fc.disconnected {
		t.Error("client was not disconnected")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:  "closed",
		StateOpening: "opening",
		StateOpen:    "open",
		StateSending: "sending",
		State(9):     "State(9)",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
