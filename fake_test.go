package dpsdevice

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is an mqtt.Token. A nil done channel means the token is already complete.
type fakeToken struct {
	err  error
	done chan struct{}
}

func completed(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func pending() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type publication struct {
	topic   string
	payload []byte
}

// fakeClient records what it is asked to do. onPublish, if set, decides the token returned
// for each publish and may deliver messages to the subscription handler through deliver.
type fakeClient struct {
	opts         *mqtt.ClientOptions
	connectToken *fakeToken
	onPublish    func(c *fakeClient, topic string, payload []byte) *fakeToken

	mu           sync.Mutex
	connects     int
	subscribed   []string
	handler      mqtt.MessageHandler
	published    []publication
	disconnected bool
}

func (c *fakeClient) factory() func(*mqtt.ClientOptions) mqttClient {
	return func(opts *mqtt.ClientOptions) mqttClient {
		c.opts = opts
		return c
	}
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connects++
	c.mu.Unlock()
	if c.connectToken != nil {
		return c.connectToken
	}
	return completed(nil)
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	c.handler = callback
	return completed(nil)
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b, _ := payload.([]byte)
	c.mu.Lock()
	c.published = append(c.published, publication{topic: topic, payload: b})
	c.mu.Unlock()
	if c.onPublish != nil {
		return c.onPublish(c, topic, b)
	}
	return completed(nil)
}

func (c *fakeClient) deliver(topic string, payload string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(nil, &fakeMessage{topic: topic, payload: []byte(payload)})
}

func (c *fakeClient) publications() []publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publication(nil), c.published...)
}
