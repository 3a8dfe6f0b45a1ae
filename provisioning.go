package dpsdevice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	provisioningAPIVersion = "2019-03-31"

	// registrationKeyName is the skn of signatures presented by individually enrolled devices.
	registrationKeyName = "registration"

	responseTopicPrefix = "$dps/registrations/res/"
	responseTopicFilter = responseTopicPrefix + "#"

	// DefaultRetryAfter is how long to wait before polling an in-progress registration when
	// the provisioning service does not say.
	DefaultRetryAfter = 3 * time.Second
)

// ProvisioningResult is what the provisioning service assigned to a device.
type ProvisioningResult struct {
	RegistrationID string
	AssignedHub    string
	DeviceID       string
	Substatus      string
	// Payload is the custom allocation payload returned by the service, if any.
	Payload json.RawMessage
}

// ProvisioningClient registers a single device with the Device Provisioning Service.
type ProvisioningClient struct {
	Endpoint   Endpoint
	IDScope    string
	Credential Credential
	// Payload, if set, is sent as the custom payload of the registration request.
	Payload json.RawMessage

	options   []Option
	newClient func(*mqtt.ClientOptions) mqttClient
}

// NewProvisioningClient returns a client that registers cred under the given ID scope at endpoint.
func NewProvisioningClient(endpoint Endpoint, idScope string, cred Credential, options ...Option) *ProvisioningClient {
	return &ProvisioningClient{
		Endpoint:   endpoint,
		IDScope:    idScope,
		Credential: cred,
		options:    options,
		newClient:  newPahoClient,
	}
}

// Identity returns the MQTT identity used to authenticate to the provisioning service.
func (c *ProvisioningClient) Identity() Identity {
	regID := c.Credential.RegistrationID
	return Identity{
		ClientID: regID,
		Username: fmt.Sprintf("%v/registrations/%v/api-version=%v", c.IDScope, regID, provisioningAPIVersion),
		Resource: fmt.Sprintf("%v/registrations/%v", c.IDScope, regID),
		KeyName:  registrationKeyName,
		Key:      c.Credential.Key,
	}
}

// RegisterTopic returns the topic a registration request with the given request ID is published to.
func RegisterTopic(rid string) string {
	return fmt.Sprintf("$dps/registrations/PUT/iotdps-register/?$rid=%v", rid)
}

// OperationStatusTopic returns the topic used to poll the status of a registration operation.
func OperationStatusTopic(rid, operationID string) string {
	return fmt.Sprintf("$dps/registrations/GET/iotdps-get-operationstatus/?$rid=%v&operationId=%v", rid, operationID)
}

// Register performs one registration round trip. It connects to the provisioning service,
// submits the registration, polls the operation until the service reaches a final status,
// and disconnects. It does not retry. If ctx is cancelled or its deadline passes first,
// the returned ProvisioningError wraps ctx.Err().
func (c *ProvisioningClient) Register(ctx context.Context) (*ProvisioningResult, error) {
	regID := c.Credential.RegistrationID
	fail := func(status int, err error) (*ProvisioningResult, error) {
		return nil, &ProvisioningError{RegistrationID: regID, Status: status, Err: err}
	}

	opts, err := newClientOptions(c.Endpoint, c.Identity(), c.options)
	if err != nil {
		return fail(0, err)
	}
	client := c.newClient(opts)

	if err := waitOp(ctx, "connect", client.Connect()); err != nil {
		client.Disconnect(disconnectQuiesce)
		return fail(0, err)
	}
	defer client.Disconnect(disconnectQuiesce)

	done := make(chan struct{})
	defer close(done)
	responses := make(chan provisioningResponse, 8)
	handler := func(_ mqtt.Client, m mqtt.Message) {
		resp, err := parseResponseTopic(m.Topic())
		if err != nil {
			return
		}
		resp.body = m.Payload()
		select {
		case responses <- resp:
		case <-done:
		}
	}
	if err := waitOp(ctx, "subscribe", client.Subscribe(responseTopicFilter, 1, handler)); err != nil {
		return fail(0, err)
	}

	req, err := json.Marshal(registrationRequest{RegistrationID: regID, Payload: c.Payload})
	if err != nil {
		return fail(0, err)
	}
	rid := uuid.NewString()
	if err := waitOp(ctx, "publish registration", client.Publish(RegisterTopic(rid), 1, false, req)); err != nil {
		return fail(0, err)
	}

	for {
		var resp provisioningResponse
		select {
		case <-ctx.Done():
			return fail(0, ctx.Err())
		case resp = <-responses:
		}
		if resp.rid != rid {
			continue
		}

		if resp.status >= 300 {
			return fail(resp.status, decodeServiceError(resp.body))
		}

		var op registrationOperation
		if err := json.Unmarshal(resp.body, &op); err != nil {
			return fail(resp.status, fmt.Errorf("malformed registration response: %w", err))
		}

		switch strings.ToLower(op.Status) {
		case "assigned":
			return op.result(regID)
		case "assigning", "unassigned":
			if op.OperationID == "" {
				return fail(resp.status, errors.New("malformed registration response: missing operationId"))
			}
		case "failed", "disabled":
			return fail(resp.status, op.stateError())
		default:
			return fail(resp.status, fmt.Errorf("malformed registration response: unknown status %q", op.Status))
		}

		select {
		case <-ctx.Done():
			return fail(0, ctx.Err())
		case <-time.After(resp.retryAfter):
		}

		rid = uuid.NewString()
		if err := waitOp(ctx, "publish operation status query", client.Publish(OperationStatusTopic(rid, op.OperationID), 1, false, []byte{})); err != nil {
			return fail(0, err)
		}
	}
}

type registrationRequest struct {
	RegistrationID string          `json:"registrationId"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type registrationOperation struct {
	OperationID       string             `json:"operationId"`
	Status            string             `json:"status"`
	RegistrationState *registrationState `json:"registrationState,omitempty"`
}

type registrationState struct {
	RegistrationID string          `json:"registrationId"`
	AssignedHub    string          `json:"assignedHub"`
	DeviceID       string          `json:"deviceId"`
	Status         string          `json:"status"`
	Substatus      string          `json:"substatus"`
	ErrorCode      int64           `json:"errorCode"`
	ErrorMessage   string          `json:"errorMessage"`
	Payload        json.RawMessage `json:"payload"`
}

func (op *registrationOperation) result(regID string) (*ProvisioningResult, error) {
	st := op.RegistrationState
	if st == nil || st.AssignedHub == "" || st.DeviceID == "" {
		return nil, &ProvisioningError{
			RegistrationID: regID,
			Status:         200,
			Err:            errors.New("malformed registration response: missing assigned hub or device ID"),
		}
	}
	id := st.RegistrationID
	if id == "" {
		id = regID
	}
	return &ProvisioningResult{
		RegistrationID: id,
		AssignedHub:    st.AssignedHub,
		DeviceID:       st.DeviceID,
		Substatus:      st.Substatus,
		Payload:        st.Payload,
	}, nil
}

func (op *registrationOperation) stateError() error {
	if st := op.RegistrationState; st != nil && (st.ErrorCode != 0 || st.ErrorMessage != "") {
		return fmt.Errorf("registration %s: %s (code %d)", op.Status, st.ErrorMessage, st.ErrorCode)
	}
	return fmt.Errorf("registration %s", op.Status)
}

type serviceError struct {
	ErrorCode  int64  `json:"errorCode"`
	TrackingID string `json:"trackingId"`
	Message    string `json:"message"`
}

func decodeServiceError(body []byte) error {
	var se serviceError
	if err := json.Unmarshal(body, &se); err != nil || (se.ErrorCode == 0 && se.Message == "") {
		return fmt.Errorf("registration rejected: %s", strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("registration rejected: %s (code %d, tracking ID %s)", se.Message, se.ErrorCode, se.TrackingID)
}

type provisioningResponse struct {
	status     int
	rid        string
	retryAfter time.Duration
	body       []byte
}

// parseResponseTopic decodes a topic of the form $dps/registrations/res/{status}/?$rid={rid}&retry-after={s}.
func parseResponseTopic(topic string) (provisioningResponse, error) {
	rest, ok := strings.CutPrefix(topic, responseTopicPrefix)
	if !ok {
		return provisioningResponse{}, fmt.Errorf("dpsdevice: unexpected response topic %q", topic)
	}
	statusStr, query, _ := strings.Cut(rest, "/?")
	status, err := strconv.Atoi(statusStr)
	if err != nil {
		return provisioningResponse{}, fmt.Errorf("dpsdevice: bad status in response topic %q", topic)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return provisioningResponse{}, fmt.Errorf("dpsdevice: bad query in response topic %q: %v", topic, err)
	}

	resp := provisioningResponse{
		status:     status,
		rid:        values.Get("$rid"),
		retryAfter: DefaultRetryAfter,
	}
	if ra := values.Get("retry-after"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
			resp.retryAfter = time.Duration(secs) * time.Second
		}
	}
	return resp, nil
}
