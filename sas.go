package dpsdevice

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jwt "github.com/golang-jwt/jwt/v4"
)

// DefaultSASTTL is the lifetime of shared access signatures unless SASTTL is given.
const DefaultSASTTL = 1 * time.Hour

// Identity is what an MQTT connection authenticates as: the MQTT username and the
// resource, key name and key a shared access signature is computed over.
type Identity struct {
	ClientID string
	Username string
	Resource string
	// KeyName is the skn field of the signature. It is empty for device-scoped keys.
	KeyName string
	Key     Secret
}

// SASToken returns a SharedAccessSignature for the identity, expiring at expiry.
func (id Identity) SASToken(expiry time.Time) (string, error) {
	return sasToken(id.Resource, id.Key, id.KeyName, expiry)
}

func (id Identity) credentialsProvider(ttl time.Duration) mqtt.CredentialsProvider {
	return func() (string, string) {
		token, err := id.SASToken(time.Now().Add(ttl))
		if err != nil {
			// We have no way to return an error, so set the password to a value that will fail
			// when used to authenticate.
			token = "error making SAS token"
		}
		return id.Username, token
	}
}

func sasToken(resource string, key Secret, keyName string, expiry time.Time) (string, error) {
	rawKey, err := base64.StdEncoding.DecodeString(key.reveal())
	if err != nil {
		return "", fmt.Errorf("dpsdevice: symmetric key is not valid base64: %v", err)
	}
	if len(rawKey) == 0 {
		return "", fmt.Errorf("dpsdevice: symmetric key is empty")
	}

	sr := url.QueryEscape(resource)
	se := strconv.FormatInt(expiry.Unix(), 10)

	// The HS256 signing method yields the raw HMAC-SHA256 in JWT segment encoding.
	seg, err := jwt.SigningMethodHS256.Sign(sr+"\n"+se, rawKey)
	if err != nil {
		return "", fmt.Errorf("dpsdevice: failed to sign SAS token: %v", err)
	}
	mac, err := jwt.DecodeSegment(seg)
	if err != nil {
		return "", fmt.Errorf("dpsdevice: failed to decode SAS signature: %v", err)
	}
	sig := base64.StdEncoding.EncodeToString(mac)

	token := fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s", sr, url.QueryEscape(sig), se)
	if keyName != "" {
		token += "&skn=" + url.QueryEscape(keyName)
	}
	return token, nil
}
