package dpsdevice_test

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/mtraver/dpsdevice"
)

func Example() {
	cred := dpsdevice.NewCredential("my-device", dpsdevice.NewSecret(os.Getenv("SYMMETRIC_KEY")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pc := dpsdevice.NewProvisioningClient(dpsdevice.DefaultProvisioningEndpoint, "0ne00ABCDEF", cred)
	result, err := pc.Register(ctx)
	if err != nil {
		log.Fatalf("Failed to register device: %v", err)
	}

	session, err := dpsdevice.Dial(ctx, dpsdevice.Build(result, cred.Key))
	if err != nil {
		log.Fatalf("Failed to connect to IoT hub: %v", err)
	}
	defer session.Close()

	msg, err := dpsdevice.NewJSONMessage(map[string]float64{"temp": 18.0})
	if err != nil {
		log.Fatalf("Failed to build message: %v", err)
	}
	if err := session.Send(ctx, msg); err != nil {
		log.Printf("Failed to send: %v", err)
	}
}
