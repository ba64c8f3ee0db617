package tuyable

import (
	"context"
	"errors"
	"testing"
)

func TestDeviceDispatch(t *testing.T) {
	d := NewDevice(Info{Address: "AA:BB:CC:DD:EE:FF", DeviceID: "dev1"})

	var connected, disconnected int
	var batches [][]DataPoint
	d.RegisterConnectedCallback(func() { connected++ })
	d.RegisterDisconnectedCallback(func() { disconnected++ })
	d.RegisterCallback(func(u []DataPoint) { batches = append(batches, u) })

	d.DispatchConnected()
	d.DispatchUpdate([]DataPoint{{ID: 1, Value: true}})
	d.DispatchDisconnected()

	if connected != 1 {
		t.Errorf("connected = %d, want 1", connected)
	}
	if disconnected != 1 {
		t.Errorf("disconnected = %d, want 1", disconnected)
	}
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0].ID != 1 {
		t.Errorf("batches = %v, want one batch with id 1", batches)
	}
}

func TestDeviceRemoveCallback(t *testing.T) {
	d := NewDevice(Info{})
	calls := 0
	remove := d.RegisterConnectedCallback(func() { calls++ })

	d.DispatchConnected()
	remove()
	d.DispatchConnected()

	if calls != 1 {
		t.Errorf("calls = %d, want 1 after removal", calls)
	}
}

func TestDeviceIdentity(t *testing.T) {
	d := NewDevice(Info{Address: "AA:BB", DeviceID: "x"})
	if d.Address() != "AA:BB" || d.DeviceID() != "x" {
		t.Errorf("identity = (%q, %q), want (AA:BB, x)", d.Address(), d.DeviceID())
	}
}

func TestStaticCredentials(t *testing.T) {
	p := NewStaticCredentials(map[string]Credentials{
		"aa-bb-cc-dd-ee-ff": {DeviceID: "dev1", Category: "szjqr"},
	})

	creds, err := p.DeviceCredentials(context.Background(), "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("DeviceCredentials() error = %v", err)
	}
	if creds.DeviceID != "dev1" {
		t.Errorf("DeviceID = %q, want %q", creds.DeviceID, "dev1")
	}

	_, err = p.DeviceCredentials(context.Background(), "11:22:33:44:55:66")
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("unknown address error = %v, want ErrNoCredentials", err)
	}
}

func TestStaticCredentialsCancelledContext(t *testing.T) {
	p := NewStaticCredentials(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.DeviceCredentials(ctx, "AA"); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
