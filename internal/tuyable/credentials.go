package tuyable

import (
	"context"
	"errors"
	"strings"
)

// ErrNoCredentials is returned when a provider has nothing for an address.
var ErrNoCredentials = errors.New("tuyable: no credentials for device")

// Credentials are the per-device secrets and product identity normally
// fetched from the Tuya cloud.
type Credentials struct {
	UUID         string
	LocalKey     string
	DeviceID     string
	Category     string
	ProductID    string
	DeviceName   string
	ProductModel string
	ProductName  string
}

// CredentialProvider resolves credentials for a BLE address.
type CredentialProvider interface {
	DeviceCredentials(ctx context.Context, address string) (*Credentials, error)
}

// StaticCredentials serves credentials from a fixed table, keyed by address.
type StaticCredentials struct {
	byAddress map[string]Credentials
}

// NewStaticCredentials builds a provider from an address -> credentials map.
func NewStaticCredentials(entries map[string]Credentials) *StaticCredentials {
	s := &StaticCredentials{byAddress: make(map[string]Credentials, len(entries))}
	for addr, creds := range entries {
		s.byAddress[normalizeAddress(addr)] = creds
	}
	return s
}

func (s *StaticCredentials) DeviceCredentials(ctx context.Context, address string) (*Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	creds, ok := s.byAddress[normalizeAddress(address)]
	if !ok {
		return nil, ErrNoCredentials
	}
	return &creds, nil
}

func normalizeAddress(addr string) string {
	return strings.ToUpper(strings.ReplaceAll(addr, "-", ":"))
}
