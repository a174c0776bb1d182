package gatekeeper

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"sync"
)

// Verifier checks a device's signature over the canonical request payload.
type Verifier interface {
	Verify(deviceID string, payload []byte, signature string) error
}

// DeviceRegistry holds registered device public keys. Keys arrive as base64
// SPKI and must be ECDSA P-256.
type DeviceRegistry struct {
	mu   sync.RWMutex
	keys map[string]*ecdsa.PublicKey
}

func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{keys: make(map[string]*ecdsa.PublicKey)}
}

// Register parses and stores a device key. Re-registration replaces the key.
func (r *DeviceRegistry) Register(deviceID, spkiBase64 string) error {
	if deviceID == "" {
		return fmt.Errorf("gatekeeper: empty device id")
	}
	der, err := base64.StdEncoding.DecodeString(spkiBase64)
	if err != nil {
		return fmt.Errorf("gatekeeper: decode public key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return fmt.Errorf("gatekeeper: parse public key: %w", err)
	}
	ec, ok := pub.(*ecdsa.PublicKey)
	if !ok || ec.Curve != elliptic.P256() {
		return fmt.Errorf("gatekeeper: public key must be ECDSA P-256")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[deviceID] = ec
	return nil
}

// Verify checks an ASN.1 ECDSA signature over sha256(payload).
func (r *DeviceRegistry) Verify(deviceID string, payload []byte, signature string) error {
	r.mu.RLock()
	key, ok := r.keys[deviceID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("gatekeeper: unknown device %q", deviceID)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("gatekeeper: decode signature: %w", err)
	}
	digest := sha256.Sum256(payload)
	if !ecdsa.VerifyASN1(key, digest[:], sig) {
		return fmt.Errorf("gatekeeper: signature mismatch for device %q", deviceID)
	}
	return nil
}

// Count reports how many devices are registered.
func (r *DeviceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}
