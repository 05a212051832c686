package model

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Ownership records who created a subdevice: the platform UI, or the
// gateway acting on its owner's behalf.
type Ownership string

const (
	OwnershipPlatform Ownership = "Platform"
	OwnershipGateway  Ownership = "Gateway"
)

// DeviceIdentity is the credential/identity triple a subdevice presents
// when registering through the gateway.
type DeviceIdentity struct {
	Key      string `validate:"required"`
	Password string
	Name     string
}

var identityValidate = validator.New()

// Validate rejects identities the gateway must never accept: an empty
// key breaks the repository's uniqueness invariant.
func (d DeviceIdentity) Validate() error {
	if err := identityValidate.Struct(d); err != nil {
		return fmt.Errorf("device identity: %w", err)
	}
	return nil
}

// StoredDeviceInformation is the repository's record of a known
// subdevice: its key, who owns it, and when the gateway learned of it.
type StoredDeviceInformation struct {
	DeviceKey  string
	Ownership  Ownership
	AcquiredAt int64 // milliseconds since epoch
}
