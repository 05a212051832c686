package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceIdentityValidateRejectsEmptyKey(t *testing.T) {
	err := DeviceIdentity{Name: "thermostat"}.Validate()
	assert.Error(t, err)
}

func TestDeviceIdentityValidateAcceptsKeyedIdentity(t *testing.T) {
	err := DeviceIdentity{Key: "D1", Name: "thermostat"}.Validate()
	assert.NoError(t, err)
}
