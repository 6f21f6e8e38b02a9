package factory

import (
	"testing"
	"time"

	"github.com/jacky-htg/webcall/libs/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfgFor(vendor string, settings map[string]map[string]string) *config.Config {
	if settings == nil {
		settings = map[string]map[string]string{}
	}
	return &config.Config{
		ProvisionerVendor:  vendor,
		VendorSettings:     settings,
		ProvisionerTimeout: 5 * time.Second,
	}
}

func TestNewProvisioner(t *testing.T) {
	tests := []struct {
		vendor string
		want   string
	}{
		{"", "retell"},
		{"retell", "retell"},
		{"local", "local"},
	}
	for _, tt := range tests {
		t.Run(tt.vendor, func(t *testing.T) {
			p, err := NewProvisioner(cfgFor(tt.vendor, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestNewProvisionerUnknownVendor(t *testing.T) {
	_, err := NewProvisioner(cfgFor("vapi", nil))
	assert.ErrorContains(t, err, `unknown provisioner vendor "vapi"`)

	_, err = NewProvisioner(nil)
	assert.Error(t, err)
}

func TestLocalTokenTTL(t *testing.T) {
	ttl, err := LocalTokenTTL(cfgFor("local", nil))
	require.NoError(t, err)
	assert.Zero(t, ttl)

	ttl, err = LocalTokenTTL(cfgFor("local", map[string]map[string]string{"local": {"ttl": "2m"}}))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, ttl)

	_, err = NewProvisioner(cfgFor("local", map[string]map[string]string{"local": {"ttl": "soon"}}))
	assert.ErrorContains(t, err, "invalid local token ttl")
}
