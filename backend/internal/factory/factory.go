package factory

import (
	"fmt"
	"time"

	"github.com/jacky-htg/webcall/libs/config"
	"github.com/jacky-htg/webcall/libs/interfaces"
	"github.com/jacky-htg/webcall/libs/vendors/local"
	"github.com/jacky-htg/webcall/libs/vendors/retell"
)

// NewProvisioner returns the provisioner selected by cfg.ProvisionerVendor.
func NewProvisioner(cfg *config.Config) (interfaces.Provisioner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	switch cfg.ProvisionerVendor {
	case "", "retell":
		// Allow endpoint override via VendorSettings["retell"]["base_url"]
		return retell.NewWithEndpoint(cfg.Vendor("retell", "base_url"), cfg.ProvisionerTimeout), nil
	case "local":
		ttl, err := LocalTokenTTL(cfg)
		if err != nil {
			return nil, err
		}
		return local.New(ttl), nil
	default:
		return nil, fmt.Errorf("unknown provisioner vendor %q", cfg.ProvisionerVendor)
	}
}

// LocalTokenTTL parses VendorSettings["local"]["ttl"]. Zero means the token default.
func LocalTokenTTL(cfg *config.Config) (time.Duration, error) {
	raw := cfg.Vendor("local", "ttl")
	if raw == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl < 0 {
		return 0, fmt.Errorf("invalid local token ttl %q", raw)
	}
	return ttl, nil
}
