// internal/workers/notification/notification-digest/config.go
package notificationdigest

import (
	"fmt"
	"time"

	"crm-notifications/internal/common/config"
)

type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
	Timeout      time.Duration
	// MaxGroups caps the group lines listed in a digest.
	MaxGroups int
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:   30 * time.Second,
		MaxGroups: 8,
	}
}

// ConfigFromApp derives the worker settings from the application config.
func ConfigFromApp(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	if wcfg, ok := cfg.Workers[TaskType]; ok && wcfg.Timeout > 0 {
		c.Timeout = time.Duration(wcfg.Timeout) * time.Millisecond
	}
	c.EmailEnabled = cfg.Integrations.AWS.SES.Enabled
	c.SMSEnabled = cfg.Integrations.AWS.SNS.Enabled
	return c
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxGroups <= 0 {
		return fmt.Errorf("max_groups must be positive")
	}
	return nil
}
