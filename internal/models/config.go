package models

import (
	"fmt"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultProbeTimeout bounds a single reachability probe.
const DefaultProbeTimeout = 1000 * time.Millisecond

// ScanConfig controls one scan run. It is copied at scan start, so later
// changes only affect the next run.
type ScanConfig struct {
	MaxConcurrency int           `json:"max_concurrency" validate:"min=1,max=4096"`
	ProbeTimeout   time.Duration `json:"probe_timeout" validate:"gt=0"`
	Capabilities   CapabilitySet `json:"capabilities"`
	AutoPersist    bool          `json:"auto_persist"`
}

// DefaultScanConfig returns the settings used when nothing is configured.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		MaxConcurrency: runtime.NumCPU(),
		ProbeTimeout:   DefaultProbeTimeout,
		Capabilities:   DefaultCapabilities,
		AutoPersist:    true,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags on the config.
func (c ScanConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid scan config: %w", err)
	}
	return nil
}
