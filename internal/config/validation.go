package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// Validate checks the named options from spec §9 are within sane ranges
// before the gateway accepts traffic.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validateRedis()...)
	errs = append(errs, c.validateRisk()...)
	errs = append(errs, c.validateGate()...)
	errs = append(errs, c.validateBroker()...)
	errs = append(errs, c.validateEmergency()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateDatabase() ValidationErrors {
	var errs ValidationErrors
	if c.Database.Host == "" {
		errs = append(errs, ValidationError{"database.host", "must not be empty"})
	}
	if c.Database.Port <= 0 {
		errs = append(errs, ValidationError{"database.port", "must be positive"})
	}
	return errs
}

func (c *Config) validateRedis() ValidationErrors {
	var errs ValidationErrors
	if c.Redis.Host == "" {
		errs = append(errs, ValidationError{"redis.host", "must not be empty"})
	}
	return errs
}

func (c *Config) validateRisk() ValidationErrors {
	var errs ValidationErrors
	if c.Risk.MaxPositions <= 0 {
		errs = append(errs, ValidationError{"risk.max_positions", "must be positive"})
	}
	if c.Risk.MaxRiskPerTradeFraction <= 0 || c.Risk.MaxRiskPerTradeFraction > 1 {
		errs = append(errs, ValidationError{"risk.max_risk_per_trade_fraction", "must be in (0, 1]"})
	}
	if c.Risk.MaxTotalRiskFraction < c.Risk.MaxRiskPerTradeFraction {
		errs = append(errs, ValidationError{"risk.max_total_risk_fraction", "must be >= max_risk_per_trade_fraction"})
	}
	if c.Risk.DDHaltThreshold <= c.Risk.DDReduceThreshold {
		errs = append(errs, ValidationError{"risk.dd_halt_threshold", "must be greater than dd_reduce_threshold"})
	}
	if c.Risk.KellyScale <= 0 || c.Risk.KellyScale > 1 {
		errs = append(errs, ValidationError{"risk.kelly_scale", "must be in (0, 1]"})
	}
	if c.Risk.MaxCorrelation <= 0 || c.Risk.MaxCorrelation > 1 {
		errs = append(errs, ValidationError{"risk.max_correlation", "must be in (0, 1]"})
	}
	return errs
}

func (c *Config) validateGate() ValidationErrors {
	var errs ValidationErrors
	if c.Gate.SignalRatePerMinute <= 0 {
		errs = append(errs, ValidationError{"gate.signal_rate_limit_per_minute", "must be positive"})
	}
	if c.Gate.SignalTimeoutS <= 0 {
		errs = append(errs, ValidationError{"gate.signal_timeout_s", "must be positive"})
	}
	return errs
}

func (c *Config) validateBroker() ValidationErrors {
	var errs ValidationErrors
	if c.Broker.HeartbeatS <= 0 {
		errs = append(errs, ValidationError{"broker.broker_heartbeat_s", "must be positive"})
	}
	if c.Broker.ReconnectMaxAttempts <= 0 {
		errs = append(errs, ValidationError{"broker.broker_reconnect_max_attempts", "must be positive"})
	}
	return errs
}

func (c *Config) validateEmergency() ValidationErrors {
	var errs ValidationErrors
	if c.Emergency.FlashCrashPct <= 0 {
		errs = append(errs, ValidationError{"emergency.flash_crash_pct", "must be positive"})
	}
	if c.Emergency.FlashCrashWindowS <= 0 {
		errs = append(errs, ValidationError{"emergency.flash_crash_window_s", "must be positive"})
	}
	return errs
}
